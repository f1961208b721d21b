package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dvrsch/lensctl/internal/observability"
	"github.com/dvrsch/lensctl/internal/wire"
)

var (
	ErrUploadFailed  = errors.New("uploader: upload failed")
	ErrFrameTooSmall = errors.New("uploader: negotiated frame cannot carry a write command")
	ErrInvalidConfig = errors.New("uploader: invalid config")
)

// Control is the serialized request/response primitive uploads ride
// on. *session.Session satisfies it.
type Control interface {
	SendControl(ctx context.Context, text string) (string, error)
	Limits() (wire.Limits, error)
}

// Config holds the peripheral interpreter's file-transfer vocabulary.
// The command syntax is interpreter-specific; only the sentinel echo
// after each command is load-bearing.
type Config struct {
	// OpenCommand and WriteCommand are format strings taking one %s:
	// the escaped file name and the escaped content chunk.
	OpenCommand  string
	WriteCommand string
	CloseCommand string

	// Sentinel is the exact echo that confirms a command.
	Sentinel string

	// OnChunk reports progress after each confirmed write.
	OnChunk func(sent, total int)
}

func DefaultConfig() Config {
	return Config{
		OpenCommand:  `f=file.open('%s','w');print('\x02')`,
		WriteCommand: `f.write('%s');print('\x02')`,
		CloseCommand: `f.close();print('\x02')`,
		Sentinel:     string(wire.SentinelOK),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.OpenCommand == "" {
		c.OpenCommand = d.OpenCommand
	}
	if c.WriteCommand == "" {
		c.WriteCommand = d.WriteCommand
	}
	if c.CloseCommand == "" {
		c.CloseCommand = d.CloseCommand
	}
	if c.Sentinel == "" {
		c.Sentinel = d.Sentinel
	}
	return c
}

func (c Config) Validate() error {
	if strings.Count(c.OpenCommand, "%s") != 1 {
		return fmt.Errorf("%w: open command needs exactly one %%s", ErrInvalidConfig)
	}
	if strings.Count(c.WriteCommand, "%s") != 1 {
		return fmt.Errorf("%w: write command needs exactly one %%s", ErrInvalidConfig)
	}
	if strings.Contains(c.CloseCommand, "%s") {
		return fmt.Errorf("%w: close command takes no argument", ErrInvalidConfig)
	}
	if c.Sentinel == "" {
		return fmt.Errorf("%w: empty sentinel", ErrInvalidConfig)
	}
	return nil
}

// Uploader writes one file per Upload call. Safe for concurrent use
// only in the sense that the control path serializes commands; two
// concurrent Uploads would interleave their commands and corrupt both
// files, so callers run one at a time.
type Uploader struct {
	ctrl Control
	cfg  Config
	log  zerolog.Logger
}

func New(ctrl Control, cfg Config) (*Uploader, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Uploader{
		ctrl: ctrl,
		cfg:  cfg,
		log:  log.With().Str("component", "uploader").Logger(),
	}, nil
}

// Upload opens name for write on the peripheral, streams content in
// escaped chunks sized to the negotiated frame limit, and closes the
// file. Every command must come back as the sentinel echo; anything
// else aborts the upload immediately, and after a failed write no
// close command goes out, so the peripheral file must be assumed
// truncated.
func (u *Uploader) Upload(ctx context.Context, name, content string) error {
	limits, err := u.ctrl.Limits()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	size := limits.MaxString - len(fmt.Sprintf(u.cfg.WriteCommand, ""))
	if size < 2 {
		observability.RecordUploadFailure()
		return fmt.Errorf("%w: %w: max string %d", ErrUploadFailed, ErrFrameTooSmall, limits.MaxString)
	}

	escaped := Escape(content)
	var chunks []string
	if escaped != "" {
		chunks = splitEscaped(escaped, size)
	}
	u.log.Info().
		Str("name", name).
		Int("bytes", len(content)).
		Int("chunks", len(chunks)).
		Int("chunk_size", size).
		Msg("upload starting")

	if err := u.command(ctx, fmt.Sprintf(u.cfg.OpenCommand, Escape(name))); err != nil {
		observability.RecordUploadFailure()
		return fmt.Errorf("%w: open %q: %w", ErrUploadFailed, name, err)
	}

	for i, chunk := range chunks {
		if err := u.command(ctx, fmt.Sprintf(u.cfg.WriteCommand, chunk)); err != nil {
			observability.RecordUploadFailure()
			return fmt.Errorf("%w: write %d/%d: %w", ErrUploadFailed, i+1, len(chunks), err)
		}
		observability.RecordUploadChunk()
		u.log.Debug().Int("chunk", i+1).Int("of", len(chunks)).Msg("chunk confirmed")
		if u.cfg.OnChunk != nil {
			u.cfg.OnChunk(i+1, len(chunks))
		}
	}

	if err := u.command(ctx, u.cfg.CloseCommand); err != nil {
		observability.RecordUploadFailure()
		return fmt.Errorf("%w: close %q: %w", ErrUploadFailed, name, err)
	}
	u.log.Info().Str("name", name).Msg("upload complete")
	return nil
}

// command runs one control round trip and requires the sentinel echo.
func (u *Uploader) command(ctx context.Context, cmd string) error {
	resp, err := u.ctrl.SendControl(ctx, cmd)
	if err != nil {
		return err
	}
	if resp != u.cfg.Sentinel {
		return fmt.Errorf("unexpected response %q", resp)
	}
	return nil
}
