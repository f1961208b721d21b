package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dvrsch/lensctl/internal/transport"
	"github.com/dvrsch/lensctl/internal/wire"
)

var ErrInvalidConfig = errors.New("remote: invalid device config")

// Display receives the sealed text once per render tick. Rendering the
// same text again is allowed; implementations dedupe if they care.
type Display interface {
	Render(text string)
}

// Battery reports charge percent, 0 to 100.
type Battery interface {
	Level() int
}

type DeviceConfig struct {
	// RenderInterval paces the render loop; ingestion runs at link
	// speed regardless.
	RenderInterval time.Duration

	// TelemetryEvery is the minimum gap between battery frames. The
	// gate is elapsed time checked inside the render tick, not a
	// second timer.
	TelemetryEvery time.Duration

	Display Display
	Battery Battery
}

func (c DeviceConfig) WithDefaults() DeviceConfig {
	if c.RenderInterval <= 0 {
		c.RenderInterval = 200 * time.Millisecond
	}
	if c.TelemetryEvery <= 0 {
		c.TelemetryEvery = 10 * time.Second
	}
	return c
}

func (c DeviceConfig) Validate() error {
	if c.Display == nil {
		return fmt.Errorf("%w: display collaborator required", ErrInvalidConfig)
	}
	return nil
}

// Device is the simulated peripheral: it reassembles chunked messages,
// renders them, answers commands through its interpreter, and emits
// battery telemetry. One Device drives exactly one connection.
type Device struct {
	cfg    DeviceConfig
	conn   transport.Conn
	limits wire.Limits
	reasm  *Reassembler
	interp *Interp
	log    zerolog.Logger

	lastTelemetry time.Time
}

func NewDevice(conn transport.Conn, cfg DeviceConfig) (*Device, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Device{
		cfg:    cfg,
		conn:   conn,
		limits: wire.DefaultLimits(),
		reasm:  &Reassembler{},
		interp: NewInterp(),
		log:    log.With().Str("component", "device").Logger(),
	}, nil
}

// Interp exposes the interpreter, mostly so tests and the simulator
// can inspect the file store.
func (d *Device) Interp() *Interp { return d.interp }

// Run drives the peripheral until ctx ends or the link drops. The
// zero value of lastTelemetry makes the first render tick send battery
// state right away.
func (d *Device) Run(ctx context.Context) error {
	mtu := wire.MinMTU
	if m, err := d.conn.NegotiateMTU(ctx); err == nil && m > 0 {
		mtu = m
	}
	d.limits = wire.LimitsFor(mtu)
	d.log.Info().Int("mtu", mtu).Int("max_string", d.limits.MaxString).Msg("device up")

	ticker := time.NewTicker(d.cfg.RenderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.conn.Done():
			return d.conn.Err()
		case raw, ok := <-d.conn.Notifications():
			if !ok {
				return d.conn.Err()
			}
			d.ingest(ctx, raw)
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Device) ingest(ctx context.Context, raw []byte) {
	f, err := wire.Decode(raw)
	if err != nil {
		d.log.Warn().Err(err).Int("len", len(raw)).Msg("undecodable frame")
		return
	}
	switch f.Kind {
	case wire.KindData:
		d.reasm.Ingest(f)
	case wire.KindPlain:
		d.reply(ctx, d.interp.Exec(f.Text))
	case wire.KindSignal:
		switch f.Signal {
		case wire.SignalBreak:
			d.interp.Break()
			d.reasm.Interrupt()
			d.log.Debug().Msg("break")
		case wire.SignalReset:
			d.interp.Reset()
			d.reasm.Reset()
			d.log.Debug().Msg("reset")
		}
	}
}

// reply sends console output back in frame-sized pieces.
func (d *Device) reply(ctx context.Context, text string) {
	for len(text) > 0 {
		n := d.limits.MaxString
		if n > len(text) {
			n = len(text)
		}
		raw, err := wire.EncodeControl(text[:n], d.limits)
		if err != nil {
			d.log.Warn().Err(err).Msg("console output dropped")
			return
		}
		if err := d.conn.Write(ctx, raw); err != nil {
			d.log.Warn().Err(err).Msg("reply write failed")
			return
		}
		text = text[n:]
	}
}

func (d *Device) tick(ctx context.Context) {
	d.cfg.Display.Render(d.reasm.Sealed())

	if d.cfg.Battery == nil || time.Since(d.lastTelemetry) < d.cfg.TelemetryEvery {
		return
	}
	raw, err := wire.EncodeTelemetry(d.cfg.Battery.Level(), d.limits)
	if err != nil {
		d.log.Warn().Err(err).Msg("telemetry encode failed")
		return
	}
	if err := d.conn.Write(ctx, raw); err != nil {
		d.log.Warn().Err(err).Msg("telemetry write failed")
		return
	}
	d.lastTelemetry = time.Now()
}
