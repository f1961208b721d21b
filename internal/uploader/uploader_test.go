package uploader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dvrsch/lensctl/internal/testutil/testlog"
	"github.com/dvrsch/lensctl/internal/wire"
)

// fakeControl scripts the control channel: every command is recorded,
// and reply decides what comes back (sentinel echo by default).
type fakeControl struct {
	mtu   int
	cmds  []string
	reply func(i int, cmd string) (string, error)
}

func (f *fakeControl) SendControl(ctx context.Context, text string) (string, error) {
	f.cmds = append(f.cmds, text)
	if f.reply != nil {
		return f.reply(len(f.cmds)-1, text)
	}
	return string(wire.SentinelOK), nil
}

func (f *fakeControl) Limits() (wire.Limits, error) {
	return wire.LimitsFor(f.mtu), nil
}

func newUploader(t *testing.T, ctrl Control, cfg Config) *Uploader {
	t.Helper()
	u, err := New(ctrl, cfg)
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	return u
}

func TestUploadRoundTrip(t *testing.T) {
	testlog.Start(t)
	ctrl := &fakeControl{mtu: 64}
	var progress []string
	u := newUploader(t, ctrl, Config{
		OnChunk: func(sent, total int) { progress = append(progress, fmt.Sprintf("%d/%d", sent, total)) },
	})

	content := "print('hi')\nx = \"a\\b\"\n" + strings.Repeat("pad \\' ", 12)
	if err := u.Upload(context.Background(), "main.py", content); err != nil {
		t.Fatalf("upload: %v", err)
	}

	cmds := ctrl.cmds
	if len(cmds) < 3 {
		t.Fatalf("command count: %d", len(cmds))
	}
	if want := `f=file.open('main.py','w');print('\x02')`; cmds[0] != want {
		t.Fatalf("open command: %q", cmds[0])
	}
	if want := `f.close();print('\x02')`; cmds[len(cmds)-1] != want {
		t.Fatalf("close command: %q", cmds[len(cmds)-1])
	}

	limits := wire.LimitsFor(64)
	const prefix = "f.write('"
	const suffix = `');print('\x02')`
	var joined strings.Builder
	for _, cmd := range cmds[1 : len(cmds)-1] {
		if len(cmd) > limits.MaxString {
			t.Fatalf("command exceeds frame limit: %d bytes", len(cmd))
		}
		if !strings.HasPrefix(cmd, prefix) || !strings.HasSuffix(cmd, suffix) {
			t.Fatalf("write command shape: %q", cmd)
		}
		joined.WriteString(cmd[len(prefix) : len(cmd)-len(suffix)])
	}
	if got := Unescape(joined.String()); got != content {
		t.Fatalf("reassembled content differs:\n got %q\nwant %q", got, content)
	}

	writes := len(cmds) - 2
	if len(progress) != writes || progress[len(progress)-1] != fmt.Sprintf("%d/%d", writes, writes) {
		t.Fatalf("progress: %v", progress)
	}
}

func TestUploadEchoMismatchAbortsWithoutClose(t *testing.T) {
	testlog.Start(t)
	ctrl := &fakeControl{mtu: 64}
	failAt := 3 // open + two good writes, then a bad echo
	ctrl.reply = func(i int, cmd string) (string, error) {
		if i == failAt {
			return "Traceback (most recent call last)", nil
		}
		return string(wire.SentinelOK), nil
	}
	u := newUploader(t, ctrl, Config{})

	err := u.Upload(context.Background(), "main.py", strings.Repeat("abcdefgh ", 40))
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if got := len(ctrl.cmds); got != failAt+1 {
		t.Fatalf("commands after abort: %d want %d", got, failAt+1)
	}
	for _, cmd := range ctrl.cmds {
		if strings.Contains(cmd, "close") {
			t.Fatalf("close command sent after failed write: %q", cmd)
		}
	}
}

func TestUploadOpenRejectionIsFatal(t *testing.T) {
	testlog.Start(t)
	ctrl := &fakeControl{mtu: 64}
	ctrl.reply = func(i int, cmd string) (string, error) {
		return "no such directory", nil
	}
	u := newUploader(t, ctrl, Config{})

	err := u.Upload(context.Background(), "main.py", "content")
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if got := len(ctrl.cmds); got != 1 {
		t.Fatalf("commands after rejected open: %d", got)
	}
}

func TestUploadWrapsTransportCause(t *testing.T) {
	testlog.Start(t)
	cause := errors.New("control response timed out")
	ctrl := &fakeControl{mtu: 64}
	ctrl.reply = func(i int, cmd string) (string, error) {
		if i == 0 {
			return string(wire.SentinelOK), nil
		}
		return "", cause
	}
	u := newUploader(t, ctrl, Config{})

	err := u.Upload(context.Background(), "main.py", "content")
	if !errors.Is(err, ErrUploadFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrUploadFailed wrapping cause, got %v", err)
	}
}

func TestUploadFrameTooSmallForWriteCommand(t *testing.T) {
	testlog.Start(t)
	ctrl := &fakeControl{mtu: 23} // MaxString 20, write overhead alone is larger
	u := newUploader(t, ctrl, Config{})

	err := u.Upload(context.Background(), "main.py", "content")
	if !errors.Is(err, ErrUploadFailed) || !errors.Is(err, ErrFrameTooSmall) {
		t.Fatalf("expected ErrFrameTooSmall, got %v", err)
	}
	if len(ctrl.cmds) != 0 {
		t.Fatalf("no command should go out, got %v", ctrl.cmds)
	}
}

func TestUploadEmptyContent(t *testing.T) {
	testlog.Start(t)
	ctrl := &fakeControl{mtu: 64}
	u := newUploader(t, ctrl, Config{})

	if err := u.Upload(context.Background(), "empty.py", ""); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got := len(ctrl.cmds); got != 2 {
		// open and close, no writes
		t.Fatalf("commands: %v", ctrl.cmds)
	}
}

func TestConfigValidation(t *testing.T) {
	testlog.Start(t)
	ctrl := &fakeControl{mtu: 64}
	if _, err := New(ctrl, Config{OpenCommand: "open with no slot"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := New(ctrl, Config{CloseCommand: "close %s"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
