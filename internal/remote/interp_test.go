package remote

import (
	"context"
	"strings"
	"testing"

	"github.com/dvrsch/lensctl/internal/uploader"
	"github.com/dvrsch/lensctl/internal/wire"
)

func TestInterpUploadVocabulary(t *testing.T) {
	p := NewInterp()

	if got := p.Exec(`f=file.open('main.py','w');print('\x02')`); got != sentinel {
		t.Fatalf("open echo: %q", got)
	}
	if got := p.Exec(`f.write('line one\n');print('\x02')`); got != sentinel {
		t.Fatalf("write echo: %q", got)
	}
	if got := p.Exec(`f.write('it\'s fine');print('\x02')`); got != sentinel {
		t.Fatalf("write echo: %q", got)
	}
	if got := p.Exec(`f.close();print('\x02')`); got != sentinel {
		t.Fatalf("close echo: %q", got)
	}

	content, ok := p.File("main.py")
	if !ok || string(content) != "line one\nit's fine" {
		t.Fatalf("stored file: %q ok=%v", content, ok)
	}
}

func TestInterpWriteWithoutOpenFails(t *testing.T) {
	p := NewInterp()
	if got := p.Exec(`f.write('orphan');print('\x02')`); got == sentinel {
		t.Fatalf("write without open must not echo the sentinel")
	}
	if got := p.Exec(`f.close();print('\x02')`); got == sentinel {
		t.Fatalf("close without open must not echo the sentinel")
	}
}

func TestInterpEchoesUnknownCommands(t *testing.T) {
	p := NewInterp()
	for _, line := range []string{"print('hi')", "1 + 1", "import device"} {
		if got := p.Exec(line); got != line {
			t.Fatalf("echo of %q: %q", line, got)
		}
	}
}

func TestInterpBreakDropsPartialWrite(t *testing.T) {
	p := NewInterp()
	p.Exec(`f=file.open('app.py','w');print('\x02')`)
	p.Exec(`f.write('half');print('\x02')`)
	p.Break()
	if got := p.Exec(`f.close();print('\x02')`); got == sentinel {
		t.Fatalf("close after break must fail, got sentinel")
	}
	if _, ok := p.File("app.py"); ok {
		t.Fatalf("interrupted upload must not commit a file")
	}
}

func TestInterpResetClearsFileStore(t *testing.T) {
	p := NewInterp()
	p.Exec(`f=file.open('app.py','w');print('\x02')`)
	p.Exec(`f.write('body');print('\x02')`)
	p.Exec(`f.close();print('\x02')`)
	if _, ok := p.File("app.py"); !ok {
		t.Fatalf("file missing before reset")
	}
	p.Reset()
	if _, ok := p.File("app.py"); ok {
		t.Fatalf("reset must wipe the file store")
	}
}

// interpControl wires the host uploader straight into the interpreter,
// skipping the link: what SendControl writes, Exec answers.
type interpControl struct {
	interp *Interp
	mtu    int
}

func (c interpControl) SendControl(ctx context.Context, text string) (string, error) {
	return c.interp.Exec(text), nil
}

func (c interpControl) Limits() (wire.Limits, error) {
	return wire.LimitsFor(c.mtu), nil
}

func TestUploadRoundTripThroughInterp(t *testing.T) {
	content := "import display\n" +
		`display.text("he said \"hi\"", 0, 0)` + "\n" +
		`path = 'C:\\tmp\\x'` + "\n" +
		strings.Repeat("# pad line with specials \\ ' \" \n", 6)

	for _, mtu := range []int{48, 64, 128, 247} {
		p := NewInterp()
		u, err := uploader.New(interpControl{interp: p, mtu: mtu}, uploader.Config{})
		if err != nil {
			t.Fatalf("mtu %d: new uploader: %v", mtu, err)
		}
		if err := u.Upload(context.Background(), "app.py", content); err != nil {
			t.Fatalf("mtu %d: upload: %v", mtu, err)
		}
		got, ok := p.File("app.py")
		if !ok || string(got) != content {
			t.Fatalf("mtu %d: stored content differs:\n got %q\nwant %q", mtu, got, content)
		}
	}
}
