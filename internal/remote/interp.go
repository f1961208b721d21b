package remote

import (
	"strings"
	"sync"

	"github.com/dvrsch/lensctl/internal/uploader"
	"github.com/dvrsch/lensctl/internal/wire"
)

// Command shapes the interpreter recognizes. They mirror the host
// uploader's default vocabulary; everything else echoes back verbatim.
const (
	openPrefix  = `f=file.open('`
	openSuffix  = `','w');print('\x02')`
	writePrefix = `f.write('`
	writeSuffix = `');print('\x02')`
	closeLine   = `f.close();print('\x02')`
)

var sentinel = string(wire.SentinelOK)

// Interp is the slice of the peripheral interpreter the protocol
// relies on: an in-memory file store behind the open/write/close
// vocabulary, sentinel echoes on success, and verbatim echo for any
// other command line.
type Interp struct {
	mu    sync.Mutex
	files map[string][]byte
	open  string
	buf   []byte
}

func NewInterp() *Interp {
	return &Interp{files: make(map[string][]byte)}
}

// Exec runs one command line and returns its console output.
func (p *Interp) Exec(line string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case hasShape(line, openPrefix, openSuffix):
		p.open = uploader.Unescape(carve(line, openPrefix, openSuffix))
		p.buf = p.buf[:0]
		return sentinel
	case hasShape(line, writePrefix, writeSuffix):
		if p.open == "" {
			return "Traceback: write to closed file"
		}
		p.buf = append(p.buf, uploader.Unescape(carve(line, writePrefix, writeSuffix))...)
		return sentinel
	case line == closeLine:
		if p.open == "" {
			return "Traceback: close without open"
		}
		p.files[p.open] = append([]byte(nil), p.buf...)
		p.open = ""
		p.buf = p.buf[:0]
		return sentinel
	default:
		return line
	}
}

// Break interrupts the running program: an open file handle is dropped
// without committing its bytes.
func (p *Interp) Break() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = ""
	p.buf = p.buf[:0]
}

// Reset restarts the interpreter and wipes the file store.
func (p *Interp) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = make(map[string][]byte)
	p.open = ""
	p.buf = p.buf[:0]
}

// File returns a committed file's content.
func (p *Interp) File(name string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.files[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

func hasShape(line, prefix, suffix string) bool {
	return len(line) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(line, prefix) &&
		strings.HasSuffix(line, suffix)
}

func carve(line, prefix, suffix string) string {
	return line[len(prefix) : len(line)-len(suffix)]
}
