// Package fakelink is a scripted in-memory transport for tests: writes
// are recorded, responses are injected, and link loss is a method call.
package fakelink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvrsch/lensctl/internal/transport"
)

type Link struct {
	id   string
	name string
	mtu  int

	MTUErr     error
	ResolveErr error

	mu        sync.Mutex
	writes    [][]byte
	writeErr  error
	responder func(i int, raw []byte) [][]byte

	frames chan []byte
	done   chan struct{}
	err    error

	failOnce sync.Once
}

func New(mtu int) *Link {
	return &Link{
		id:     "AA:BB:CC:DD:EE:FF",
		name:   "fake lens",
		mtu:    mtu,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (l *Link) ID() string   { return l.id }
func (l *Link) Name() string { return l.name }

func (l *Link) NegotiateMTU(ctx context.Context) (int, error) {
	if l.MTUErr != nil {
		return 0, l.MTUErr
	}
	return l.mtu, nil
}

func (l *Link) ResolveService(ctx context.Context) error { return l.ResolveErr }

func (l *Link) Write(ctx context.Context, raw []byte) error {
	select {
	case <-l.done:
		return l.Err()
	default:
	}

	l.mu.Lock()
	if l.writeErr != nil {
		err := l.writeErr
		l.mu.Unlock()
		return err
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	l.writes = append(l.writes, buf)
	i := len(l.writes) - 1
	responder := l.responder
	l.mu.Unlock()

	if responder != nil {
		for _, f := range responder(i, buf) {
			l.Notify(f)
		}
	}
	return nil
}

func (l *Link) Notifications() <-chan []byte { return l.frames }
func (l *Link) Done() <-chan struct{}        { return l.done }

func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Link) Close() error {
	l.fail(transport.ErrClosed)
	return nil
}

// Notify injects one inbound frame.
func (l *Link) Notify(raw []byte) {
	select {
	case l.frames <- raw:
	case <-l.done:
	}
}

// Drop simulates transport-reported link loss.
func (l *Link) Drop(err error) {
	if err == nil {
		err = fmt.Errorf("fakelink: dropped")
	}
	l.fail(err)
}

// SetResponder scripts inbound frames per write: the function receives
// the zero-based write index and the written bytes, and every returned
// frame is injected as a notification.
func (l *Link) SetResponder(fn func(i int, raw []byte) [][]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responder = fn
}

func (l *Link) FailWrites(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErr = err
}

// Writes copies the recorded raw writes.
func (l *Link) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.writes))
	for i, w := range l.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// fail closes done only; frames stays open because notifications can
// race the drop, and readers always select on Done as well.
func (l *Link) fail(err error) {
	l.failOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}

// Transport wraps a Link with a scripted discovery phase.
type Transport struct {
	Link       *Link
	Candidates []transport.Candidate

	// CandidateDelay postpones the first candidate; ConnectDelay
	// stretches Connect. Both exist so lifecycle tests can overlap
	// timers with specific states.
	CandidateDelay time.Duration
	ConnectDelay   time.Duration
	ScanErr        error
	ConnectErr     error

	mu        sync.Mutex
	connected []string
}

func NewTransport(link *Link, candidates ...transport.Candidate) *Transport {
	if len(candidates) == 0 {
		candidates = []transport.Candidate{{ID: link.id, Name: link.name, RSSI: -42}}
	}
	return &Transport{Link: link, Candidates: candidates}
}

func (t *Transport) Scan(ctx context.Context) (<-chan transport.Candidate, func(), error) {
	if t.ScanErr != nil {
		return nil, nil, t.ScanErr
	}
	out := make(chan transport.Candidate, len(t.Candidates))
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(stopped) }) }

	go func() {
		defer close(out)
		if t.CandidateDelay > 0 {
			select {
			case <-time.After(t.CandidateDelay):
			case <-stopped:
				return
			case <-ctx.Done():
				return
			}
		}
		for _, c := range t.Candidates {
			select {
			case out <- c:
			case <-stopped:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, stop, nil
}

func (t *Transport) Connect(ctx context.Context, id string) (transport.Conn, error) {
	if t.ConnectDelay > 0 {
		select {
		case <-time.After(t.ConnectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	t.mu.Lock()
	t.connected = append(t.connected, id)
	t.mu.Unlock()
	return t.Link, nil
}

// Connected reports the IDs Connect was called with, in order.
func (t *Transport) Connected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.connected...)
}
