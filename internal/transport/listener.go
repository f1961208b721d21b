package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Listener is the peripheral side of the TCP bridge. The simulator
// accepts one host at a time and speaks the same framed link.
type Listener struct {
	ln  net.Listener
	mtu int
	log zerolog.Logger
}

func Listen(addr string, mtu int) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", ErrTransportUnavailable, addr, err)
	}
	return &Listener{
		ln:  ln,
		mtu: mtu,
		log: log.With().Str("component", "transport.listener").Logger(),
	}, nil
}

func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Accept blocks for the next host, advertises the MTU, and returns the
// live link.
func (l *Listener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		nc  net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := l.ln.Accept()
		ch <- result{nc, err}
	}()

	select {
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: accept: %v", ErrTransportUnavailable, r.err)
		}
		if err := writeHello(r.nc, l.mtu); err != nil {
			r.nc.Close()
			return nil, fmt.Errorf("%w: hello: %v", ErrTransportUnavailable, err)
		}
		id := r.nc.RemoteAddr().String()
		l.log.Debug().Str("peer", id).Int("mtu", l.mtu).Msg("host attached")
		return newBridgeConn(id, r.nc, l.mtu, l.log), nil
	}
}

func (l *Listener) Close() error { return l.ln.Close() }
