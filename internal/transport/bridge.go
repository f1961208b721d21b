package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bridge framing: a 4-byte hello from the accepting side
// ('L', 'B', MTU as big-endian uint16), then length-prefixed frames
// (4-byte big-endian length + payload) in both directions.
const (
	bridgeDialTimeout   = 5 * time.Second
	bridgeHelloTimeout  = 5 * time.Second
	bridgeFrameChanSize = 256
	bridgeMaxFrame      = 8192

	bridgeMagic0 byte = 'L'
	bridgeMagic1 byte = 'B'
)

// Bridge is the host side of the TCP development link. It satisfies
// Transport with a single candidate: its configured endpoint.
type Bridge struct {
	addr string
	log  zerolog.Logger
}

func NewBridge(addr string) *Bridge {
	return &Bridge{
		addr: addr,
		log:  log.With().Str("component", "transport.bridge").Logger(),
	}
}

func (b *Bridge) Scan(ctx context.Context) (<-chan Candidate, func(), error) {
	if b.addr == "" {
		return nil, nil, fmt.Errorf("%w: no bridge address configured", ErrTransportUnavailable)
	}
	out := make(chan Candidate, 1)
	out <- Candidate{ID: b.addr, Name: "bridge"}
	close(out)
	return out, func() {}, nil
}

func (b *Bridge) Connect(ctx context.Context, id string) (Conn, error) {
	dialer := net.Dialer{Timeout: bridgeDialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", id)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransportUnavailable, id, err)
	}

	mtu, err := readHello(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: hello from %s: %v", ErrTransportUnavailable, id, err)
	}

	c := newBridgeConn(id, nc, mtu, b.log)
	b.log.Debug().Str("peer", id).Int("mtu", mtu).Msg("bridge connected")
	return c, nil
}

func readHello(nc net.Conn) (int, error) {
	nc.SetReadDeadline(time.Now().Add(bridgeHelloTimeout))
	defer nc.SetReadDeadline(time.Time{})

	var hello [4]byte
	if _, err := io.ReadFull(nc, hello[:]); err != nil {
		return 0, err
	}
	if hello[0] != bridgeMagic0 || hello[1] != bridgeMagic1 {
		return 0, fmt.Errorf("bad magic 0x%02x%02x", hello[0], hello[1])
	}
	return int(binary.BigEndian.Uint16(hello[2:4])), nil
}

func writeHello(nc net.Conn, mtu int) error {
	var hello [4]byte
	hello[0] = bridgeMagic0
	hello[1] = bridgeMagic1
	binary.BigEndian.PutUint16(hello[2:4], uint16(mtu))
	_, err := nc.Write(hello[:])
	return err
}

type bridgeConn struct {
	id   string
	conn net.Conn
	mtu  int
	log  zerolog.Logger

	writeMu sync.Mutex
	frames  chan []byte
	done    chan struct{}

	failOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func newBridgeConn(id string, nc net.Conn, mtu int, logger zerolog.Logger) *bridgeConn {
	c := &bridgeConn{
		id:     id,
		conn:   nc,
		mtu:    mtu,
		log:    logger,
		frames: make(chan []byte, bridgeFrameChanSize),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *bridgeConn) ID() string   { return c.id }
func (c *bridgeConn) Name() string { return "bridge " + c.conn.RemoteAddr().String() }

func (c *bridgeConn) NegotiateMTU(ctx context.Context) (int, error) {
	if c.mtu <= 0 {
		return 0, fmt.Errorf("bridge: peer advertised no mtu")
	}
	return c.mtu, nil
}

// ResolveService is satisfied by the hello exchange: a bridge peer has
// exactly the command/response pair by construction.
func (c *bridgeConn) ResolveService(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	default:
		return nil
	}
}

func (c *bridgeConn) Write(ctx context.Context, raw []byte) error {
	if len(raw) == 0 || len(raw) > bridgeMaxFrame {
		return fmt.Errorf("bridge: frame length %d out of range", len(raw))
	}
	select {
	case <-c.done:
		return c.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if d, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(d)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	buf := make([]byte, 4+len(raw))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(raw)))
	copy(buf[4:], raw)
	if _, err := c.conn.Write(buf); err != nil {
		c.fail(err)
		return fmt.Errorf("bridge: write: %w", err)
	}
	return nil
}

func (c *bridgeConn) Notifications() <-chan []byte { return c.frames }
func (c *bridgeConn) Done() <-chan struct{}        { return c.done }

func (c *bridgeConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *bridgeConn) Close() error {
	c.fail(ErrClosed)
	return c.conn.Close()
}

func (c *bridgeConn) fail(err error) {
	c.failOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *bridgeConn) readLoop() {
	defer close(c.frames)

	hdr := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.conn, hdr); err != nil {
			c.fail(err)
			return
		}
		n := binary.BigEndian.Uint32(hdr)
		if n == 0 || n > bridgeMaxFrame {
			c.fail(fmt.Errorf("bridge: inbound frame length %d out of range", n))
			c.conn.Close()
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.conn, buf); err != nil {
			c.fail(err)
			return
		}
		select {
		case c.frames <- buf:
		default:
			c.log.Warn().Str("peer", c.id).Msg("notification buffer full, dropping frame")
		}
	}
}
