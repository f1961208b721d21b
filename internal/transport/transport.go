package transport

import (
	"context"
	"errors"
)

var (
	ErrTransportUnavailable = errors.New("transport: adapter unavailable")
	ErrDiscoveryTimeout     = errors.New("transport: discovery timed out")
	ErrIncompleteService    = errors.New("transport: service missing required characteristics")
	ErrClosed               = errors.New("transport: connection closed")
)

// Candidate is one discoverable peripheral. ID is the stable identity
// Connect accepts, and the one the session remembers for reconnects.
type Candidate struct {
	ID   string
	Name string
	RSSI int
}

// Transport produces connections to one kind of link.
type Transport interface {
	// Scan streams discovered candidates until the stop function is
	// called or ctx ends. The channel closes when discovery stops.
	Scan(ctx context.Context) (<-chan Candidate, func(), error)

	// Connect dials a candidate by ID. Reconnects use the same call
	// with the remembered ID and skip Scan entirely.
	Connect(ctx context.Context, id string) (Conn, error)
}

// Conn is one live link to a peripheral. Write is never called
// concurrently; serialization happens in the session layer.
type Conn interface {
	ID() string
	Name() string

	// NegotiateMTU is best effort: an error means the caller keeps the
	// protocol-minimum MTU, not that the connection failed.
	NegotiateMTU(ctx context.Context) (int, error)

	// ResolveService locates the peripheral's command and response
	// characteristics and enables notifications. Anything less than
	// both characteristics fails with ErrIncompleteService.
	ResolveService(ctx context.Context) error

	Write(ctx context.Context, raw []byte) error

	// Notifications delivers inbound raw frames. The channel closes
	// when the link is gone.
	Notifications() <-chan []byte

	// Done is closed when the transport reports link loss; Err then
	// reports the cause.
	Done() <-chan struct{}
	Err() error

	Close() error
}
