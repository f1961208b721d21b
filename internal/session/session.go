package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dvrsch/lensctl/internal/observability"
	"github.com/dvrsch/lensctl/internal/transport"
	"github.com/dvrsch/lensctl/internal/wire"
)

var (
	ErrDisconnected    = errors.New("session: disconnected")
	ErrResponseTimeout = errors.New("session: control response timed out")
	ErrNotReady        = errors.New("session: no connected peripheral")
	ErrInvalidState    = errors.New("session: operation not valid in current state")
)

// Session drives one peripheral over a Transport. All exported methods
// are safe for concurrent use; raw writes and control round trips are
// serialized internally.
type Session struct {
	cfg Config
	tr  transport.Transport
	log zerolog.Logger

	mu           sync.Mutex
	state        State
	scanEpoch    int
	conn         transport.Conn
	limits       wire.Limits
	mtu          int
	deviceID     string
	deviceName   string
	battery      int
	pending      chan wire.Frame
	pendingAbort chan error
	streamStop   chan struct{}
	streamDone   chan struct{}

	// ctrlMu serializes control round trips (single outstanding
	// request); msgMu keeps chunks of one logical message together;
	// writeMu is the only path to Conn.Write.
	ctrlMu  sync.Mutex
	msgMu   sync.Mutex
	writeMu sync.Mutex
}

// Status is a point-in-time snapshot for operators.
type Status struct {
	State      State  `json:"state"`
	DeviceID   string `json:"device_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	MTU        int    `json:"mtu,omitempty"`
	MaxString  int    `json:"max_string_frame,omitempty"`
	MaxData    int    `json:"max_data_frame,omitempty"`
	Battery    int    `json:"battery,omitempty"`
}

func New(tr transport.Transport, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:     cfg,
		tr:      tr,
		log:     log.With().Str("component", "session").Logger(),
		state:   StateDisconnected,
		battery: -1,
		limits:  wire.DefaultLimits(),
	}, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:      s.state,
		DeviceID:   s.deviceID,
		DeviceName: s.deviceName,
	}
	if s.state.Connected() {
		st.MTU = s.mtu
		st.MaxString = s.limits.MaxString
		st.MaxData = s.limits.MaxData
	}
	if s.battery >= 0 {
		st.Battery = s.battery
	}
	return st
}

// Limits returns the negotiated frame limits for the live connection.
func (s *Session) Limits() (wire.Limits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Connected() {
		return wire.Limits{}, ErrNotReady
	}
	return s.limits, nil
}

// RememberedDevice is the identity of the last successful connect.
func (s *Session) RememberedDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

func (s *Session) setStateLocked(next State) (State, State) {
	old := s.state
	s.state = next
	return old, next
}

func (s *Session) notifyState(old, next State) {
	if old == next {
		return
	}
	s.log.Info().Str("from", old.String()).Str("to", next.String()).Msg("state")
	observability.SetSessionState(int(next))
	if cb := s.cfg.OnState; cb != nil {
		cb(old, next)
	}
}

// Connect discovers a matching peripheral and brings the session to
// Ready. Only valid from Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, state)
	}
	s.scanEpoch++
	epoch := s.scanEpoch
	old, next := s.setStateLocked(StateScanning)
	s.mu.Unlock()
	s.notifyState(old, next)

	cand, err := s.discover(ctx, epoch)
	if err != nil {
		s.toDisconnected()
		return err
	}

	s.mu.Lock()
	if s.state != StateScanning {
		// The scan deadline won a photo finish; honor it.
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: scan ended in %s", transport.ErrDiscoveryTimeout, state)
	}
	old, next = s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	s.notifyState(old, next)

	return s.establish(ctx, cand.ID)
}

// Reconnect dials the remembered peripheral directly, skipping
// discovery. Characteristics are resolved again; handles from the
// previous connection are never reused.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: reconnect from %s", ErrInvalidState, state)
	}
	id := s.deviceID
	if id == "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: no remembered peripheral", ErrInvalidState)
	}
	old, next := s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	s.notifyState(old, next)

	return s.establish(ctx, id)
}

// discover waits for the first matching candidate. The scan deadline
// is an AfterFunc that re-checks the state when it fires: a stale
// expiry observed after the session moved on is ignored. The state,
// not the timer, is the source of truth.
func (s *Session) discover(ctx context.Context, epoch int) (transport.Candidate, error) {
	cands, stopScan, err := s.tr.Scan(ctx)
	if err != nil {
		return transport.Candidate{}, err
	}
	defer stopScan()

	expired := make(chan struct{})
	time.AfterFunc(s.cfg.ScanTimeout, func() {
		if s.stillScanning(epoch) {
			close(expired)
		}
	})

	for {
		select {
		case cand, ok := <-cands:
			if !ok {
				cands = nil
				continue
			}
			if !s.match(cand) {
				continue
			}
			return cand, nil
		case <-expired:
			// A candidate racing the deadline wins.
			select {
			case cand, ok := <-cands:
				if ok && s.match(cand) {
					return cand, nil
				}
			default:
			}
			return transport.Candidate{}, fmt.Errorf("%w: no peripheral within %v", transport.ErrDiscoveryTimeout, s.cfg.ScanTimeout)
		case <-ctx.Done():
			return transport.Candidate{}, ctx.Err()
		}
	}
}

func (s *Session) stillScanning(epoch int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateScanning && s.scanEpoch == epoch
}

func (s *Session) match(c transport.Candidate) bool {
	switch {
	case s.cfg.DeviceID != "":
		return c.ID == s.cfg.DeviceID
	case s.cfg.NamePrefix != "":
		return strings.HasPrefix(c.Name, s.cfg.NamePrefix)
	default:
		return true
	}
}

// establish runs the connect sequence: dial, best-effort MTU, resolve
// the service (fatal if incomplete), refresh MTU, compute limits once,
// then start the notification pump.
func (s *Session) establish(ctx context.Context, id string) error {
	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, err := s.tr.Connect(connectCtx, id)
	cancel()
	if err != nil {
		s.toDisconnected()
		return err
	}

	mtu := wire.MinMTU
	if m, merr := conn.NegotiateMTU(ctx); merr == nil && m > 0 {
		mtu = m
	} else if merr != nil {
		s.log.Debug().Err(merr).Msg("mtu negotiation failed, keeping minimum")
	}

	resolveCtx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	err = conn.ResolveService(resolveCtx)
	cancel()
	if err != nil {
		conn.Close()
		s.toDisconnected()
		return err
	}

	// Second best-effort read: some stacks only report the MTU once
	// the service is resolved.
	if m, merr := conn.NegotiateMTU(ctx); merr == nil && m > mtu {
		mtu = m
	}

	limits := wire.LimitsFor(mtu)

	s.mu.Lock()
	s.conn = conn
	s.mtu = mtu
	s.limits = limits
	s.deviceID = id
	s.deviceName = conn.Name()
	s.pending = nil
	s.pendingAbort = nil
	old, next := s.setStateLocked(StateReady)
	s.mu.Unlock()
	s.notifyState(old, next)

	s.log.Info().
		Str("device", id).
		Int("mtu", mtu).
		Int("max_string", limits.MaxString).
		Int("max_data", limits.MaxData).
		Msg("peripheral ready")

	go s.pump(conn)
	return nil
}

func (s *Session) toDisconnected() {
	s.mu.Lock()
	old, next := s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	s.notifyState(old, next)
}

// pump decodes notifications for one connection and reacts to link
// loss. It exits when the connection dies or is replaced.
func (s *Session) pump(conn transport.Conn) {
	for {
		select {
		case <-conn.Done():
			s.onLinkLoss(conn)
			return
		case raw, ok := <-conn.Notifications():
			if !ok {
				s.onLinkLoss(conn)
				return
			}
			f, err := wire.Decode(raw)
			if err != nil {
				s.log.Warn().Err(err).Int("len", len(raw)).Msg("undecodable frame")
				continue
			}
			observability.RecordFrameReceived(f.Kind.String())
			s.dispatch(f)
		}
	}
}

func (s *Session) dispatch(f wire.Frame) {
	switch f.Kind {
	case wire.KindData:
		if level, ok := f.Battery(); ok {
			s.mu.Lock()
			s.battery = level
			cb := s.cfg.OnTelemetry
			s.mu.Unlock()
			observability.SetBattery(level)
			s.log.Debug().Int("battery", level).Msg("telemetry")
			if cb != nil {
				cb(level)
			}
			return
		}
		s.log.Debug().Uint8("subtag", f.SubTag).Int("len", len(f.Payload)).Msg("unexpected data frame from peripheral")
	case wire.KindPlain:
		s.mu.Lock()
		waiter := s.pending
		s.pending = nil
		s.pendingAbort = nil
		cb := s.cfg.OnConsole
		s.mu.Unlock()
		if waiter != nil {
			waiter <- f
			return
		}
		s.log.Debug().Str("text", f.Text).Msg("peripheral console")
		if cb != nil {
			cb(f.Text)
		}
	case wire.KindSignal:
		s.log.Debug().Uint8("signal", f.Signal).Msg("signal from peripheral dropped")
	}
}

// onLinkLoss handles transport-reported disconnects: from any state,
// immediately to Disconnected. A pending control waiter fails with
// ErrDisconnected, never with the response timeout.
func (s *Session) onLinkLoss(conn transport.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	abort := s.pendingAbort
	s.pending = nil
	s.pendingAbort = nil
	old, next := s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	cause := conn.Err()
	if abort != nil {
		if cause != nil && !errors.Is(cause, transport.ErrClosed) {
			abort <- fmt.Errorf("%w: %v", ErrDisconnected, cause)
		} else {
			abort <- ErrDisconnected
		}
	}
	s.log.Warn().AnErr("cause", cause).Msg("link lost")
	s.notifyState(old, next)
}

// Start moves Ready to Running and streams logical messages from src
// until Stop, producer close, or link loss.
func (s *Session) Start(src <-chan string) error {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, state)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.streamStop = stop
	s.streamDone = done
	old, next := s.setStateLocked(StateRunning)
	s.mu.Unlock()
	s.notifyState(old, next)

	go s.streamLoop(src, stop, done)
	return nil
}

func (s *Session) streamLoop(src <-chan string, stop, done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case text, ok := <-src:
			if !ok {
				return
			}
			if err := s.SendMessage(ctx, text); err != nil {
				if errors.Is(err, ErrDisconnected) || errors.Is(err, ErrNotReady) || errors.Is(err, context.Canceled) {
					s.log.Warn().Err(err).Msg("streaming ended")
					return
				}
				s.log.Warn().Err(err).Msg("message dropped")
			}
		}
	}
}

// Stop asks the streaming loop to finish at the next chunk boundary
// and returns the session to Ready once cleanup completes.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: stop from %s", ErrInvalidState, state)
	}
	stop := s.streamStop
	done := s.streamDone
	s.streamStop = nil
	s.streamDone = nil
	old, next := s.setStateLocked(StateStopping)
	s.mu.Unlock()
	s.notifyState(old, next)

	close(stop)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.conn == nil {
		// Link died while stopping; Disconnected already won.
		s.mu.Unlock()
		return nil
	}
	old, next = s.setStateLocked(StateReady)
	s.mu.Unlock()
	s.notifyState(old, next)
	return nil
}

// Disconnect tears the connection down in order and is idempotent.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	stop := s.streamStop
	done := s.streamDone
	s.streamStop = nil
	s.streamDone = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	abort := s.pendingAbort
	s.pending = nil
	s.pendingAbort = nil
	old, next := s.setStateLocked(StateDisconnecting)
	s.mu.Unlock()
	s.notifyState(old, next)

	if abort != nil {
		abort <- ErrDisconnected
	}
	if conn != nil {
		conn.Close()
	}

	s.mu.Lock()
	old, next = s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	s.notifyState(old, next)
	return nil
}

// Run supervises the session until ctx ends: connect (or reconnect),
// then wait out the connection, then back off and try again.
func (s *Session) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			s.Disconnect(context.Background())
			return err
		}

		var err error
		if s.RememberedDevice() == "" {
			err = s.Connect(ctx)
		} else {
			observability.RecordReconnect()
			err = s.Reconnect(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			delay := NextBackoffDelay(s.cfg.Backoff, attempt, rng)
			s.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("connect failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		attempt = 0

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			continue
		}
		select {
		case <-conn.Done():
			continue
		case <-ctx.Done():
			s.Disconnect(context.Background())
			return ctx.Err()
		}
	}
}
