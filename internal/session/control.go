package session

import (
	"context"
	"fmt"
	"time"

	"github.com/dvrsch/lensctl/internal/observability"
	"github.com/dvrsch/lensctl/internal/transport"
	"github.com/dvrsch/lensctl/internal/wire"
)

func (s *Session) connAndLimits() (transport.Conn, wire.Limits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.state.Connected() {
		return nil, wire.Limits{}, ErrNotReady
	}
	return s.conn, s.limits, nil
}

// writeFrame is the single funnel to the transport's raw write.
func (s *Session) writeFrame(ctx context.Context, conn transport.Conn, raw []byte, kind string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.Write(ctx, raw); err != nil {
		return err
	}
	observability.RecordFrameSent(kind)
	return nil
}

func (s *Session) clearPending(waiter chan wire.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == waiter {
		s.pending = nil
		s.pendingAbort = nil
	}
}

// SendControl writes one Plain frame and waits for the peripheral's
// next Plain response. Round trips are strictly serialized: one
// outstanding request, bounded by ResponseTimeout. A timeout leaves
// the session state untouched; a disconnect while waiting fails with
// ErrDisconnected, which always wins over the deadline.
func (s *Session) SendControl(ctx context.Context, text string) (string, error) {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	conn, limits, err := s.connAndLimits()
	if err != nil {
		return "", err
	}
	raw, err := wire.EncodeControl(text, limits)
	if err != nil {
		return "", err
	}

	waiter := make(chan wire.Frame, 1)
	abort := make(chan error, 1)
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return "", ErrDisconnected
	}
	s.pending = waiter
	s.pendingAbort = abort
	s.mu.Unlock()

	start := time.Now()
	if err := s.writeFrame(ctx, conn, raw, wire.KindPlain.String()); err != nil {
		s.clearPending(waiter)
		return "", err
	}

	timer := time.NewTimer(s.cfg.ResponseTimeout)
	defer timer.Stop()
	select {
	case f := <-waiter:
		observability.ObserveControlRoundTrip(time.Since(start))
		return f.Text, nil
	case err := <-abort:
		return "", err
	case <-timer.C:
		// The deadline ran out, but a disconnect or a response that
		// landed in the same instant still outranks it.
		select {
		case err := <-abort:
			return "", err
		case f := <-waiter:
			observability.ObserveControlRoundTrip(time.Since(start))
			return f.Text, nil
		default:
		}
		s.clearPending(waiter)
		return "", fmt.Errorf("%w after %v", ErrResponseTimeout, s.cfg.ResponseTimeout)
	case <-ctx.Done():
		s.clearPending(waiter)
		return "", ctx.Err()
	}
}

// SendControlNoWait writes one Plain frame without waiting for a
// response, still on the serialized control path.
func (s *Session) SendControlNoWait(ctx context.Context, text string) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	conn, limits, err := s.connAndLimits()
	if err != nil {
		return err
	}
	raw, err := wire.EncodeControl(text, limits)
	if err != nil {
		return err
	}
	return s.writeFrame(ctx, conn, raw, wire.KindPlain.String())
}

// SendData writes one Data frame, fire and forget. Data sends are
// ordered with respect to each other and to chunked messages.
func (s *Session) SendData(ctx context.Context, subTag byte, payload []byte) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	conn, limits, err := s.connAndLimits()
	if err != nil {
		return err
	}
	raw, err := wire.EncodeData(subTag, payload, limits)
	if err != nil {
		return err
	}
	return s.writeFrame(ctx, conn, raw, wire.KindData.String())
}

// SendMessage chunks one logical message into continuation frames and
// a final frame. The message lock is held for the whole sequence, so
// chunks of two messages never interleave. Cancellation is observed
// between chunks; a partial message may have gone out, and the
// peripheral discards it on the next final chunk.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()

	conn, limits, err := s.connAndLimits()
	if err != nil {
		return err
	}

	chunks := chunkMessage(text, limits)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		sub := wire.SubContinuation
		if i == len(chunks)-1 {
			sub = wire.SubFinal
		}
		raw, err := wire.EncodeData(sub, chunk, limits)
		if err != nil {
			return err
		}
		if err := s.writeFrame(ctx, conn, raw, wire.KindData.String()); err != nil {
			return err
		}
	}
	return nil
}

// chunkMessage splits a logical message into payloads of at most
// ChunkSize bytes. The last chunk is the final one and may be empty
// only when the whole message is empty.
func chunkMessage(text string, limits wire.Limits) [][]byte {
	data := []byte(text)
	size := limits.ChunkSize()
	if size < 1 {
		size = 1
	}
	var chunks [][]byte
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}

// SendBreak interrupts whatever the peripheral is running, then waits
// out the settle delay.
func (s *Session) SendBreak(ctx context.Context) error {
	return s.sendSignal(ctx, wire.SignalBreak, s.cfg.BreakSettle)
}

// SendReset restarts the peripheral's interpreter, then waits out the
// settle delay.
func (s *Session) SendReset(ctx context.Context) error {
	return s.sendSignal(ctx, wire.SignalReset, s.cfg.ResetSettle)
}

func (s *Session) sendSignal(ctx context.Context, code byte, settle time.Duration) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	conn, _, err := s.connAndLimits()
	if err != nil {
		return err
	}
	raw, err := wire.EncodeSignal(code)
	if err != nil {
		return err
	}
	if err := s.writeFrame(ctx, conn, raw, wire.KindSignal.String()); err != nil {
		return err
	}
	select {
	case <-time.After(settle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
