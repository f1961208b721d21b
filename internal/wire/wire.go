package wire

import (
	"errors"
	"fmt"
)

const (
	// TagData marks a frame whose second byte is an application sub-tag.
	TagData byte = 0x01
	// SentinelOK is echoed by the peripheral as a Plain frame to
	// acknowledge an upload command.
	SentinelOK byte = 0x02
	// SignalBreak and SignalReset are reserved single-byte frames.
	SignalBreak byte = 0x03
	SignalReset byte = 0x04

	// Application sub-tags.
	SubContinuation byte = 0x0a
	SubFinal        byte = 0x0b
	SubTelemetry    byte = 0x0c

	// MinMTU is the protocol-minimum MTU assumed until negotiation
	// reports a larger one.
	MinMTU = 23

	stringOverhead = 3 // attribute write header
	dataOverhead   = 4 // attribute write header + kind tag
)

var (
	ErrEmptyFrame      = errors.New("wire: empty frame")
	ErrShortData       = errors.New("wire: data frame missing sub-tag")
	ErrFrameTooLarge   = errors.New("wire: control frame exceeds negotiated limit")
	ErrPayloadTooLarge = errors.New("wire: data payload exceeds negotiated limit")
	ErrReservedLead    = errors.New("wire: control text begins with reserved tag byte")
	ErrBadSignal       = errors.New("wire: unknown signal code")
)

// Kind classifies a decoded frame.
type Kind int

const (
	KindPlain Kind = iota
	KindData
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindData:
		return "data"
	case KindSignal:
		return "signal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Frame is one decoded link frame. Only the fields for the active Kind
// are meaningful: SubTag/Payload for KindData, Text for KindPlain,
// Signal for KindSignal.
type Frame struct {
	Kind    Kind
	SubTag  byte
	Payload []byte
	Text    string
	Signal  byte
}

// Sentinel reports whether the frame is the upload acknowledgment echo.
func (f Frame) Sentinel() bool {
	return f.Kind == KindPlain && f.Text == string(SentinelOK)
}

// Battery extracts the battery percent from a telemetry frame.
func (f Frame) Battery() (int, bool) {
	if f.Kind != KindData || f.SubTag != SubTelemetry || len(f.Payload) != 1 {
		return 0, false
	}
	v := int(f.Payload[0])
	if v > 100 {
		v = 100
	}
	return v, true
}

// Limits constrains encoded frame sizes for one connection. They are
// computed once from the negotiated MTU and never change while the
// connection lives.
type Limits struct {
	// MaxString is the largest Plain/Control frame in bytes.
	MaxString int
	// MaxData caps a Data frame's bytes after the kind tag; the
	// sub-tag spends one of them.
	MaxData int
}

func LimitsFor(mtu int) Limits {
	if mtu < MinMTU {
		mtu = MinMTU
	}
	return Limits{
		MaxString: mtu - stringOverhead,
		MaxData:   mtu - dataOverhead,
	}
}

func DefaultLimits() Limits {
	return LimitsFor(MinMTU)
}

// ChunkSize is the largest per-chunk payload of a chunked message.
func (l Limits) ChunkSize() int {
	return l.MaxData - 1
}

// Decode classifies raw link bytes. The mapping is exhaustive: first
// byte TagData is a Data frame, a lone break/reset byte is a signal,
// anything else is Plain UTF-8 text.
func Decode(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	switch {
	case raw[0] == TagData:
		if len(raw) < 2 {
			return Frame{}, ErrShortData
		}
		return Frame{Kind: KindData, SubTag: raw[1], Payload: raw[2:]}, nil
	case len(raw) == 1 && (raw[0] == SignalBreak || raw[0] == SignalReset):
		return Frame{Kind: KindSignal, Signal: raw[0]}, nil
	default:
		return Frame{Kind: KindPlain, Text: string(raw)}, nil
	}
}

func EncodeControl(text string, limits Limits) ([]byte, error) {
	if len(text) == 0 {
		return nil, ErrEmptyFrame
	}
	if text[0] == TagData {
		return nil, ErrReservedLead
	}
	if len(text) > limits.MaxString {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(text), limits.MaxString)
	}
	return []byte(text), nil
}

func EncodeData(subTag byte, payload []byte, limits Limits) ([]byte, error) {
	if 1+len(payload) > limits.MaxData {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, 1+len(payload), limits.MaxData)
	}
	buf := make([]byte, 0, 2+len(payload))
	buf = append(buf, TagData, subTag)
	buf = append(buf, payload...)
	return buf, nil
}

func EncodeSignal(code byte) ([]byte, error) {
	if code != SignalBreak && code != SignalReset {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadSignal, code)
	}
	return []byte{code}, nil
}

// EncodeTelemetry builds the peripheral's battery report. Level is
// clamped to 0..100.
func EncodeTelemetry(level int, limits Limits) ([]byte, error) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return EncodeData(SubTelemetry, []byte{byte(level)}, limits)
}
