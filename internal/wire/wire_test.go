package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestLimitsForMinimumMTU(t *testing.T) {
	l := LimitsFor(23)
	if l.MaxString != 20 || l.MaxData != 19 {
		t.Fatalf("limits for mtu 23: got %+v", l)
	}
	if l.ChunkSize() != 18 {
		t.Fatalf("chunk size: got %d want 18", l.ChunkSize())
	}
	// Anything below the protocol minimum clamps up to it.
	if LimitsFor(5) != l {
		t.Fatalf("sub-minimum mtu not clamped: %+v", LimitsFor(5))
	}
}

func TestDecodeClassification(t *testing.T) {
	f, err := Decode([]byte{TagData, SubFinal, 'h', 'i'})
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if f.Kind != KindData || f.SubTag != SubFinal || !bytes.Equal(f.Payload, []byte("hi")) {
		t.Fatalf("data frame mismatch: %+v", f)
	}

	f, err = Decode([]byte("print('x')"))
	if err != nil {
		t.Fatalf("decode plain: %v", err)
	}
	if f.Kind != KindPlain || f.Text != "print('x')" {
		t.Fatalf("plain frame mismatch: %+v", f)
	}

	f, err = Decode([]byte{SignalBreak})
	if err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if f.Kind != KindSignal || f.Signal != SignalBreak {
		t.Fatalf("signal frame mismatch: %+v", f)
	}

	// The sentinel echo is a Plain frame, not a signal.
	f, err = Decode([]byte{SentinelOK})
	if err != nil {
		t.Fatalf("decode sentinel: %v", err)
	}
	if f.Kind != KindPlain || !f.Sentinel() {
		t.Fatalf("sentinel not recognized: %+v", f)
	}

	if _, err := Decode(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	if _, err := Decode([]byte{TagData}); !errors.Is(err, ErrShortData) {
		t.Fatalf("expected ErrShortData, got %v", err)
	}
}

func TestEncodeDataBoundary(t *testing.T) {
	l := LimitsFor(23)

	raw, err := EncodeData(SubContinuation, make([]byte, l.MaxData-1), l)
	if err != nil {
		t.Fatalf("payload of MaxData-1 must encode: %v", err)
	}
	if len(raw) != 2+l.MaxData-1 {
		t.Fatalf("encoded length: got %d", len(raw))
	}

	if _, err := EncodeData(SubContinuation, make([]byte, l.MaxData), l); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEncodeControlBounds(t *testing.T) {
	l := LimitsFor(23)

	raw, err := EncodeControl("print(1)", l)
	if err != nil {
		t.Fatalf("encode control: %v", err)
	}
	f, err := Decode(raw)
	if err != nil || f.Kind != KindPlain || f.Text != "print(1)" {
		t.Fatalf("control round trip: %+v err=%v", f, err)
	}

	long := string(bytes.Repeat([]byte{'a'}, l.MaxString+1))
	if _, err := EncodeControl(long, l); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if _, err := EncodeControl("", l); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	if _, err := EncodeControl(string([]byte{TagData, 'x'}), l); !errors.Is(err, ErrReservedLead) {
		t.Fatalf("expected ErrReservedLead, got %v", err)
	}
}

func TestEncodeSignal(t *testing.T) {
	raw, err := EncodeSignal(SignalReset)
	if err != nil || len(raw) != 1 || raw[0] != SignalReset {
		t.Fatalf("encode reset: raw=%v err=%v", raw, err)
	}
	if _, err := EncodeSignal(0x09); !errors.Is(err, ErrBadSignal) {
		t.Fatalf("expected ErrBadSignal, got %v", err)
	}
}

func TestTelemetryRoundTrip(t *testing.T) {
	l := DefaultLimits()
	raw, err := EncodeTelemetry(87, l)
	if err != nil {
		t.Fatalf("encode telemetry: %v", err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}
	got, ok := f.Battery()
	if !ok || got != 87 {
		t.Fatalf("battery: got %d ok=%v", got, ok)
	}

	raw, _ = EncodeTelemetry(250, l)
	f, _ = Decode(raw)
	if got, _ := f.Battery(); got != 100 {
		t.Fatalf("battery clamp: got %d", got)
	}

	if _, ok := (Frame{Kind: KindData, SubTag: SubFinal, Payload: []byte{1}}).Battery(); ok {
		t.Fatalf("non-telemetry frame reported battery")
	}
}
