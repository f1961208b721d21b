package remote

import (
	"bytes"
	"testing"

	"github.com/dvrsch/lensctl/internal/wire"
)

func chunkFrames(msg []byte, size int) []wire.Frame {
	var frames []wire.Frame
	for len(msg) > size {
		frames = append(frames, wire.Frame{Kind: wire.KindData, SubTag: wire.SubContinuation, Payload: msg[:size]})
		msg = msg[size:]
	}
	return append(frames, wire.Frame{Kind: wire.KindData, SubTag: wire.SubFinal, Payload: msg})
}

func TestReassemblerSplitInvariance(t *testing.T) {
	msg := bytes.Repeat([]byte("0123456789"), 10)
	for _, size := range []int{100, 50, 33, 18, 7, 1} {
		var r Reassembler
		for _, f := range chunkFrames(msg, size) {
			r.Ingest(f)
		}
		if got := r.Sealed(); got != string(msg) {
			t.Fatalf("size %d: sealed %q", size, got)
		}
	}
}

func TestReassemblerIdempotentReads(t *testing.T) {
	var r Reassembler
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubContinuation, Payload: []byte("par")})
	if got := r.Sealed(); got != "" {
		t.Fatalf("sealed before final: %q", got)
	}
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubFinal, Payload: []byte("tial")})
	for i := 0; i < 3; i++ {
		if got := r.Sealed(); got != "partial" {
			t.Fatalf("read %d: %q", i, got)
		}
	}
	// A new continuation must not disturb the sealed value.
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubContinuation, Payload: []byte("next")})
	if got := r.Sealed(); got != "partial" {
		t.Fatalf("sealed after new continuation: %q", got)
	}
}

func TestReassemblerLoneEmptyFinal(t *testing.T) {
	var r Reassembler
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubFinal, Payload: []byte("shown")})
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubFinal})
	if got := r.Sealed(); got != "" {
		t.Fatalf("empty final must blank the display, got %q", got)
	}
}

func TestReassemblerInterruptKeepsSealed(t *testing.T) {
	var r Reassembler
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubFinal, Payload: []byte("kept")})
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubContinuation, Payload: []byte("abandoned")})
	r.Interrupt()
	if got := r.Sealed(); got != "kept" {
		t.Fatalf("interrupt must keep sealed text, got %q", got)
	}
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubFinal, Payload: []byte("fresh")})
	if got := r.Sealed(); got != "fresh" {
		t.Fatalf("accumulator leaked across interrupt: %q", got)
	}

	r.Reset()
	if got := r.Sealed(); got != "" {
		t.Fatalf("reset must clear sealed text, got %q", got)
	}
}

func TestReassemblerIgnoresUnknownSubTags(t *testing.T) {
	var r Reassembler
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubTelemetry, Payload: []byte{99}})
	r.Ingest(wire.Frame{Kind: wire.KindData, SubTag: wire.SubFinal, Payload: []byte("msg")})
	if got := r.Sealed(); got != "msg" {
		t.Fatalf("sealed: %q", got)
	}
}
