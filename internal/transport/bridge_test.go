package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dvrsch/lensctl/internal/testutil/testlog"
)

func TestBridgeHelloAndFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := Listen("127.0.0.1:0", 64)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- c
	}()

	b := NewBridge(l.Addr())
	candidates, stop, err := b.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer stop()
	cand, ok := <-candidates
	if !ok || cand.ID != l.Addr() {
		t.Fatalf("candidate: %+v ok=%v", cand, ok)
	}

	host, err := b.Connect(ctx, cand.ID)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer host.Close()

	var peer Conn
	select {
	case peer = <-accepted:
	case <-ctx.Done():
		t.Fatalf("no peer accepted")
	}
	defer peer.Close()

	mtu, err := host.NegotiateMTU(ctx)
	if err != nil || mtu != 64 {
		t.Fatalf("mtu: got %d err=%v", mtu, err)
	}
	if err := host.ResolveService(ctx); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := host.Write(ctx, []byte{0x01, 0x0b, 'h', 'i'}); err != nil {
		t.Fatalf("host write: %v", err)
	}
	select {
	case raw := <-peer.Notifications():
		if !bytes.Equal(raw, []byte{0x01, 0x0b, 'h', 'i'}) {
			t.Fatalf("peer received %v", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("peer never received frame")
	}

	if err := peer.Write(ctx, []byte("ok")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	select {
	case raw := <-host.Notifications():
		if string(raw) != "ok" {
			t.Fatalf("host received %q", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("host never received frame")
	}
}

func TestBridgePeerCloseSignalsDone(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := Listen("127.0.0.1:0", 32)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- c
	}()

	host, err := NewBridge(l.Addr()).Connect(ctx, l.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer host.Close()

	var peer Conn
	select {
	case peer = <-accepted:
	case <-ctx.Done():
		t.Fatalf("no peer accepted")
	}
	peer.Close()

	select {
	case <-host.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("host done never closed after peer close")
	}
	if host.Err() == nil {
		t.Fatalf("expected a close cause")
	}

	if err := host.Write(ctx, []byte("x")); err == nil {
		t.Fatalf("write after link loss must fail")
	}
}
