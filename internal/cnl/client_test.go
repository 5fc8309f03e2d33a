package cnl

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/can"
)

// gateway answers the handshake on srv and sends frames.
func gateway(t *testing.T, srv net.Conn, frames ...can.Frame) {
	t.Helper()
	if err := Handshake(context.Background(), srv, 2*time.Second); err != nil {
		t.Errorf("gateway handshake: %v", err)
		return
	}
	c := Codec{}
	if _, err := c.EncodeTo(srv, frames); err != nil {
		t.Errorf("gateway write: %v", err)
	}
}

func TestClientReceivesAndSends(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	c := NewClient("gw:20000")
	c.Dial = func(context.Context, string) (net.Conn, error) { return cli, nil }

	in, _ := can.NewFrame(0x013, 0x00, 0x01, 0x86, 0xA0)
	go gateway(t, srv, in)

	got := make(chan can.Frame, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(f can.Frame) { got <- f }) }()

	select {
	case f := <-got:
		if f != in {
			t.Fatalf("got %s want %s", f, in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from gateway")
	}
	if !c.Connected() {
		t.Fatal("expected connected")
	}

	out, _ := can.NewFrame(0x003, 0xC8, 0, 0, 1, 3, 1, 4, 1)
	readBack := make(chan can.Frame, 1)
	go func() {
		var codec Codec
		f, err := codec.Decode(srv)
		if err == nil {
			readBack <- f
		}
	}()
	if err := c.SendFrame(out); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	select {
	case f := <-readBack:
		if f != out {
			t.Fatalf("gateway got %s want %s", f, out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not receive frame")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}

func TestClientRetriesDialFailures(t *testing.T) {
	var dials atomic.Int32
	c := NewClient("gw:20000")
	c.BackoffMin = time.Millisecond
	c.BackoffMax = 4 * time.Millisecond
	c.Dial = func(context.Context, string) (net.Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx, func(can.Frame) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
	if dials.Load() < 3 {
		t.Fatalf("expected repeated dials, got %d", dials.Load())
	}
}

func TestSendFrameWithoutSession(t *testing.T) {
	c := NewClient("gw:20000")
	if err := c.SendFrame(can.Frame{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v", err)
	}
}
