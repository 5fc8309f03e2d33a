package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
)

// ErrNotConnected is returned by SendFrame while no session is up.
var ErrNotConnected = errors.New("cannelloni: not connected")

// Client keeps a cannelloni TCP session to a gateway alive, reconnecting
// with capped exponential backoff, and hands every received frame to the
// callback given to Run.
type Client struct {
	Addr             string
	HandshakeTimeout time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	Logger           *slog.Logger

	// Dial is replaceable in tests.
	Dial func(ctx context.Context, addr string) (net.Conn, error)

	codec Codec
	mu    sync.Mutex
	conn  net.Conn
}

// NewClient returns a client with defaults for addr.
func NewClient(addr string) *Client {
	return &Client{
		Addr:             addr,
		HandshakeTimeout: 3 * time.Second,
		BackoffMin:       200 * time.Millisecond,
		BackoffMax:       5 * time.Second,
		Logger:           logging.L(),
		Dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Connected reports whether a session is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials, handshakes and reads until ctx is done. Session failures are
// logged and retried; Run only returns ctx.Err().
func (c *Client) Run(ctx context.Context, onFrame func(can.Frame)) error {
	backoff := c.BackoffMin
	for {
		err := c.session(ctx, onFrame, func() { backoff = c.BackoffMin })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warn("cannelloni_session_end", "addr", c.Addr, "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.BackoffMax {
			backoff = c.BackoffMax
		}
	}
}

func (c *Client) session(ctx context.Context, onFrame func(can.Frame), up func()) error {
	conn, err := c.Dial(ctx, c.Addr)
	if err != nil {
		metrics.IncError(metrics.ErrCannelloniDial)
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if err := Handshake(ctx, conn, c.HandshakeTimeout); err != nil {
		metrics.IncError(metrics.ErrCannelloniDial)
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()
	up()
	c.Logger.Info("cannelloni_connected", "addr", c.Addr)

	// Reads block without a deadline; cancellation closes the socket.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	_, err = c.codec.DecodeN(conn, 0, func(fr can.Frame) {
		metrics.IncRx("cannelloni")
		onFrame(fr)
	})
	if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		metrics.IncError(metrics.ErrCannelloniRead)
	}
	return err
}

// SendFrame writes fr to the current session. Callers serialise through an
// AsyncTx, so writes never interleave.
func (c *Client) SendFrame(fr can.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if _, err := c.codec.EncodeTo(conn, []can.Frame{fr}); err != nil {
		metrics.IncError(metrics.ErrCannelloniWrite)
		return err
	}
	metrics.IncTx("cannelloni")
	return nil
}
