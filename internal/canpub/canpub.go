// Package canpub attaches to a SocketCAN interface through the
// github.com/brutella/can publish/subscribe bus.
package canpub

import (
	"context"
	"errors"
	"log/slog"

	bcan "github.com/brutella/can"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
)

// ErrNotConnected is returned when the bus was never opened or already closed.
var ErrNotConnected = errors.New("canpub: bus not connected")

// Bus is the subset of *bcan.Bus used here.
type Bus interface {
	SubscribeFunc(bcan.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
	Publish(bcan.Frame) error
}

var newBus = func(iface string) (Bus, error) {
	return bcan.NewBusForInterfaceWithName(iface)
}

// Conn forwards bus frames to a handler and publishes outgoing frames.
type Conn struct {
	bus    Bus
	logger *slog.Logger
}

// Dial opens the named interface (e.g. "can0"). Reception starts with Start.
func Dial(iface string) (*Conn, error) {
	bus, err := newBus(iface)
	if err != nil {
		return nil, err
	}
	return New(bus), nil
}

func New(bus Bus) *Conn { return &Conn{bus: bus, logger: logging.L()} }

// Start subscribes handler and runs the bus until ctx is done or the bus
// fails. Frames reach handler on the bus goroutine.
func (c *Conn) Start(ctx context.Context, handler func(can.Frame)) error {
	if c.bus == nil {
		return ErrNotConnected
	}
	c.bus.SubscribeFunc(func(f bcan.Frame) {
		metrics.IncRx("canpub")
		handler(FromBus(f))
	})
	stop := context.AfterFunc(ctx, func() {
		c.logger.Info("canpub_stop", "reason", ctx.Err())
		if err := c.bus.Disconnect(); err != nil {
			c.logger.Warn("canpub_disconnect_error", "error", err)
		}
	})
	defer stop()
	c.logger.Info("canpub_start")
	return c.bus.ConnectAndPublish()
}

// SendFrame publishes fr on the bus.
func (c *Conn) SendFrame(fr can.Frame) error {
	if c.bus == nil {
		return ErrNotConnected
	}
	if err := c.bus.Publish(ToBus(fr)); err != nil {
		metrics.IncError(metrics.ErrCanpubWrite)
		return err
	}
	metrics.IncTx("canpub")
	return nil
}

func (c *Conn) Close() error {
	if c.bus == nil {
		return ErrNotConnected
	}
	return c.bus.Disconnect()
}

// FromBus converts a brutella frame. Both carry SocketCAN flag bits in the
// identifier.
func FromBus(f bcan.Frame) can.Frame {
	n := f.Length
	if n > can.MaxDataLen {
		n = can.MaxDataLen
	}
	out := can.Frame{CANID: f.ID, Len: n}
	copy(out.Data[:], f.Data[:n])
	return out
}

func ToBus(f can.Frame) bcan.Frame {
	out := bcan.Frame{ID: f.CANID, Length: f.Len}
	copy(out.Data[:], f.Payload())
	return out
}
