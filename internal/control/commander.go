// Package control turns operator commands into frames on the bus.
package control

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

// ErrNoSink is returned when the active backend cannot transmit.
var ErrNoSink = errors.New("control: no transmit path")

// Commander encodes commands and hands them to a sink. It is safe for
// concurrent use by the HTTP, MQTT and console front ends.
type Commander struct {
	codec  *telemetry.Codec
	sink   transport.Sink
	logger *slog.Logger

	mu   sync.Mutex
	mode telemetry.DisplayMode
}

func New(codec *telemetry.Codec, sink transport.Sink, logger *slog.Logger) *Commander {
	if codec == nil {
		codec = telemetry.DefaultCodec()
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Commander{codec: codec, sink: sink, logger: logger, mode: telemetry.ModeLux}
}

// Send encodes cmd and transmits it. Invalid commands are rejected before the
// sink is touched. A successful SetDisplayMode becomes the current Mode.
func (c *Commander) Send(cmd telemetry.Command) error {
	fr, err := c.codec.Encode(cmd)
	if err != nil {
		metrics.IncCommand(metrics.CommandRejected)
		c.logger.Warn("command_rejected", "command", fmt.Sprint(cmd), "error", err)
		return err
	}
	if c.sink == nil {
		metrics.IncCommand(metrics.CommandFailed)
		return ErrNoSink
	}
	// Holding mu across SendFrame keeps Mode consistent with bus order.
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sink.SendFrame(fr); err != nil {
		metrics.IncCommand(metrics.CommandFailed)
		c.logger.Warn("command_send_failed", "command", cmd.String(), "frame", fr.String(), "error", err)
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	if m, ok := cmd.(telemetry.SetDisplayMode); ok {
		c.mode = m.Mode
	}
	metrics.IncCommand(metrics.CommandSent)
	c.logger.Info("command_sent", "command", cmd.String(), "frame", fr.String())
	return nil
}

// Mode returns the display mode last commanded successfully (ModeLux until
// the first SetDisplayMode).
func (c *Commander) Mode() telemetry.DisplayMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}
