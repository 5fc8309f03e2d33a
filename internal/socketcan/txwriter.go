//go:build linux

package socketcan

import (
	"context"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

// ErrTxOverflow is returned by SendFrame when the write queue is full.
var ErrTxOverflow = transport.ErrTxOverflow

// Dev is what the backend needs from a raw socket. *Device implements it;
// tests substitute fakes.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// NewTXWriter returns the socket's single writer, so a command never blocks
// its caller on a full kernel queue.
func NewTXWriter(parent context.Context, dev Dev, buf int) *transport.AsyncTx {
	return transport.NewAsyncTx(parent, buf, dev.WriteFrame, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSocketCANWrite)
			logging.L().Error("socketcan_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncTx("socketcan") },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSocketCANOver)
			return ErrTxOverflow
		},
	})
}
