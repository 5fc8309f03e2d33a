package serial

import (
	"context"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

// ErrTxOverflow is returned by SendFrame when the write queue is full.
var ErrTxOverflow = transport.ErrTxOverflow

// NewTXWriter returns the adapter's single writer. Every frame becomes one
// SLCAN line, so lines never interleave on the wire.
func NewTXWriter(parent context.Context, sp Port, codec Codec, buf int) *transport.AsyncTx {
	send := func(fr can.Frame) error {
		_, err := sp.Write(codec.Encode(fr))
		return err
	}
	return transport.NewAsyncTx(parent, buf, send, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("slcan_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncTx("serial") },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	})
}
