package transport

import (
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/can"
)

// Source yields raw frames to a poller. Receive waits at most timeout and
// reports false when no frame arrived; transport errors (disconnects, read
// failures) are the backend's business and also surface as false.
type Source interface {
	Receive(timeout time.Duration) (can.Frame, bool)
}

// Sink is a CAN frame transmission target.
type Sink interface {
	SendFrame(can.Frame) error
}

// SinkFunc adapts a plain send function (as returned by backends) to Sink.
type SinkFunc func(can.Frame) error

func (f SinkFunc) SendFrame(fr can.Frame) error { return f(fr) }

// Compile-time assertions.
var (
	_ Sink = SinkFunc(nil)
	_ Sink = (*AsyncTx)(nil)
)
