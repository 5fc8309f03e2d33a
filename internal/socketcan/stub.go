//go:build !linux

package socketcan

import "github.com/kstaniek/go-can-telemetry/internal/transport"

// ErrTxOverflow is provided for non-linux builds so callers can compile.
var ErrTxOverflow = transport.ErrTxOverflow
