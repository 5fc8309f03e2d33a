package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const hello = "CANNELLONIv1"

// ErrBadHello is returned when the peer greets with anything but hello.
var ErrBadHello = errors.New("cannelloni: bad hello")

// Handshake exchanges the greeting on c within timeout. Send and receive
// run concurrently, so both ends of a synchronous pipe may call it at once.
// Cancelling ctx expires the deadline and aborts the exchange.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	wrote := make(chan error, 1)
	go func() {
		_, err := io.WriteString(c, hello)
		wrote <- err
	}()
	buf := make([]byte, len(hello))
	_, rerr := io.ReadFull(c, buf)
	werr := <-wrote

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case rerr != nil:
		return fmt.Errorf("handshake read: %w", rerr)
	case werr != nil:
		return fmt.Errorf("handshake write: %w", werr)
	case string(buf) != hello:
		return fmt.Errorf("%w: %q", ErrBadHello, buf)
	}
	return nil
}
