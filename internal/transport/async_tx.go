package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-telemetry/internal/can"
)

var (
	// ErrAsyncTxClosed is returned by SendFrame once the writer has stopped,
	// either through Close or because its parent context ended.
	ErrAsyncTxClosed = errors.New("async tx closed")
	// ErrTxOverflow is what backend OnDrop hooks return when the queue is full.
	ErrTxOverflow = errors.New("tx queue overflow")
)

// AsyncTx funnels every write to one device through a single goroutine.
// SendFrame never blocks: when the queue is full it calls Hooks.OnDrop and
// returns that error, so a command issued from an HTTP handler or the
// console cannot stall behind a wedged adapter.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.SendFrame(frame)
//	a.Close()
//
// After Close returns the worker has exited and the queue channel is closed.
// Frames still queued at that point are discarded, not flushed. Late
// SendFrame calls never touch the closed channel: they return
// ErrAsyncTxClosed. The same error is returned once the parent context is
// done, because the worker no longer drains the queue and a queued command
// would otherwise be reported as accepted and then never reach the bus.
type AsyncTx struct {
	mu     sync.Mutex // serializes enqueue against close(ch)
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks let each backend attach its own metrics and logging.
type Hooks struct {
	// OnError is called when send fails (frame lost).
	OnError func(error)
	// OnAfter is called after each successful send.
	OnAfter func()
	// OnDrop is called when the queue is full; its error is returned from
	// SendFrame. Nil means silent drop.
	OnDrop func() error
}

// NewAsyncTx starts the writer goroutine with a queue of buf frames.
func NewAsyncTx(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			a.deliver(fr)
		}
	}
}

func (a *AsyncTx) deliver(fr can.Frame) {
	err := a.send(fr)
	switch {
	case err != nil && a.hooks.OnError != nil:
		a.hooks.OnError(err)
	case err == nil && a.hooks.OnAfter != nil:
		a.hooks.OnAfter()
	}
}

func (a *AsyncTx) stopped() bool { return a.closed.Load() || a.ctx.Err() != nil }

// SendFrame queues fr or returns the drop error if the queue is full.
func (a *AsyncTx) SendFrame(fr can.Frame) error {
	if a.stopped() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Pending reports queued but unsent frames.
func (a *AsyncTx) Pending() int { return len(a.ch) }

// Close stops the worker and waits for it. Safe to call more than once.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
