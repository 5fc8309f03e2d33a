package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/canpub"
	"github.com/kstaniek/go-can-telemetry/internal/hub"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

// dialCanpub is a hook for tests (overridden in unit tests).
var dialCanpub = canpub.Dial

// initCanpubBackend attaches to the interface through the brutella/can bus.
// The bus owns its read goroutine; frames are broadcast from its handler.
func initCanpubBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	conn, err := dialCanpub(cfg.canIf)
	if err != nil {
		return nil, func() {}, fmt.Errorf("canpub open %s: %w", cfg.canIf, err)
	}
	l.Info("canpub_open", "if", cfg.canIf)
	tx := transport.NewAsyncTx(ctx, txQueueSize, conn.SendFrame, transport.Hooks{
		OnError: func(err error) { l.Error("canpub_write_error", "error", err) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrCanpubOver)
			return transport.ErrTxOverflow
		},
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("canpub_rx_end")
		if err := conn.Start(ctx, h.Broadcast); err != nil && ctx.Err() == nil {
			l.Error("canpub_bus_error", "error", err)
		}
	}()
	return tx.SendFrame, func() { tx.Close(); _ = conn.Close() }, nil
}
