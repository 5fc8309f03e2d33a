package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/cnl"
	"github.com/kstaniek/go-can-telemetry/internal/hub"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

// newCannelloniClient is a hook for tests (overridden in unit tests).
var newCannelloniClient = cnl.NewClient

// initCannelloniBackend keeps a session to a remote CAN gateway. Unlike the
// local backends it does not fail when the gateway is down: the client
// retries in the background and commands fail with cnl.ErrNotConnected.
func initCannelloniBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	cl := newCannelloniClient(cfg.remote)
	cl.Logger = l
	tx := transport.NewAsyncTx(ctx, txQueueSize, cl.SendFrame, transport.Hooks{
		OnError: func(err error) { l.Error("cannelloni_write_error", "error", err) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrCannelloniOver)
			return transport.ErrTxOverflow
		},
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("cannelloni_rx_end")
		_ = cl.Run(ctx, h.Broadcast)
	}()
	send := func(fr can.Frame) error {
		if !cl.Connected() {
			return cnl.ErrNotConnected
		}
		return tx.SendFrame(fr)
	}
	return send, tx.Close, nil
}
