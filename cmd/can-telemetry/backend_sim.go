package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/hub"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/sim"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

// initSimBackend runs a simulated sensor board at the poll rate. Commands
// reach the board through the same async path as on real hardware.
func initSimBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	board, err := sim.NewBoard(cfg.ids, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, func() {}, err
	}
	l.Info("sim_start", "interval", cfg.tick)
	tx := transport.NewAsyncTx(ctx, txQueueSize, board.SendFrame, transport.Hooks{
		OnAfter: func() { metrics.IncTx("sim") },
		OnDrop:  func() error { return transport.ErrTxOverflow },
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("sim_end")
		board.Run(ctx, cfg.tick, func(fr can.Frame) {
			metrics.IncRx("sim")
			h.Broadcast(fr)
		})
	}()
	send := func(fr can.Frame) error {
		l.Debug("sim_command", "frame", fr.String())
		return tx.SendFrame(fr)
	}
	return send, tx.Close, nil
}
