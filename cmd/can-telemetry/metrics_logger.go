package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rx", snap.Rx,
					"tx", snap.Tx,
					"ticks", snap.Ticks,
					"readings", snap.Readings,
					"decode_errors", snap.DecodeErrors,
					"ignored", snap.Ignored,
					"malformed", snap.Malformed,
					"commands_sent", snap.CommandsSent,
					"commands_rejected", snap.CommandsRejected,
					"commands_failed", snap.CommandsFailed,
					"mqtt_published", snap.MQTTPublished,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
