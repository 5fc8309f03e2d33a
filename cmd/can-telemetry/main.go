package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/temoto/alive/v2"

	"github.com/kstaniek/go-can-telemetry/internal/aggregate"
	"github.com/kstaniek/go-can-telemetry/internal/api"
	"github.com/kstaniek/go-can-telemetry/internal/control"
	"github.com/kstaniek/go-can-telemetry/internal/history"
	"github.com/kstaniek/go-can-telemetry/internal/hub"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/tele"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-telemetry %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ids, err := loadFrameMap(cfg.frameMap)
	if err != nil {
		l.Error("frame_map_error", "path", cfg.frameMap, "error", err)
		os.Exit(1)
	}
	cfg.ids = ids
	codec, err := telemetry.NewCodec(ids)
	if err != nil {
		l.Error("codec_init_error", "error", err)
		os.Exit(1)
	}
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	// Subscribe before the backend starts so the first frames are not lost.
	// The poller never resubscribes, so it is exempt from kicking.
	src := h.SubscribeNoKick("aggregator")
	if cfg.traceFrames {
		startFrameTracer(ctx, h.Subscribe("trace"), l, &wg)
	}

	sendFunc, cleanup, berr := initBackend(ctx, cfg, h, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "backend", cfg.backend, "error", berr)
		cancel()
		wg.Wait()
		os.Exit(1)
	}
	l.Info("backend_open", "backend", cfg.backend)

	cmdr := control.New(codec, transport.SinkFunc(sendFunc), l)
	hist := history.New(cfg.history, time.Now())

	var pub *tele.Publisher
	if cfg.mqttBroker != "" {
		pub = tele.New(tele.Config{Broker: cfg.mqttBroker, Prefix: cfg.mqttPrefix}, cmdr.Send)
	}
	var agg *aggregate.Aggregator
	opts := []aggregate.Option{aggregate.WithLogger(l), aggregate.OnUpdate(hist.OnUpdate)}
	if pub != nil {
		opts = append(opts, aggregate.OnUpdate(func(u aggregate.Update) {
			pub.Offer(aggregate.NewView(u.Snapshot, agg.Status(), cmdr.Mode()))
		}))
	}
	agg = aggregate.New(codec, opts...)

	al := alive.NewAlive()
	go agg.Run(al, src, aggregate.RunConfig{
		Interval:    cfg.tick,
		MaxFrames:   cfg.maxFrames,
		RecvTimeout: cfg.recvTimeout,
	})

	if pub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Run(ctx)
		}()
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil && al.IsRunning() })
	if cfg.httpAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srv := api.New(
			api.WithSnapshotter(agg),
			api.WithCommander(cmdr),
			api.WithHistory(hist),
			api.WithBackend(cfg.backend),
			api.WithVersion(version),
			api.WithLogger(l),
		)
		srvHTTP := metrics.StartHTTP(cfg.httpAddr, srv.Handler())
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()

		if port := listenPort(cfg.httpAddr); port > 0 {
			cleanupMDNS, err := startMDNS(ctx, cfg, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
			} else {
				if cfg.mdnsEnable {
					l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
				}
				defer cleanupMDNS()
			}
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	if cfg.console {
		c := &console{agg: agg, cmd: cmdr, hist: hist, out: os.Stdout, quit: func() {
			select {
			case sigCh <- syscall.SIGTERM:
			default:
			}
		}}
		go func() {
			c.run(os.Stdin)
			l.Info("console_end")
		}()
	}
	sdNotify(l, daemon.SdNotifyReady)

	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	sdNotify(l, daemon.SdNotifyStopping)
	al.Stop()
	al.Wait()
	cancel()
	cleanup()
	wg.Wait()
}

// startFrameTracer logs every frame seen on the bus at debug level.
func startFrameTracer(ctx context.Context, c *hub.Client, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Closed:
				l.Warn("frame_trace_end", "reason", "kicked")
				return
			default:
			}
			if fr, ok := c.Receive(100 * time.Millisecond); ok {
				l.Debug("frame_rx", "frame", fr.String())
			}
		}
	}()
}
