// Package aggregate folds decoded telemetry into a latest-known-values
// snapshot, one bounded burst of frames per polling tick.
package aggregate

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/temoto/alive/v2"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

const (
	defaultStaleAfter = 2 * time.Second
	defaultMaxFrames  = 10
)

// TickResult summarizes one Poll.
type TickResult struct {
	Frames   int // frames received
	Readings int // readings applied
	Ignored  int // frames that produced no reading
	Errors   int // frames rejected by the codec
}

// Update is handed to listeners after a tick that received frames.
type Update struct {
	Snapshot Snapshot
	Time     time.Time
	Result   TickResult
}

// Status is the connection view shown next to the values.
type Status struct {
	Connected    bool      `json:"connected"`
	LastUpdate   time.Time `json:"last_update"`
	Frames       uint64    `json:"frames"`
	DecodeErrors uint64    `json:"decode_errors"`
}

// Aggregator owns one Snapshot. Poll (and Run) are the only writers; any
// goroutine may read through Snapshot or Status.
type Aggregator struct {
	codec *telemetry.Codec

	mu         sync.RWMutex
	snap       Snapshot
	lastUpdate time.Time

	frames       atomic.Uint64
	decodeErrors atomic.Uint64

	logger     *slog.Logger
	now        func() time.Time
	staleAfter time.Duration
	listeners  []func(Update)
}

type Option func(*Aggregator)

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithStaleAfter sets how long after the last frame Status still reports
// the bus as connected.
func WithStaleAfter(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.staleAfter = d
		}
	}
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// OnUpdate registers fn to run on the polling goroutine after every tick
// that received at least one frame. fn must not block.
func OnUpdate(fn func(Update)) Option {
	return func(a *Aggregator) {
		if fn != nil {
			a.listeners = append(a.listeners, fn)
		}
	}
}

// New creates an aggregator with every field at 0.0.
func New(codec *telemetry.Codec, opts ...Option) *Aggregator {
	if codec == nil {
		codec = telemetry.DefaultCodec()
	}
	a := &Aggregator{
		codec:      codec,
		logger:     logging.L(),
		now:        time.Now,
		staleAfter: defaultStaleAfter,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Snapshot returns a copy of the current values.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// DecodeErrors reports frames rejected by the codec since start.
func (a *Aggregator) DecodeErrors() uint64 { return a.decodeErrors.Load() }

func (a *Aggregator) Status() Status {
	a.mu.RLock()
	last := a.lastUpdate
	a.mu.RUnlock()
	return Status{
		Connected:    !last.IsZero() && a.now().Sub(last) <= a.staleAfter,
		LastUpdate:   last,
		Frames:       a.frames.Load(),
		DecodeErrors: a.decodeErrors.Load(),
	}
}

// Poll makes maxFrames receive attempts on src, each bounded by timeout,
// and folds every decoded frame into the snapshot. An idle attempt
// contributes nothing and polling goes on. All readings of one frame are applied under a
// single lock, so readers never observe part of a multi-value frame. Decode
// errors are counted and logged; they never abort the tick.
func (a *Aggregator) Poll(src transport.Source, maxFrames int, timeout time.Duration) TickResult {
	var res TickResult
	if maxFrames <= 0 {
		maxFrames = defaultMaxFrames
	}
	metrics.IncTick()
	for i := 0; i < maxFrames; i++ {
		fr, ok := src.Receive(timeout)
		if !ok {
			continue
		}
		res.Frames++
		a.frames.Add(1)
		rs, err := a.codec.Decode(fr)
		if err != nil {
			res.Errors++
			a.decodeErrors.Add(1)
			metrics.IncDecodeError()
			a.logger.Debug("decode_error", "can_id", fmt.Sprintf("0x%03X", fr.ID()), "len", fr.Len, "error", err)
			continue
		}
		a.apply(fr, rs)
		if len(rs) == 0 {
			res.Ignored++
			metrics.IncIgnored()
			continue
		}
		res.Readings += len(rs)
	}
	return res
}

func (a *Aggregator) apply(fr can.Frame, rs []telemetry.Reading) {
	now := a.now()
	a.mu.Lock()
	a.snap.Apply(rs)
	a.lastUpdate = now
	a.mu.Unlock()
	metrics.SetLastUpdate(float64(now.UnixNano()) / 1e9)
	if len(rs) == 0 {
		return
	}
	metrics.AddReadings(len(rs))
	for _, r := range rs {
		metrics.SetSensorValue(r.Field.String(), r.Value)
	}
	a.logger.Debug("frame_applied", "frame", fr.String(), "readings", len(rs))
}

// RunConfig bounds one polling tick.
type RunConfig struct {
	Interval    time.Duration // tick period
	MaxFrames   int           // receive attempts per tick
	RecvTimeout time.Duration // per attempt; clamped to Interval
}

// An idle tick waits MaxFrames*RecvTimeout; ticks missed meanwhile are
// coalesced by the ticker.

// Run polls src once per Interval until al is stopped. Updates already
// applied stay in the snapshot after Run returns.
func (a *Aggregator) Run(al *alive.Alive, src transport.Source, cfg RunConfig) {
	al.Add(1)
	defer al.Done()
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	if cfg.RecvTimeout > cfg.Interval {
		cfg.RecvTimeout = cfg.Interval
	}
	a.logger.Info("poll_start", "interval", cfg.Interval, "max_frames", cfg.MaxFrames, "recv_timeout", cfg.RecvTimeout)
	defer a.logger.Info("poll_end", "frames", a.frames.Load(), "decode_errors", a.decodeErrors.Load())

	t := time.NewTicker(cfg.Interval)
	defer t.Stop()
	for al.IsRunning() {
		select {
		case <-al.StopChan():
			return
		case <-t.C:
		}
		res := a.Poll(src, cfg.MaxFrames, cfg.RecvTimeout)
		if res.Frames == 0 || len(a.listeners) == 0 {
			continue
		}
		u := Update{Snapshot: a.Snapshot(), Time: a.now(), Result: res}
		for _, fn := range a.listeners {
			fn(u)
		}
	}
}
