// Package sim is an in-process stand-in for the sensor board. It emits
// well-formed telemetry frames and reacts to command frames the way the
// firmware does: the motor speed drives the anemometer and the display
// command switches the light frame between lux and range.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
)

// Board simulates one sensor board.
type Board struct {
	ids   telemetry.IDMap
	start time.Time

	mu    sync.Mutex
	rng   *rand.Rand
	speed uint16
	flag  uint16 // 0 lux, 1 range
}

// NewBoard fails when ids does not validate; every frame the board builds
// afterwards is well-formed.
func NewBoard(ids telemetry.IDMap, seed uint64) (*Board, error) {
	if err := ids.Validate(); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	return &Board{
		ids:   ids,
		start: time.Now(),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}, nil
}

// Frames returns one frame per telemetry identifier for time t.
func (b *Board) Frames(t time.Time) []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	sec := t.Sub(b.start).Seconds()
	wave := func(period, lo, hi float64) float64 {
		mid, amp := (lo+hi)/2, (hi-lo)/2
		return mid + amp*math.Sin(2*math.Pi*sec/period) + b.rng.NormFloat64()*amp*0.02
	}

	var light float64
	if b.flag == 0 {
		light = wave(30, 50, 900) // lx
	} else {
		light = wave(10, 100, 2000) // mm
	}
	temp := wave(120, 18, 30) * 1000
	hum := wave(90, 35, 60) * 1000
	press := uint32(wave(300, 99, 103) * 1000)

	out := make([]can.Frame, 0, 5)
	out = append(out,
		frame(b.ids.Light, u16(float64(b.flag)), u16(light)),
		frame(b.ids.Anemometer, u16(float64(b.speed)), []byte{0}),
		frame(b.ids.Climate, u16(temp), u16(hum)),
		frame(b.ids.Pressure, u16(float64(press>>16)), u16(float64(press&0xFFFF))),
		frame(b.ids.Orientation, u16(wave(20, 0, 6283)), u16(wave(25, 0, 3141)), u16(wave(15, 0, 6283))),
	)
	return out
}

// SendFrame accepts command frames. Frames for other identifiers are
// accepted and ignored, as on a real bus.
func (b *Board) SendFrame(f can.Frame) error {
	p := f.Payload()
	if len(p) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch f.ID() {
	case b.ids.Motor:
		b.speed = uint16(p[0])
	case b.ids.Display:
		b.flag = uint16(p[0] & 1)
	}
	return nil
}

// Run emits Frames every interval until ctx is done.
func (b *Board) Run(ctx context.Context, interval time.Duration, emit func(can.Frame)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, f := range b.Frames(now) {
				emit(f)
			}
		}
	}
}

func u16(v float64) []byte {
	v = math.Max(0, math.Min(math.Round(v), math.MaxUint16))
	return binary.BigEndian.AppendUint16(nil, uint16(v))
}

func frame(id uint32, parts ...[]byte) can.Frame {
	var p []byte
	for _, x := range parts {
		p = append(p, x...)
	}
	// Identifiers were validated by NewBoard and payloads are at most 6
	// bytes, so NewFrame cannot fail here.
	f, err := can.NewFrame(id, p...)
	if err != nil {
		panic(err)
	}
	return f
}
