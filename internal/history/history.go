// Package history keeps a bounded trail of snapshot samples for plotting
// and CSV export.
package history

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/aggregate"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
)

// DefaultSize is the number of samples retained when New gets n <= 0.
const DefaultSize = 100

// Header is the fixed first row of every export.
var Header = []string{"Time", "Lux", "Acceleration", "Temperature"}

// Sample is one exported row. Time is seconds since the recorder started.
// Acceleration carries the anemometer speed, the only motion channel.
type Sample struct {
	Time         float64 `json:"time"`
	Lux          float64 `json:"lux"`
	Acceleration float64 `json:"acceleration"`
	Temperature  float64 `json:"temperature"`
}

// Recorder is a fixed-size ring of samples, safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	buf   []Sample
	start int // index of oldest
	n     int // samples held
	epoch time.Time
}

func New(size int, epoch time.Time) *Recorder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Recorder{buf: make([]Sample, size), epoch: epoch}
}

// Add appends a sample taken from snap at t, evicting the oldest one when
// the ring is full.
func (r *Recorder) Add(t time.Time, snap aggregate.Snapshot) {
	s := Sample{
		Time:         t.Sub(r.epoch).Seconds(),
		Lux:          snap.Get(telemetry.Lux),
		Acceleration: snap.Get(telemetry.AnemoSpeed),
		Temperature:  snap.Get(telemetry.Temperature),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// OnUpdate adapts Add to aggregate.OnUpdate.
func (r *Recorder) OnUpdate(u aggregate.Update) { r.Add(u.Time, u.Snapshot) }

// Samples returns the retained samples, oldest first.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Reset drops every sample. The live snapshot is not affected.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.start, r.n = 0, 0
	r.mu.Unlock()
}

// WriteCSV writes the header and one two-decimal row per sample.
func (r *Recorder) WriteCSV(w io.Writer) error {
	return WriteCSV(w, r.Samples())
}

func WriteCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	row := make([]string, 4)
	for _, s := range samples {
		row[0] = format(s.Time)
		row[1] = format(s.Lux)
		row[2] = format(s.Acceleration)
		row[3] = format(s.Temperature)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func format(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
