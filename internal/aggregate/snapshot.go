package aggregate

import (
	"encoding/json"

	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
)

// Snapshot holds the last known value of every field. The zero value has
// every field at 0.0, which is also what a field reads until its first
// frame arrives. Snapshots are plain values: copying one yields an
// independent snapshot and == compares all fields.
type Snapshot struct {
	values [telemetry.NumFields]float64
}

// Get returns the value of f (0 for fields outside the set).
func (s Snapshot) Get(f telemetry.Field) float64 {
	if !f.Valid() {
		return 0
	}
	return s.values[f]
}

// Apply folds readings into s in order. Readings for fields outside the set
// are ignored.
func (s *Snapshot) Apply(rs []telemetry.Reading) {
	for _, r := range rs {
		if r.Field.Valid() {
			s.values[r.Field] = r.Value
		}
	}
}

// Values returns a name-keyed copy, e.g. {"lux": 300, "range": 0, ...}.
func (s Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, telemetry.NumFields)
	for _, f := range telemetry.Fields() {
		out[f.String()] = s.values[f]
	}
	return out
}

func (s Snapshot) MarshalJSON() ([]byte, error) { return json.Marshal(s.Values()) }
