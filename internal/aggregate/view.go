package aggregate

import (
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
)

// View is the presentation form of a snapshot shared by the HTTP API, the
// MQTT publisher and the console.
type View struct {
	Values           map[string]float64 `json:"values"`
	Units            map[string]string  `json:"units"`
	DisplayMode      string             `json:"display_mode"`
	DisplayValue     float64            `json:"display_value"`
	LightState       string             `json:"light_state"`
	TemperatureState string             `json:"temperature_state"`
	Connected        bool               `json:"connected"`
	LastUpdate       *time.Time         `json:"last_update,omitempty"`
	DecodeErrors     uint64             `json:"decode_errors"`
}

var units = func() map[string]string {
	m := make(map[string]string, telemetry.NumFields)
	for _, f := range telemetry.Fields() {
		m[f.String()] = f.Unit()
	}
	return m
}()

// NewView renders s for display. mode picks which of Lux and Range feeds
// the shared light slot.
func NewView(s Snapshot, st Status, mode telemetry.DisplayMode) View {
	v := View{
		Values:           s.Values(),
		Units:            units,
		DisplayMode:      mode.String(),
		DisplayValue:     s.Get(mode.Field()),
		LightState:       telemetry.LightState(s.Get(telemetry.Lux)),
		TemperatureState: telemetry.TemperatureState(s.Get(telemetry.Temperature)),
		Connected:        st.Connected,
		DecodeErrors:     st.DecodeErrors,
	}
	if !st.LastUpdate.IsZero() {
		t := st.LastUpdate
		v.LastUpdate = &t
	}
	return v
}
