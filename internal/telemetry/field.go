package telemetry

import (
	"fmt"
	"strings"
)

// Field identifies a physical quantity carried on the bus. The set is closed.
type Field int

const (
	Lux Field = iota
	Range
	AnemoSpeed
	Temperature
	Humidity
	Pressure
	Alpha
	Theta
	Psi

	fieldCount
)

// NumFields is the size of the closed Field set.
const NumFields = int(fieldCount)

var fieldNames = [NumFields]string{
	Lux:         "lux",
	Range:       "range",
	AnemoSpeed:  "anemo_speed",
	Temperature: "temperature",
	Humidity:    "humidity",
	Pressure:    "pressure",
	Alpha:       "alpha",
	Theta:       "theta",
	Psi:         "psi",
}

var fieldUnits = [NumFields]string{
	Lux:         "lx",
	Range:       "mm",
	AnemoSpeed:  "rpm",
	Temperature: "°C",
	Humidity:    "%",
	Pressure:    "kPa",
	Alpha:       "rad",
	Theta:       "rad",
	Psi:         "rad",
}

// Fields lists every Field in declaration order.
func Fields() []Field {
	out := make([]Field, NumFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// Valid reports whether f names one of the snapshot fields.
func (f Field) Valid() bool { return f >= 0 && f < fieldCount }

func (f Field) String() string {
	if !f.Valid() {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Unit is the display unit of the scaled value.
func (f Field) Unit() string {
	if !f.Valid() {
		return ""
	}
	return fieldUnits[f]
}

// ParseField maps a field name (case-insensitive) back to its Field.
func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range fieldNames {
		if n == s {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", s)
}

// Reading is one unit-scaled value decoded from a frame.
type Reading struct {
	Field Field
	Value float64
}

func (r Reading) String() string { return fmt.Sprintf("%s=%g", r.Field, r.Value) }
