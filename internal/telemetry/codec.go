// Package telemetry translates between raw CAN frames and typed sensor
// readings / board commands. Everything here is pure: no I/O, no shared
// state, safe for concurrent use.
package telemetry

import (
	"encoding/binary"
	"fmt"

	"github.com/kstaniek/go-can-telemetry/internal/can"
)

// IDMap assigns arbitration identifiers to frame layouts. Deployments may
// override it (see DefaultIDMap) when the board firmware uses another map.
type IDMap struct {
	Light       uint32 // flag + value, Lux or Range
	Anemometer  uint32
	Climate     uint32 // temperature + humidity
	Pressure    uint32 // 32-bit value split hi/lo
	Orientation uint32 // alpha, theta, psi

	Motor   uint32 // SetMotorSpeed
	Display uint32 // SetDisplayMode
}

// DefaultIDMap is the identifier map of the command-capable board firmware.
var DefaultIDMap = IDMap{
	Light:       0x11,
	Anemometer:  0x03,
	Climate:     0x12,
	Pressure:    0x13,
	Orientation: 0x21,
	Motor:       0x03,
	Display:     0x11,
}

// Validate checks that every identifier is a standard 11-bit ID and that no
// two decode layouts share an identifier.
func (m IDMap) Validate() error {
	named := []struct {
		name string
		id   uint32
	}{
		{"light", m.Light}, {"anemometer", m.Anemometer}, {"climate", m.Climate},
		{"pressure", m.Pressure}, {"orientation", m.Orientation},
		{"motor", m.Motor}, {"display", m.Display},
	}
	seen := make(map[uint32]string, 5)
	for i, n := range named {
		if n.id > can.CAN_SFF_MASK {
			return fmt.Errorf("%s identifier 0x%X exceeds 11 bits", n.name, n.id)
		}
		if i >= 5 { // command IDs may share with decode IDs
			continue
		}
		if prev, dup := seen[n.id]; dup {
			return fmt.Errorf("%s and %s share identifier 0x%X", prev, n.name, n.id)
		}
		seen[n.id] = n.name
	}
	return nil
}

// DecodeIDs lists the identifiers Decode understands (for kernel filters).
func (m IDMap) DecodeIDs() []uint32 {
	return []uint32{m.Light, m.Anemometer, m.Climate, m.Pressure, m.Orientation}
}

// commandSuffix trails every command payload. Its meaning is undocumented
// but the board firmware expects it verbatim.
var commandSuffix = [7]byte{0, 0, 1, 3, 1, 4, 1}

type layout struct {
	minLen int
	decode func(p []byte) []Reading
}

// Codec decodes telemetry frames and encodes commands for one IDMap.
type Codec struct {
	ids     IDMap
	layouts map[uint32]layout
}

// NewCodec builds a codec for ids.
func NewCodec(ids IDMap) (*Codec, error) {
	if err := ids.Validate(); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	c := &Codec{ids: ids, layouts: make(map[uint32]layout, 5)}
	c.layouts[ids.Light] = layout{minLen: 4, decode: decodeLight}
	c.layouts[ids.Anemometer] = layout{minLen: 3, decode: decodeAnemometer}
	c.layouts[ids.Climate] = layout{minLen: 4, decode: decodeClimate}
	c.layouts[ids.Pressure] = layout{minLen: 4, decode: decodePressure}
	c.layouts[ids.Orientation] = layout{minLen: 6, decode: decodeOrientation}
	return c, nil
}

// DefaultCodec returns a codec for DefaultIDMap.
func DefaultCodec() *Codec {
	c, err := NewCodec(DefaultIDMap)
	if err != nil {
		panic(err)
	}
	return c
}

// IDs returns the identifier map the codec was built with.
func (c *Codec) IDs() IDMap { return c.ids }

// Decode translates one frame into zero or more readings. Identifiers not in
// the map yield an empty result, never an error; so do extended, remote and
// error frames. A known identifier with a short payload fails with a
// *TruncatedError.
func (c *Codec) Decode(f can.Frame) ([]Reading, error) {
	if f.IsExtended() || f.IsRemote() || f.IsError() {
		return nil, nil
	}
	id := f.ID()
	l, ok := c.layouts[id]
	if !ok {
		return nil, nil
	}
	p := f.Payload()
	if len(p) < l.minLen {
		return nil, &TruncatedError{ID: id, ExpectedMin: l.minLen, Actual: len(p)}
	}
	return l.decode(p), nil
}

// Encode builds the frame for cmd. The payload is always 8 bytes and the
// identifier is standard.
func (c *Codec) Encode(cmd Command) (can.Frame, error) {
	var (
		id    uint32
		first byte
	)
	switch v := cmd.(type) {
	case SetMotorSpeed:
		if v.Speed < 0 || v.Speed > 0xFF {
			return can.Frame{}, &OutOfRangeError{What: "motor speed", Value: v.Speed, Min: 0, Max: 0xFF}
		}
		id, first = c.ids.Motor, byte(v.Speed)
	case SetDisplayMode:
		switch v.Mode {
		case ModeLux:
			first = 0
		case ModeRange:
			first = 1
		default:
			return can.Frame{}, fmt.Errorf("%w: %s", ErrUnknownCommand, v.Mode)
		}
		id = c.ids.Display
	default:
		return can.Frame{}, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	f := can.Frame{CANID: id, Len: can.MaxDataLen}
	f.Data[0] = first
	copy(f.Data[1:], commandSuffix[:])
	return f, nil
}

func u16(p []byte, off int) float64 { return float64(binary.BigEndian.Uint16(p[off : off+2])) }

func decodeLight(p []byte) []Reading {
	flag := binary.BigEndian.Uint16(p[0:2])
	switch flag {
	case 0:
		return []Reading{{Field: Lux, Value: u16(p, 2)}}
	case 1:
		return []Reading{{Field: Range, Value: u16(p, 2)}}
	default:
		return nil
	}
}

func decodeAnemometer(p []byte) []Reading {
	return []Reading{{Field: AnemoSpeed, Value: u16(p, 0)}}
}

func decodeClimate(p []byte) []Reading {
	return []Reading{
		{Field: Temperature, Value: u16(p, 0) / 1000},
		{Field: Humidity, Value: u16(p, 2) / 1000},
	}
}

func decodePressure(p []byte) []Reading {
	hi, lo := u16(p, 0), u16(p, 2)
	return []Reading{{Field: Pressure, Value: (hi*65536 + lo) / 1000}}
}

func decodeOrientation(p []byte) []Reading {
	return []Reading{
		{Field: Alpha, Value: u16(p, 0) / 1000},
		{Field: Theta, Value: u16(p, 2) / 1000},
		{Field: Psi, Value: u16(p, 4) / 1000},
	}
}
