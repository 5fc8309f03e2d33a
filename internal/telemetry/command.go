package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DisplayMode selects which of the two mutually exclusive light-sensor
// fields the board reports on the shared slot.
type DisplayMode int

const (
	ModeLux DisplayMode = iota
	ModeRange
)

func (m DisplayMode) String() string {
	switch m {
	case ModeLux:
		return "lux"
	case ModeRange:
		return "range"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Field returns the snapshot field shown in this mode.
func (m DisplayMode) Field() Field {
	if m == ModeRange {
		return Range
	}
	return Lux
}

// ParseDisplayMode accepts lux/light and range/distance, case-insensitive.
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lux", "light":
		return ModeLux, nil
	case "range", "distance":
		return ModeRange, nil
	default:
		return 0, fmt.Errorf("%w: display mode %q", ErrUnknownCommand, s)
	}
}

// MarshalText encodes the mode as its name, so JSON carries "lux" or "range".
func (m DisplayMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText is the inverse of MarshalText; it accepts the same
// spellings as ParseDisplayMode.
func (m *DisplayMode) UnmarshalText(b []byte) error {
	v, err := ParseDisplayMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Command is an outbound request encoded into one frame by Codec.Encode.
// The set of implementations is closed.
type Command interface {
	isCommand()
	String() string
}

// SetMotorSpeed drives the motor channel. Speed must fit one byte; it is an
// int so that out-of-range requests reach Encode and get rejected there.
type SetMotorSpeed struct {
	Speed int
}

// SetDisplayMode switches the shared light/range slot.
type SetDisplayMode struct {
	Mode DisplayMode
}

func (SetMotorSpeed) isCommand()  {}
func (SetDisplayMode) isCommand() {}

func (c SetMotorSpeed) String() string  { return fmt.Sprintf("motor_speed=%d", c.Speed) }
func (c SetDisplayMode) String() string { return fmt.Sprintf("display_mode=%s", c.Mode) }

// CommandRequest is the JSON shape accepted by the HTTP API and the MQTT
// command topic. Exactly one member must be set.
type CommandRequest struct {
	MotorSpeed  *int    `json:"motor_speed,omitempty"`
	DisplayMode *string `json:"display_mode,omitempty"`
}

// Command converts the request into a Command without range checking.
func (r CommandRequest) Command() (Command, error) {
	switch {
	case r.MotorSpeed != nil && r.DisplayMode != nil:
		return nil, fmt.Errorf("%w: motor_speed and display_mode are exclusive", ErrUnknownCommand)
	case r.MotorSpeed != nil:
		return SetMotorSpeed{Speed: *r.MotorSpeed}, nil
	case r.DisplayMode != nil:
		m, err := ParseDisplayMode(*r.DisplayMode)
		if err != nil {
			return nil, err
		}
		return SetDisplayMode{Mode: m}, nil
	default:
		return nil, fmt.Errorf("%w: empty request", ErrUnknownCommand)
	}
}

// DecodeCommandJSON parses a CommandRequest payload.
func DecodeCommandJSON(b []byte) (Command, error) {
	var req CommandRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCommand, err)
	}
	return req.Command()
}

// ParseCommand parses the console form: "motor 200" or "mode range".
func ParseCommand(line string) (Command, error) {
	parts := strings.Fields(line)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}
	switch strings.ToLower(parts[0]) {
	case "motor", "speed":
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: motor speed %q", ErrUnknownCommand, parts[1])
		}
		return SetMotorSpeed{Speed: n}, nil
	case "mode":
		m, err := ParseDisplayMode(parts[1])
		if err != nil {
			return nil, err
		}
		return SetDisplayMode{Mode: m}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, parts[0])
	}
}
