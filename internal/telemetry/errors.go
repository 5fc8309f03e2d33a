package telemetry

import (
	"errors"
	"fmt"
)

// Sentinel errors; the typed errors below match them via errors.Is.
var (
	ErrTruncated      = errors.New("telemetry: truncated payload")
	ErrOutOfRange     = errors.New("telemetry: value out of range")
	ErrUnknownCommand = errors.New("telemetry: unknown command")
)

// TruncatedError reports a known identifier whose payload is shorter than
// its layout requires. The frame is dropped.
type TruncatedError struct {
	ID          uint32
	ExpectedMin int
	Actual      int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("telemetry: frame 0x%03X truncated: need %d bytes, got %d", e.ID, e.ExpectedMin, e.Actual)
}

func (e *TruncatedError) Is(target error) bool { return target == ErrTruncated }

// OutOfRangeError is returned by Encode before any frame is built.
type OutOfRangeError struct {
	What  string
	Value int
	Min   int
	Max   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("telemetry: %s %d outside %d..%d", e.What, e.Value, e.Min, e.Max)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }
