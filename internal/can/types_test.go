package can

import (
	"errors"
	"testing"
)

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(0x11, 0, 1, 2, 3)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if f.ID() != 0x11 || f.Len != 4 || f.IsExtended() {
		t.Fatalf("unexpected frame %+v", f)
	}
	if got := string(f.Payload()); got != string([]byte{0, 1, 2, 3}) {
		t.Fatalf("payload mismatch: % X", f.Payload())
	}
}

func TestNewFrameErrors(t *testing.T) {
	if _, err := NewFrame(0x800); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := NewFrame(0x1, 1, 2, 3, 4, 5, 6, 7, 8, 9); !errors.Is(err, ErrInvalidLen) {
		t.Fatalf("expected ErrInvalidLen, got %v", err)
	}
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
		ok   bool
	}{
		{"std", Frame{CANID: 0x7FF, Len: 8}, true},
		{"stdTooBig", Frame{CANID: 0x800}, false},
		{"ext", Frame{CANID: 0x1FFFFFFF | CAN_EFF_FLAG}, true},
		{"badLen", Frame{CANID: 0x1, Len: 9}, false},
	}
	for _, tc := range tests {
		err := tc.f.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestFrameString(t *testing.T) {
	f, _ := NewFrame(0x11, 0x00, 0x00, 0x01, 0x2C)
	if s := f.String(); s != "011#0000012C" {
		t.Fatalf("String() = %q", s)
	}
	ext := Frame{CANID: 0x1E5A | CAN_EFF_FLAG, Len: 1, Data: [8]byte{0xAB}}
	if s := ext.String(); s != "00001E5A#AB" {
		t.Fatalf("String() = %q", s)
	}
}
