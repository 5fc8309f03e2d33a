package can

import (
	"errors"
	"fmt"
	"strings"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload limit.
const MaxDataLen = 8

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// Frame is a classic CAN frame as it travels between backends, the hub and
// the telemetry codec. CANID carries the EFF/RTR/ERR flags in its upper bits
// like SocketCAN does; only the first Len bytes of Data are valid.
//
// Frames are passed by value and never mutated after construction.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxDataLen]byte
}

// NewFrame builds a standard (11-bit) data frame. Payload beyond 8 bytes is
// an error, as is an identifier outside the standard range.
func NewFrame(id uint32, payload ...byte) (Frame, error) {
	var f Frame
	if id > CAN_SFF_MASK {
		return f, fmt.Errorf("%w: 0x%X", ErrInvalidID, id)
	}
	if len(payload) > MaxDataLen {
		return f, fmt.Errorf("%w: %d", ErrInvalidLen, len(payload))
	}
	f.CANID = id
	f.Len = uint8(len(payload))
	copy(f.Data[:], payload)
	return f, nil
}

// ID returns the arbitration identifier without flag bits.
func (f Frame) ID() uint32 {
	if f.IsExtended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

func (f Frame) IsExtended() bool { return f.CANID&CAN_EFF_FLAG != 0 }
func (f Frame) IsRemote() bool   { return f.CANID&CAN_RTR_FLAG != 0 }
func (f Frame) IsError() bool    { return f.CANID&CAN_ERR_FLAG != 0 }

// Payload returns the valid data bytes. The slice aliases a copy of the frame,
// so callers may not use it to mutate the original.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// Validate checks identifier range and length.
func (f Frame) Validate() error {
	if f.Len > MaxDataLen {
		return ErrInvalidLen
	}
	if f.IsExtended() {
		if f.CANID&^(CAN_EFF_FLAG|CAN_RTR_FLAG|CAN_ERR_FLAG) > CAN_EFF_MASK {
			return ErrInvalidID
		}
		return nil
	}
	if f.CANID&^(CAN_RTR_FLAG|CAN_ERR_FLAG) > CAN_SFF_MASK {
		return ErrInvalidID
	}
	return nil
}

// String renders the frame candump style: 011#0000012C.
func (f Frame) String() string {
	var b strings.Builder
	if f.IsExtended() {
		fmt.Fprintf(&b, "%08X#", f.ID())
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID())
	}
	if f.IsRemote() {
		b.WriteByte('R')
		return b.String()
	}
	for _, x := range f.Payload() {
		fmt.Fprintf(&b, "%02X", x)
	}
	return b.String()
}
