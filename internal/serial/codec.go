package serial

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
)

// Codec speaks the Lawicel SLCAN ASCII protocol used by USB-CAN adapters:
//
//	t01140000012C\r        standard data frame (id 011, dlc 4)
//	T123456782AABB\r       extended data frame
//	r0110\r, R123456780\r  remote frames
//
// Adapters acknowledge commands with \r and refuse them with \a (BEL).
type Codec struct{}

const (
	cr  = '\r'
	bel = 0x07

	// 'T' + 8 id + 1 dlc + 16 data + 4 optional timestamp
	maxLine = 1 + 8 + 1 + 16 + 4
)

// bitrateCodes maps bus speeds to SLCAN "S" setup codes.
var bitrateCodes = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// OpenCommands returns the sequence that closes any open channel, sets the
// bitrate and opens the channel again.
func OpenCommands(bitrate int) ([]byte, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
	}
	return []byte{'C', cr, 'S', code, cr, 'O', cr}, nil
}

// CloseCommand closes the CAN channel.
func CloseCommand() []byte { return []byte{'C', cr} }

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

const hexDigits = "0123456789ABCDEF"

func (Codec) Encode(f can.Frame) []byte {
	out := make([]byte, 0, maxLine)
	var idDigits int
	switch {
	case f.IsExtended() && f.IsRemote():
		out, idDigits = append(out, 'R'), 8
	case f.IsExtended():
		out, idDigits = append(out, 'T'), 8
	case f.IsRemote():
		out, idDigits = append(out, 'r'), 3
	default:
		out, idDigits = append(out, 't'), 3
	}
	id := f.ID()
	for i := idDigits - 1; i >= 0; i-- {
		out = append(out, hexDigits[(id>>(4*uint(i)))&0xF])
	}
	n := f.Len
	if n > can.MaxDataLen {
		n = can.MaxDataLen
	}
	out = append(out, '0'+n)
	if !f.IsRemote() {
		for _, b := range f.Data[:n] {
			out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
		}
	}
	return append(out, cr)
}

// DecodeStream consumes complete lines from in and emits frames via out.
// Partial lines stay buffered for the next call. Unparseable lines are
// counted as malformed and skipped; acknowledgements are swallowed.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) == 0 {
			return nil
		}
		if data[0] == bel {
			metrics.IncError(metrics.ErrSerialNack)
			in.Next(1)
			continue
		}
		end := bytes.IndexByte(data, cr)
		if end < 0 {
			if len(data) > maxLine {
				// no terminator where one must be; drop and resync
				metrics.IncMalformed()
				in.Reset()
			}
			return nil
		}
		line := data[:end]
		if len(line) > 0 {
			if fr, ok := parseLine(line); ok {
				out(fr)
				metrics.IncRx("serial")
			} else if !isAck(line) {
				metrics.IncMalformed()
			}
		}
		in.Next(end + 1)
	}
}

// isAck reports adapter replies to transmit and status commands.
func isAck(line []byte) bool {
	switch line[0] {
	case 'z', 'Z':
		return len(line) == 1
	case 'F', 'V', 'N':
		return true
	}
	return false
}

func parseLine(line []byte) (can.Frame, bool) {
	var (
		f        can.Frame
		idDigits int
		remote   bool
	)
	switch line[0] {
	case 't':
		idDigits = 3
	case 'T':
		idDigits = 8
		f.CANID |= can.CAN_EFF_FLAG
	case 'r':
		idDigits, remote = 3, true
	case 'R':
		idDigits, remote = 8, true
		f.CANID |= can.CAN_EFF_FLAG
	default:
		return f, false
	}
	if len(line) < 1+idDigits+1 {
		return f, false
	}
	id, err := strconv.ParseUint(string(line[1:1+idDigits]), 16, 32)
	if err != nil {
		return f, false
	}
	if (idDigits == 3 && id > can.CAN_SFF_MASK) || id > can.CAN_EFF_MASK {
		return f, false
	}
	dlc := line[1+idDigits]
	if dlc < '0' || dlc > '8' {
		return f, false
	}
	f.CANID |= uint32(id)
	f.Len = dlc - '0'
	if remote {
		f.CANID |= can.CAN_RTR_FLAG
		return f, true
	}
	hex := line[2+idDigits:]
	// trailing 4-digit timestamp is allowed and ignored
	if len(hex) != 2*int(f.Len) && len(hex) != 2*int(f.Len)+4 {
		return f, false
	}
	for i := 0; i < int(f.Len); i++ {
		hi, ok1 := unhex(hex[2*i])
		lo, ok2 := unhex(hex[2*i+1])
		if !ok1 || !ok2 {
			return f, false
		}
		f.Data[i] = hi<<4 | lo
	}
	return f, true
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
