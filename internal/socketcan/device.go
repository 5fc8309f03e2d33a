//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-telemetry/internal/can"
)

// ErrTimeout is returned by ReadFrame when the receive timeout elapsed
// without a frame.
var ErrTimeout = errors.New("socketcan: read timeout")

type Device struct {
	fd int
}

// Options tune the raw socket.
type Options struct {
	// ReadTimeout bounds each ReadFrame (SO_RCVTIMEO). Zero blocks.
	ReadTimeout time.Duration
	// FilterIDs restricts reception to these standard identifiers. Empty
	// accepts everything.
	FilterIDs []uint32
}

func Open(iface string, opts Options) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	if len(opts.FilterIDs) > 0 {
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, Filters(opts.FilterIDs)); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set CAN_RAW_FILTER: %w", err)
		}
	}
	if opts.ReadTimeout > 0 {
		tv := unix.NsecToTimeval(opts.ReadTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set SO_RCVTIMEO: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

// Filters builds exact-match standard-frame filters for ids.
func Filters(ids []uint32) []unix.CanFilter {
	out := make([]unix.CanFilter, 0, len(ids))
	seen := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, unix.CanFilter{
			Id:   id & can.CAN_SFF_MASK,
			Mask: can.CAN_SFF_MASK | can.CAN_EFF_FLAG | can.CAN_RTR_FLAG,
		})
	}
	return out
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame from the raw CAN socket.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte // classic CAN MTU = 16 bytes
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return ErrTimeout
		}
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}
	decodeRaw(buf[:], fr)
	return nil
}

// struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// The kernel uses host byte order; every supported target is little-endian.
func decodeRaw(buf []byte, fr *can.Frame) {
	dlc := int(buf[4])
	if dlc > can.MaxDataLen {
		dlc = can.MaxDataLen
	}
	fr.CANID = binary.LittleEndian.Uint32(buf[0:4])
	fr.Len = uint8(dlc)
	fr.Data = [can.MaxDataLen]byte{}
	copy(fr.Data[:], buf[8:8+dlc])
}

func encodeRaw(fr can.Frame, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	n := fr.Len
	if n > can.MaxDataLen {
		n = can.MaxDataLen
	}
	buf[4] = n
	copy(buf[8:], fr.Data[:n])
}

// WriteFrame writes one classic CAN frame to the raw CAN socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	encodeRaw(fr, buf[:])
	_, err := unix.Write(d.fd, buf[:])
	return err
}
