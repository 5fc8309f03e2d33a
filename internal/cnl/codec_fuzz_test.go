package cnl

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/kstaniek/go-can-telemetry/internal/can"
)

// FuzzDecodeN feeds arbitrary gateway bytes to the stream decoder. Every
// delivered frame must be valid and the decoder must stop with a known
// error class.
func FuzzDecodeN(f *testing.F) {
	var c Codec
	f.Add(c.Encode([]can.Frame{mkFrame(0x011, 4)}))
	f.Add(c.Encode([]can.Frame{mkFrame(0x021, 6), mkFrame(0x013, 4)}))
	f.Add([]byte{0, 0, 0, 0x12, 9})
	f.Add([]byte{0, 0, 0, 0x12})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, err := c.DecodeN(bytes.NewReader(data), 16, func(fr can.Frame) {
			if fr.Len > can.MaxDataLen {
				t.Fatalf("frame with len %d delivered", fr.Len)
			}
		})
		switch {
		case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		case errors.Is(err, ErrTruncatedFrame), errors.Is(err, ErrInvalidLength):
		default:
			t.Fatalf("unexpected error class: %v", err)
		}
	})
}
