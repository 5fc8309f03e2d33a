package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
)

func std(id uint32, data ...byte) can.Frame {
	fr, err := can.NewFrame(id, data...)
	if err != nil {
		panic(err)
	}
	return fr
}

func ext(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func TestEncode(t *testing.T) {
	codec := Codec{}
	cases := []struct {
		in   can.Frame
		want string
	}{
		{std(0x011, 0x00, 0x00, 0x01, 0x2C), "t01140000012C\r"},
		{std(0x003, 0xC8, 0, 0, 1, 3, 1, 4, 1), "t0038C800000103010401\r"},
		{std(0x7FF), "t7FF0\r"},
		{ext(0x12345678, 0xAA, 0xBB), "T123456782AABB\r"},
		{can.Frame{CANID: 0x011 | can.CAN_RTR_FLAG, Len: 2}, "r0112\r"},
	}
	for _, c := range cases {
		if got := string(codec.Encode(c.in)); got != c.want {
			t.Fatalf("Encode(%s) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSerialCodec_RoundTrip_Chunked(t *testing.T) {
	codec := Codec{}

	want := []can.Frame{
		std(0x011, 0x00, 0x00, 0x01, 0x2C),
		std(0x021, 0x03, 0xE8, 0x07, 0xD0, 0x0B, 0xB8),
		ext(0x0123456, 0x9A, 0xBC),
		std(0x012),
		std(0x013, 0x00, 0x01, 0x86, 0xA0, 0xDE, 0xAD, 0xBE, 0xEF),
	}

	stream := make([]byte, 0, 256)
	for _, fr := range want {
		stream = append(stream, codec.Encode(fr)...)
	}

	var buf bytes.Buffer
	got := make([]can.Frame, 0, len(want))

	// Feed in irregular small chunks to stress line reassembly.
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n

		if err := codec.DecodeStream(&buf, func(fr can.Frame) {
			got = append(got, fr)
		}); err != nil {
			t.Fatalf("DecodeStream error: %v", err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d mismatch\n got  %s\n want %s", i, got[i], want[i])
		}
	}
}

func TestDecodeStreamSkipsAcksAndTimestamps(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("\r\rz\rV1013\rt0032006412AB\r")
	var got []can.Frame
	if err := (Codec{}).DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != std(0x003, 0x00, 0x64) {
		t.Fatalf("got %v", got)
	}
	if buf.Len() != 0 {
		t.Fatalf("leftover %q", buf.String())
	}
}

// TestDecodeStreamMalformed ensures bad lines bump the metric and do not
// stall the frames behind them.
func TestDecodeStreamMalformed(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}
	before := metrics.Snap().Malformed

	buf.WriteString("t0114000001\r") // short payload
	buf.WriteString("tFFF0\r")       // not an 11-bit id
	buf.WriteString("t0119\r")       // dlc > 8
	buf.WriteString("t01120G00\r")   // bad hex
	buf.WriteString("t0111FF\r")     // good
	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	after := metrics.Snap().Malformed
	if after != before+4 {
		t.Fatalf("expected 4 malformed, before=%d after=%d", before, after)
	}
	if len(got) != 1 || got[0] != std(0x011, 0xFF) {
		t.Fatalf("got %v", got)
	}
}

func TestDecodeStreamResyncsOnGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{'x'}, 64))
	before := metrics.Snap().Malformed
	_ = (Codec{}).DecodeStream(&buf, func(can.Frame) { t.Fatal("unexpected frame") })
	if buf.Len() != 0 {
		t.Fatalf("garbage kept: %d bytes", buf.Len())
	}
	if metrics.Snap().Malformed != before+1 {
		t.Fatal("expected malformed count")
	}
}

func TestOpenCommands(t *testing.T) {
	got, err := OpenCommands(500000)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "C\rS6\rO\r" {
		t.Fatalf("got %q", got)
	}
	if _, err := OpenCommands(42); err == nil {
		t.Fatal("expected error for unsupported bitrate")
	}
}

type fakePort struct {
	bytes.Buffer
	err error
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	return p.Buffer.Write(b)
}
func (p *fakePort) Close() error { return nil }

func TestStartStop(t *testing.T) {
	p := &fakePort{}
	if err := Start(p, 125000); err != nil {
		t.Fatal(err)
	}
	if err := Stop(p); err != nil {
		t.Fatal(err)
	}
	if p.String() != "C\rS4\rO\rC\r" {
		t.Fatalf("wrote %q", p.String())
	}
	boom := errors.New("boom")
	if err := Start(&fakePort{err: boom}, 125000); !errors.Is(err, boom) {
		t.Fatalf("want wrapped write error, got %v", err)
	}
}
