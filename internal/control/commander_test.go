package control

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

type recordSink struct {
	frames []can.Frame
	err    error
}

func (r *recordSink) SendFrame(f can.Frame) error {
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func TestSendMotorSpeed(t *testing.T) {
	sink := &recordSink{}
	c := New(nil, sink, nil)
	before := metrics.Snap()

	require.NoError(t, c.Send(telemetry.SetMotorSpeed{Speed: 200}))
	require.Len(t, sink.frames, 1)
	assert.Equal(t, "003#C800000103010401", sink.frames[0].String())
	assert.Equal(t, before.CommandsSent+1, metrics.Snap().CommandsSent)
}

func TestOutOfRangeNeverReachesSink(t *testing.T) {
	sink := &recordSink{}
	c := New(nil, sink, nil)
	before := metrics.Snap()

	err := c.Send(telemetry.SetMotorSpeed{Speed: 256})
	require.ErrorIs(t, err, telemetry.ErrOutOfRange)
	assert.Empty(t, sink.frames)
	assert.Equal(t, before.CommandsRejected+1, metrics.Snap().CommandsRejected)
}

func TestModeFollowsSuccessfulCommands(t *testing.T) {
	sink := &recordSink{}
	c := New(nil, sink, nil)
	assert.Equal(t, telemetry.ModeLux, c.Mode())

	require.NoError(t, c.Send(telemetry.SetDisplayMode{Mode: telemetry.ModeRange}))
	assert.Equal(t, telemetry.ModeRange, c.Mode())
	assert.Equal(t, "011#0100000103010401", sink.frames[0].String())

	sink.err = transport.ErrTxOverflow
	err := c.Send(telemetry.SetDisplayMode{Mode: telemetry.ModeLux})
	require.True(t, errors.Is(err, transport.ErrTxOverflow))
	assert.Equal(t, telemetry.ModeRange, c.Mode())
}

func TestNoSink(t *testing.T) {
	c := New(nil, nil, nil)
	assert.ErrorIs(t, c.Send(telemetry.SetMotorSpeed{Speed: 1}), ErrNoSink)
}
