package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-can-telemetry/internal/aggregate"
	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/control"
	"github.com/kstaniek/go-can-telemetry/internal/history"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

type consoleEnv struct {
	c    *console
	out  *bytes.Buffer
	sent []can.Frame
	hist *history.Recorder
	quit bool
}

func newConsoleEnv(t *testing.T) *consoleEnv {
	t.Helper()
	e := &consoleEnv{out: &bytes.Buffer{}, hist: history.New(4, time.Unix(0, 0))}
	sink := transport.SinkFunc(func(fr can.Frame) error { e.sent = append(e.sent, fr); return nil })
	e.c = &console{
		agg:  aggregate.New(nil),
		cmd:  control.New(nil, sink, testLogger()),
		hist: e.hist,
		out:  e.out,
		quit: func() { e.quit = true },
	}
	return e
}

func TestConsoleCommands(t *testing.T) {
	e := newConsoleEnv(t)
	e.c.exec("motor 200")
	e.c.exec("mode range")
	require.Len(t, e.sent, 2)
	assert.Equal(t, "003#C800000103010401", e.sent[0].String())
	assert.Equal(t, "011#0100000103010401", e.sent[1].String())
	assert.Equal(t, telemetry.ModeRange, e.c.cmd.Mode())

	e.out.Reset()
	e.c.exec("motor 300")
	assert.Contains(t, e.out.String(), "error:")
	assert.Len(t, e.sent, 2)
}

func TestConsoleShowAndHelp(t *testing.T) {
	e := newConsoleEnv(t)
	e.c.exec("show")
	for _, f := range telemetry.Fields() {
		assert.Contains(t, e.out.String(), f.String())
	}
	assert.Contains(t, e.out.String(), "mode=lux")

	e.out.Reset()
	e.c.exec("help")
	assert.Contains(t, e.out.String(), "export")

	e.out.Reset()
	e.c.exec("frobnicate")
	assert.Contains(t, e.out.String(), "unknown command")
}

func TestConsoleExportAndReset(t *testing.T) {
	e := newConsoleEnv(t)
	var s aggregate.Snapshot
	s.Apply([]telemetry.Reading{{Field: telemetry.Temperature, Value: 21.5}})
	e.hist.Add(time.Unix(2, 0), s)

	p := filepath.Join(t.TempDir(), "out.csv")
	e.c.exec("export " + p)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "Time,Lux,Acceleration,Temperature\n2.00,0.00,0.00,21.50\n", string(b))

	e.c.exec("export")
	assert.Contains(t, e.out.String(), "usage")

	e.c.exec("reset")
	assert.Equal(t, 0, e.hist.Len())
}

func TestConsoleScanAndQuit(t *testing.T) {
	e := newConsoleEnv(t)
	e.c.scan(strings.NewReader("\n  mode range \nquit\n"))
	assert.Len(t, e.sent, 1)
	assert.True(t, e.quit)
}
