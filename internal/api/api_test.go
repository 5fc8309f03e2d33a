package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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

type fakeAgg struct {
	snap aggregate.Snapshot
	st   aggregate.Status
}

func (f *fakeAgg) Snapshot() aggregate.Snapshot { return f.snap }
func (f *fakeAgg) Status() aggregate.Status     { return f.st }

type env struct {
	srv  *httptest.Server
	hist *history.Recorder
	agg  *fakeAgg

	mu    sync.Mutex
	sent  []can.Frame
	sinkE error
}

func (e *env) frames() []can.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]can.Frame(nil), e.sent...)
}

func (e *env) failSink(err error) {
	e.mu.Lock()
	e.sinkE = err
	e.mu.Unlock()
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{agg: &fakeAgg{}}
	e.agg.snap.Apply([]telemetry.Reading{{Field: telemetry.Lux, Value: 300}, {Field: telemetry.Temperature, Value: 24}})
	e.agg.st = aggregate.Status{Connected: true, LastUpdate: time.Unix(1700000000, 0), DecodeErrors: 2}
	sink := transport.SinkFunc(func(f can.Frame) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.sinkE != nil {
			return e.sinkE
		}
		e.sent = append(e.sent, f)
		return nil
	})
	epoch := time.Unix(0, 0)
	e.hist = history.New(10, epoch)
	e.hist.Add(epoch.Add(time.Second), e.agg.snap)
	s := New(
		WithSnapshotter(e.agg),
		WithCommander(control.New(nil, sink, nil)),
		WithHistory(e.hist),
		WithBackend("sim"),
	)
	e.srv = httptest.NewServer(s.Handler())
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestSnapshotEndpoint(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v aggregate.View
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	assert.Equal(t, 300.0, v.Values["lux"])
	assert.Equal(t, 0.0, v.Values["pressure"])
	assert.Equal(t, "lux", v.DisplayMode)
	assert.Equal(t, "Moderate", v.LightState)
	assert.Equal(t, "Warm", v.TemperatureState)
	assert.True(t, v.Connected)
	assert.Equal(t, uint64(2), v.DecodeErrors)
}

func TestStatusEndpoint(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"backend":"sim"`)
	assert.Contains(t, body, `"connected":true`)
	assert.Contains(t, body, `"history_samples":1`)
}

func TestCommandEndpoint(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/command", `{"motor_speed":200}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	require.Len(t, e.frames(), 1)
	assert.Equal(t, "003#C800000103010401", e.frames()[0].String())

	resp, body = e.do(t, http.MethodPost, "/api/command", `{"display_mode":"range"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	assert.Contains(t, body, `"display_mode":"range"`)

	resp, _ = e.do(t, http.MethodPost, "/api/command", `{"motor_speed":300}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Len(t, e.frames(), 2)

	resp, _ = e.do(t, http.MethodPost, "/api/command", `{"fan":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/command", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	e.failSink(transport.ErrTxOverflow)
	resp, _ = e.do(t, http.MethodPost, "/api/command", `{"motor_speed":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/command", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHistoryEndpoints(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/history.csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "can_bus_data_")
	assert.Equal(t, "Time,Lux,Acceleration,Temperature\n1.00,300.00,0.00,24.00\n", body)

	resp, _ = e.do(t, http.MethodPost, "/api/history/reset", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = e.do(t, http.MethodGet, "/api/history.csv", "")
	assert.Equal(t, "Time,Lux,Acceleration,Temperature\n", body)
}

func TestMissingDependencies(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/snapshot"},
		{http.MethodPost, "/api/command"},
		{http.MethodGet, "/api/history.csv"},
	} {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, tc.path)
	}
}

func TestMetricsMounted(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
