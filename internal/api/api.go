// Package api serves the telemetry snapshot, status, history export and the
// command endpoint over HTTP, next to /metrics and /ready.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/aggregate"
	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

const maxCommandBody = 4 << 10

// Snapshotter is the read side of the aggregator.
type Snapshotter interface {
	Snapshot() aggregate.Snapshot
	Status() aggregate.Status
}

// Commander issues commands and remembers the display mode.
type Commander interface {
	Send(telemetry.Command) error
	Mode() telemetry.DisplayMode
}

// History exports and clears recorded samples.
type History interface {
	WriteCSV(io.Writer) error
	Reset()
	Len() int
}

// Server holds the handlers' dependencies. Any of them may be nil; the
// matching endpoints then answer 503.
type Server struct {
	agg     Snapshotter
	cmd     Commander
	hist    History
	backend string
	version string
	started time.Time
	logger  *slog.Logger
}

type Option func(*Server)

func WithSnapshotter(a Snapshotter) Option { return func(s *Server) { s.agg = a } }
func WithCommander(c Commander) Option     { return func(s *Server) { s.cmd = c } }
func WithHistory(h History) Option         { return func(s *Server) { s.hist = h } }
func WithBackend(name string) Option       { return func(s *Server) { s.backend = name } }
func WithVersion(v string) Option          { return func(s *Server) { s.version = v } }
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(opts ...Option) *Server {
	s := &Server{started: time.Now(), logger: logging.L()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full mux including /metrics and /ready.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	metrics.Register(mux)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/history.csv", s.handleHistoryCSV)
	mux.HandleFunc("POST /api/history/reset", s.handleHistoryReset)
	return mux
}

func (s *Server) mode() telemetry.DisplayMode {
	if s.cmd == nil {
		return telemetry.ModeLux
	}
	return s.cmd.Mode()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.agg == nil {
		writeError(w, http.StatusServiceUnavailable, "aggregator not running")
		return
	}
	writeJSON(w, http.StatusOK, aggregate.NewView(s.agg.Snapshot(), s.agg.Status(), s.mode()))
}

type statusResponse struct {
	aggregate.Status
	Backend     string `json:"backend"`
	Version     string `json:"version,omitempty"`
	Uptime      string `json:"uptime"`
	DisplayMode string `json:"display_mode"`
	History     int    `json:"history_samples"`
	Commands    struct {
		Sent     uint64 `json:"sent"`
		Rejected uint64 `json:"rejected"`
		Failed   uint64 `json:"failed"`
	} `json:"commands"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Backend:     s.backend,
		Version:     s.version,
		Uptime:      time.Since(s.started).Truncate(time.Second).String(),
		DisplayMode: s.mode().String(),
	}
	if s.agg != nil {
		resp.Status = s.agg.Status()
	}
	if s.hist != nil {
		resp.History = s.hist.Len()
	}
	m := metrics.Snap()
	resp.Commands.Sent, resp.Commands.Rejected, resp.Commands.Failed = m.CommandsSent, m.CommandsRejected, m.CommandsFailed
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.cmd == nil {
		writeError(w, http.StatusServiceUnavailable, "commands disabled")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, err := telemetry.DecodeCommandJSON(body)
	if err != nil {
		metrics.IncCommand(metrics.CommandRejected)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cmd.Send(cmd); err != nil {
		writeError(w, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"command":      cmd.String(),
		"display_mode": s.cmd.Mode().String(),
	})
}

// commandStatus maps Commander errors to HTTP codes.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, telemetry.ErrOutOfRange), errors.Is(err, telemetry.ErrUnknownCommand):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transport.ErrTxOverflow), errors.Is(err, transport.ErrAsyncTxClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	name := fmt.Sprintf("can_bus_data_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := s.hist.WriteCSV(w); err != nil {
		metrics.IncError(metrics.ErrHTTP)
		s.logger.Warn("history_export_error", "error", err)
	}
}

func (s *Server) handleHistoryReset(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	s.hist.Reset()
	s.logger.Info("history_reset")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
