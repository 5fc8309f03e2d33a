package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames received from the bus backend.",
	}, []string{"backend"})
	TxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames written to the bus backend.",
	}, []string{"backend"})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_decode_errors_total",
		Help: "Frames with a known identifier but a truncated payload.",
	})
	IgnoredFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_ignored_frames_total",
		Help: "Frames that produced no reading (unknown identifier or unused flag).",
	})
	AppliedReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_readings_total",
		Help: "Readings folded into the snapshot.",
	})
	PollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_poll_ticks_total",
		Help: "Aggregator polling ticks.",
	})
	SensorValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensor_value",
		Help: "Last known scaled value per field.",
	}, []string{"field"})
	LastUpdate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_last_update_timestamp_seconds",
		Help: "Unix time of the last tick that received a frame.",
	})
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_total",
		Help: "Commands by outcome (sent, rejected, failed).",
	}, []string{"result"})
	MQTTPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_published_total",
		Help: "Snapshots published to the MQTT broker.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow subscribers.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_subscribers_total",
		Help: "Total subscribers closed due to backpressure kick policy.",
	})
	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_subscribers",
		Help: "Current number of frame subscribers.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed wire frames (bad length, bad syntax, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialRead      = "serial_read"
	ErrSerialWrite     = "serial_write"
	ErrSerialOverflow  = "serial_tx_overflow"
	ErrSerialNack      = "serial_nack"
	ErrSocketCANRead   = "socketcan_read"
	ErrSocketCANWrite  = "socketcan_write"
	ErrSocketCANOver   = "socketcan_tx_overflow"
	ErrCanpubWrite     = "canpub_write"
	ErrCanpubOver      = "canpub_tx_overflow"
	ErrCannelloniDial  = "cannelloni_dial"
	ErrCannelloniRead  = "cannelloni_read"
	ErrCannelloniWrite = "cannelloni_write"
	ErrCannelloniOver  = "cannelloni_tx_overflow"
	ErrMQTT            = "mqtt"
	ErrHTTP            = "http"
	CommandSent        = "sent"
	CommandRejected    = "rejected"
	CommandFailed      = "failed"
)

var errorLabels = []string{
	ErrSerialRead, ErrSerialWrite, ErrSerialOverflow, ErrSerialNack,
	ErrSocketCANRead, ErrSocketCANWrite, ErrSocketCANOver,
	ErrCanpubWrite, ErrCanpubOver,
	ErrCannelloniDial, ErrCannelloniRead, ErrCannelloniWrite, ErrCannelloniOver,
	ErrMQTT, ErrHTTP,
}

// Register mounts /metrics and /ready on mux.
func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
}

// StartHTTP serves h (or a mux with only /metrics and /ready when h is nil)
// on addr in the background.
func StartHTTP(addr string, h http.Handler) *http.Server {
	if h == nil {
		mux := http.NewServeMux()
		Register(mux)
		h = mux
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: h,
	}
	go func() {
		logging.L().Info("http_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			IncError(ErrHTTP)
			logging.L().Error("http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for logging and tests (no registry scraping)
var (
	localRx        uint64
	localTx        uint64
	localDecodeErr uint64
	localIgnored   uint64
	localReadings  uint64
	localTicks     uint64
	localCmdSent   uint64
	localCmdReject uint64
	localCmdFail   uint64
	localMQTT      uint64
	localHubDrop   uint64
	localHubKick   uint64
	localHubSubs   uint64
	localErrors    uint64
	localMalformed uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Rx               uint64
	Tx               uint64
	DecodeErrors     uint64
	Ignored          uint64
	Readings         uint64
	Ticks            uint64
	CommandsSent     uint64
	CommandsRejected uint64
	CommandsFailed   uint64
	MQTTPublished    uint64
	HubDrops         uint64
	HubKicks         uint64
	HubSubscribers   uint64
	Errors           uint64 // sum across error labels
	Malformed        uint64
}

func Snap() Snapshot {
	return Snapshot{
		Rx:               atomic.LoadUint64(&localRx),
		Tx:               atomic.LoadUint64(&localTx),
		DecodeErrors:     atomic.LoadUint64(&localDecodeErr),
		Ignored:          atomic.LoadUint64(&localIgnored),
		Readings:         atomic.LoadUint64(&localReadings),
		Ticks:            atomic.LoadUint64(&localTicks),
		CommandsSent:     atomic.LoadUint64(&localCmdSent),
		CommandsRejected: atomic.LoadUint64(&localCmdReject),
		CommandsFailed:   atomic.LoadUint64(&localCmdFail),
		MQTTPublished:    atomic.LoadUint64(&localMQTT),
		HubDrops:         atomic.LoadUint64(&localHubDrop),
		HubKicks:         atomic.LoadUint64(&localHubKick),
		HubSubscribers:   atomic.LoadUint64(&localHubSubs),
		Errors:           atomic.LoadUint64(&localErrors),
		Malformed:        atomic.LoadUint64(&localMalformed),
	}
}

// IncRx counts one frame received by backend.
func IncRx(backend string) {
	RxFrames.WithLabelValues(backend).Inc()
	atomic.AddUint64(&localRx, 1)
}

// IncTx counts one frame written by backend.
func IncTx(backend string) {
	TxFrames.WithLabelValues(backend).Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncDecodeError() {
	DecodeErrors.Inc()
	atomic.AddUint64(&localDecodeErr, 1)
}

func IncIgnored() {
	IgnoredFrames.Inc()
	atomic.AddUint64(&localIgnored, 1)
}

func AddReadings(n int) {
	AppliedReadings.Add(float64(n))
	atomic.AddUint64(&localReadings, uint64(n))
}

func IncTick() {
	PollTicks.Inc()
	atomic.AddUint64(&localTicks, 1)
}

// SetSensorValue publishes the last known value of one field.
func SetSensorValue(field string, v float64) { SensorValue.WithLabelValues(field).Set(v) }

// SetLastUpdate records the unix time (seconds) of the last received frame.
func SetLastUpdate(unixSeconds float64) { LastUpdate.Set(unixSeconds) }

// IncCommand counts a command outcome (CommandSent, CommandRejected, CommandFailed).
func IncCommand(result string) {
	Commands.WithLabelValues(result).Inc()
	switch result {
	case CommandSent:
		atomic.AddUint64(&localCmdSent, 1)
	case CommandRejected:
		atomic.AddUint64(&localCmdReject, 1)
	default:
		atomic.AddUint64(&localCmdFail, 1)
	}
}

func IncMQTTPublished() {
	MQTTPublished.Inc()
	atomic.AddUint64(&localMQTT, 1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubSubscribers(n int) {
	HubSubscribers.Set(float64(n))
	atomic.StoreUint64(&localHubSubs, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error series so dashboards see zeros before the first error.
	for _, lbl := range errorLabels {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, r := range []string{CommandSent, CommandRejected, CommandFailed} {
		Commands.WithLabelValues(r).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet: report ready so readiness checks don't flap during startup
		return true
	}
	return fn()
}
