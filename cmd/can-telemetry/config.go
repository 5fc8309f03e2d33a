package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
)

type appConfig struct {
	backend         string
	canIf           string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	bitrate         int
	remote          string
	tick            time.Duration
	maxFrames       int
	recvTimeout     time.Duration
	rxBuffer        int
	hubPolicy       string
	history         int
	httpAddr        string
	mqttBroker      string
	mqttPrefix      string
	frameMap        string
	console         bool
	traceFrames     bool
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string

	// ids is resolved from frameMap after parsing.
	ids telemetry.IDMap
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	backend := flag.String("backend", "socketcan", "CAN backend: socketcan|serial|canpub|cannelloni|sim")
	canIf := flag.String("can-if", "can0", "CAN interface (socketcan and canpub backends)")
	serialDev := flag.String("serial", "/dev/ttyACM0", "SLCAN serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	bitrate := flag.Int("bitrate", 500000, "CAN bus bitrate configured on SLCAN adapters")
	remote := flag.String("remote", "", "cannelloni gateway address host:port (when --backend=cannelloni)")
	tick := flag.Duration("tick", 50*time.Millisecond, "Telemetry poll interval")
	maxFrames := flag.Int("max-frames", 10, "Receive attempts per poll tick")
	recvTimeout := flag.Duration("recv-timeout", 10*time.Millisecond, "Per-attempt receive bound (clamped to tick)")
	rxBuffer := flag.Int("rx-buffer", 256, "Frame queue between backend and aggregator")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy for the frame tracer: drop|kick (the poller always drops)")
	history := flag.Int("history", 100, "Samples kept for plots and CSV export")
	httpAddr := flag.String("http-addr", ":8080", "HTTP API and metrics listen address; empty disables")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883); empty disables")
	mqttPrefix := flag.String("mqtt-prefix", "can-telemetry", "MQTT topic prefix")
	frameMap := flag.String("frame-map", "", "HCL file overriding the CAN identifier map")
	console := flag.Bool("console", false, "Interactive command console on stdin")
	traceFrames := flag.Bool("trace-frames", false, "Log every received frame at debug level")
	logFormat := flag.String("log-format", "auto", "Log format: auto|text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Advertise the HTTP API via mDNS/Avahi")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default can-telemetry-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.bitrate = *bitrate
	cfg.remote = *remote
	cfg.tick = *tick
	cfg.maxFrames = *maxFrames
	cfg.recvTimeout = *recvTimeout
	cfg.rxBuffer = *rxBuffer
	cfg.hubPolicy = *hubPolicy
	cfg.history = *history
	cfg.httpAddr = *httpAddr
	cfg.mqttBroker = *mqttBroker
	cfg.mqttPrefix = *mqttPrefix
	cfg.frameMap = *frameMap
	cfg.console = *console
	cfg.traceFrames = *traceFrames
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "serial", "canpub", "sim":
	case "cannelloni":
		if c.remote == "" {
			return errors.New("cannelloni backend needs -remote host:port")
		}
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.rxBuffer <= 0 {
		return fmt.Errorf("rx-buffer must be > 0 (got %d)", c.rxBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.bitrate <= 0 {
		return fmt.Errorf("bitrate must be > 0 (got %d)", c.bitrate)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.tick <= 0 {
		return fmt.Errorf("tick must be > 0")
	}
	if c.maxFrames <= 0 {
		return fmt.Errorf("max-frames must be > 0 (got %d)", c.maxFrames)
	}
	if c.recvTimeout < 0 {
		return fmt.Errorf("recv-timeout must be >= 0")
	}
	if c.history <= 0 {
		return fmt.Errorf("history must be > 0 (got %d)", c.history)
	}
	if c.mqttBroker != "" && c.mqttPrefix == "" {
		return errors.New("mqtt-prefix must not be empty")
	}
	return nil
}

// applyEnvOverrides maps CAN_TELEMETRY_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored. Durations use time.ParseDuration format. The first malformed
// value is returned; the rest are still applied.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(name, k string) (string, bool) {
		if _, ok := set[name]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	fail := func(k string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", k, err)
		}
	}
	str := func(name, k string, dst *string) {
		if v, ok := get(name, k); ok {
			*dst = v
		}
	}
	integer := func(name, k string, dst *int) {
		if v, ok := get(name, k); ok {
			n, err := strconv.Atoi(v)
			switch {
			case err != nil:
				fail(k, err)
			case n <= 0:
				fail(k, fmt.Errorf("must be > 0 (got %d)", n))
			default:
				*dst = n
			}
		}
	}
	duration := func(name, k string, dst *time.Duration) {
		if v, ok := get(name, k); ok {
			d, err := time.ParseDuration(v)
			switch {
			case err != nil:
				fail(k, err)
			case d < 0:
				fail(k, fmt.Errorf("must be >= 0 (got %v)", d))
			default:
				*dst = d
			}
		}
	}
	boolean := func(name, k string, dst *bool) {
		if v, ok := get(name, k); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(k, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("backend", "CAN_TELEMETRY_BACKEND", &c.backend)
	str("can-if", "CAN_TELEMETRY_IF", &c.canIf)
	str("serial", "CAN_TELEMETRY_SERIAL", &c.serialDev)
	integer("baud", "CAN_TELEMETRY_BAUD", &c.baud)
	duration("serial-read-timeout", "CAN_TELEMETRY_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	integer("bitrate", "CAN_TELEMETRY_BITRATE", &c.bitrate)
	str("remote", "CAN_TELEMETRY_REMOTE", &c.remote)
	duration("tick", "CAN_TELEMETRY_TICK", &c.tick)
	integer("max-frames", "CAN_TELEMETRY_MAX_FRAMES", &c.maxFrames)
	duration("recv-timeout", "CAN_TELEMETRY_RECV_TIMEOUT", &c.recvTimeout)
	integer("rx-buffer", "CAN_TELEMETRY_RX_BUFFER", &c.rxBuffer)
	str("hub-policy", "CAN_TELEMETRY_HUB_POLICY", &c.hubPolicy)
	integer("history", "CAN_TELEMETRY_HISTORY", &c.history)
	str("mqtt-broker", "CAN_TELEMETRY_MQTT_BROKER", &c.mqttBroker)
	str("mqtt-prefix", "CAN_TELEMETRY_MQTT_PREFIX", &c.mqttPrefix)
	str("frame-map", "CAN_TELEMETRY_FRAME_MAP", &c.frameMap)
	boolean("console", "CAN_TELEMETRY_CONSOLE", &c.console)
	boolean("trace-frames", "CAN_TELEMETRY_TRACE_FRAMES", &c.traceFrames)
	str("log-format", "CAN_TELEMETRY_LOG_FORMAT", &c.logFormat)
	str("log-level", "CAN_TELEMETRY_LOG_LEVEL", &c.logLevel)
	duration("log-metrics-interval", "CAN_TELEMETRY_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	boolean("mdns-enable", "CAN_TELEMETRY_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "CAN_TELEMETRY_MDNS_NAME", &c.mdnsName)

	// An empty value disables the HTTP API, so presence alone counts here.
	if _, ok := set["http-addr"]; !ok {
		if v, ok := os.LookupEnv("CAN_TELEMETRY_HTTP_ADDR"); ok {
			c.httpAddr = strings.TrimSpace(v)
		}
	}
	return firstErr
}
