// Package tele mirrors the telemetry view to an MQTT broker and accepts
// commands from it.
//
// Topics, for prefix "can-telemetry":
//
//	can-telemetry/telemetry  retained JSON view, latest wins
//	can-telemetry/status     retained "online"/"offline" (last will)
//	can-telemetry/command    {"motor_speed":200} or {"display_mode":"range"}
package tele

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kstaniek/go-can-telemetry/internal/aggregate"
	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
)

const (
	defaultNetworkTimeout = 5 * time.Second
	qos                   = 1
)

var ErrTimeout = errors.New("mqtt: timeout")

// client is the subset of mqtt.Client used here.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

var newClient = func(o *mqtt.ClientOptions) client { return mqtt.NewClient(o) }

type Config struct {
	Broker         string // tcp://host:1883
	ClientID       string
	Prefix         string
	NetworkTimeout time.Duration
}

// Publisher owns one broker session.
type Publisher struct {
	cfg       Config
	m         client
	onCommand func(telemetry.Command) error
	logger    *slog.Logger
	latest    chan aggregate.View

	topicTelemetry string
	topicStatus    string
	topicCommand   string
}

// New prepares a publisher; nothing touches the network before Run.
// onCommand may be nil to ignore the command topic.
func New(cfg Config, onCommand func(telemetry.Command) error) *Publisher {
	if cfg.NetworkTimeout < time.Second {
		cfg.NetworkTimeout = defaultNetworkTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "can-telemetry"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = cfg.Prefix
	}
	p := &Publisher{
		cfg:            cfg,
		onCommand:      onCommand,
		logger:         logging.L().With("component", "mqtt"),
		latest:         make(chan aggregate.View, 1),
		topicTelemetry: cfg.Prefix + "/telemetry",
		topicStatus:    cfg.Prefix + "/status",
		topicCommand:   cfg.Prefix + "/command",
	}
	opt := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetAutoReconnect(true).
		SetBinaryWill(p.topicStatus, []byte("offline"), qos, true).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.NetworkTimeout * 3).
		SetKeepAlive(cfg.NetworkTimeout * 2).
		SetMaxReconnectInterval(cfg.NetworkTimeout * 3).
		SetOrderMatters(false).
		SetPingTimeout(cfg.NetworkTimeout).
		SetWriteTimeout(cfg.NetworkTimeout).
		SetOnConnectHandler(func(mqtt.Client) { p.online() })
	p.m = newClient(opt)
	return p
}

// Offer queues v for publishing, replacing any view not yet sent. It never
// blocks, so it is safe to call from the polling goroutine.
func (p *Publisher) Offer(v aggregate.View) {
	for {
		select {
		case p.latest <- v:
			return
		default:
		}
		select {
		case <-p.latest:
		default:
		}
	}
}

// Run connects (retrying until ctx is done) and publishes offered views.
// On return the status topic reads "offline" and the session is closed.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		err := p.wait(p.m.Connect(), "connect")
		if err == nil {
			break
		}
		metrics.IncError(metrics.ErrMQTT)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	p.logger.Info("mqtt_connected", "broker", p.cfg.Broker)
	defer p.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-p.latest:
			if err := p.publish(v); err != nil {
				metrics.IncError(metrics.ErrMQTT)
				continue
			}
			metrics.IncMQTTPublished()
		}
	}
}

// online runs on every (re)connect: paho does not restore subscriptions
// without a persistent session.
func (p *Publisher) online() {
	go func() {
		if err := p.wait(p.m.Publish(p.topicStatus, qos, true, []byte("online")), "publish status"); err != nil {
			metrics.IncError(metrics.ErrMQTT)
		}
		if p.onCommand == nil {
			return
		}
		if err := p.wait(p.m.Subscribe(p.topicCommand, qos, p.handleCommand), "subscribe:"+p.topicCommand); err != nil {
			metrics.IncError(metrics.ErrMQTT)
		}
	}()
}

func (p *Publisher) publish(v aggregate.View) error {
	if !p.m.IsConnected() {
		return errors.New("mqtt: not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.wait(p.m.Publish(p.topicTelemetry, qos, true, payload), "publish telemetry")
}

func (p *Publisher) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	// Ack even on bad input so the broker does not redeliver it.
	defer msg.Ack()
	cmd, err := telemetry.DecodeCommandJSON(msg.Payload())
	if err != nil {
		metrics.IncCommand(metrics.CommandRejected)
		p.logger.Warn("mqtt_command_invalid", "payload", string(msg.Payload()), "error", err)
		return
	}
	if err := p.onCommand(cmd); err != nil {
		p.logger.Warn("mqtt_command_failed", "command", cmd.String(), "error", err)
		return
	}
	p.logger.Info("mqtt_command", "command", cmd.String())
}

func (p *Publisher) close() {
	_ = p.wait(p.m.Publish(p.topicStatus, qos, true, []byte("offline")), "publish status")
	p.m.Disconnect(uint(p.cfg.NetworkTimeout / time.Millisecond))
	p.logger.Info("mqtt_disconnected")
}

func (p *Publisher) wait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(p.cfg.NetworkTimeout) {
		err := fmt.Errorf("%s: %w", tag, ErrTimeout)
		p.logger.Error("mqtt_error", "error", err)
		return err
	}
	if err := t.Error(); err != nil {
		err = fmt.Errorf("%s: %w", tag, err)
		p.logger.Error("mqtt_error", "error", err)
		return err
	}
	return nil
}
