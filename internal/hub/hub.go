// Package hub fans raw frames from the active backend out to subscribers
// (the telemetry aggregator, the frame tracer) with bounded queues.
package hub

import (
	"sync"
	"time"

	"github.com/kstaniek/go-can-telemetry/internal/can"
	"github.com/kstaniek/go-can-telemetry/internal/logging"
	"github.com/kstaniek/go-can-telemetry/internal/metrics"
	"github.com/kstaniek/go-can-telemetry/internal/transport"
)

type BackpressurePolicy int

const (
	// PolicyDrop discards the newest frame for a full subscriber.
	PolicyDrop BackpressurePolicy = iota
	// PolicyKick closes a full subscriber.
	PolicyKick
)

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// Client is one subscriber. It implements transport.Source so a poller can
// pull from it with a bounded wait.
type Client struct {
	Name      string
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
	// noKick clients only lose frames on a full queue, whatever the hub
	// policy says.
	noKick bool
}

var _ transport.Source = (*Client)(nil)

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Receive returns the next queued frame, waiting at most timeout. A
// non-positive timeout only drains what is already queued.
func (c *Client) Receive(timeout time.Duration) (can.Frame, bool) {
	select {
	case fr := <-c.Out:
		return fr, true
	default:
	}
	if timeout <= 0 {
		return can.Frame{}, false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case fr := <-c.Out:
		return fr, true
	case <-c.Closed:
		return can.Frame{}, false
	case <-t.C:
		return can.Frame{}, false
	}
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Subscribe registers a new client with a queue of OutBufSize frames
// (512 when unset). The client follows the hub's Policy.
func (h *Hub) Subscribe(name string) *Client {
	c := h.newClient(name)
	h.Add(c)
	return c
}

// SubscribeNoKick registers a client that is never closed by Broadcast. A
// full queue drops the newest frame instead. Use it for consumers that
// never resubscribe, like the telemetry poller.
func (h *Hub) SubscribeNoKick(name string) *Client {
	c := h.newClient(name)
	c.noKick = true
	h.Add(c)
	return c
}

func (h *Hub) newClient(name string) *Client {
	n := h.OutBufSize
	if n <= 0 {
		n = 512
	}
	return &Client{Name: name, Out: make(chan can.Frame, n), Closed: make(chan struct{})}
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubSubscribers(cur)
	logging.L().Debug("hub_subscribe", "name", c.Name, "subscribers", cur)
}

// Remove unregisters a client and closes it; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubSubscribers(cur)
}

// Broadcast delivers a frame to every subscriber honoring the backpressure
// policy. It never blocks the backend RX loop.
func (h *Hub) Broadcast(fr can.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case <-c.Closed:
			continue
		default:
		}
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick && !c.noKick {
				metrics.IncHubKick()
				logging.L().Warn("hub_subscriber_kicked", "name", c.Name)
				c.Close()
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
