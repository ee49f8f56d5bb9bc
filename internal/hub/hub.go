// Package hub fans events out to connected subscribers.
//
// Each client owns a bounded queue drained by its own writer goroutine, so a
// slow subscriber never blocks the caller of Broadcast or the other clients.
// Enqueueing happens under the hub lock, which gives every client the same
// order of broadcasts.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r0bb10/phone-bridge/internal/event"
	"github.com/r0bb10/phone-bridge/internal/logging"
	"github.com/r0bb10/phone-bridge/internal/metrics"
)

// Sink is the outbound half of one connection.
type Sink interface {
	WriteFrame(frame []byte) error
	Ping() error
	Close() error
}

// Options tune per-client queues.
type Options struct {
	QueueSize    int
	PingInterval time.Duration // 0 disables keepalive pings
}

// Client is one subscriber registered with the hub.
type Client struct {
	ID   string
	sink Sink
	send chan []byte
	gone chan struct{} // closed by the writer on exit
}

func (c *Client) done() <-chan struct{} { return c.gone }

type Hub struct {
	opts Options
	log  *logging.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func New(opts Options, log *logging.Logger) *Hub {
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	return &Hub{opts: opts, log: log, clients: map[*Client]struct{}{}}
}

// Join registers a sink and starts its writer. snapshot, when not nil, is
// called under the hub lock and its events are queued first, so no broadcast
// can fall between the snapshot and the client's registration.
func (h *Hub) Join(sink Sink, snapshot func() []event.Event) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		sink: sink,
		gone: make(chan struct{}),
	}

	h.mu.Lock()
	var evs []event.Event
	if snapshot != nil {
		evs = snapshot()
	}
	c.send = make(chan []byte, h.opts.QueueSize+len(evs))
	h.clients[c] = struct{}{}
	for _, ev := range evs {
		b, err := event.Encode(ev)
		if err != nil {
			h.log.Errorw("encode snapshot", "client", c.ID, "error", err)
			continue
		}
		c.send <- b
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.Clients.Set(float64(n))
	h.log.Infow("client connected", "client", c.ID, "clients", n)
	go h.writePump(c)
	return c
}

// Leave unregisters the client and closes its sink. Safe to call more than once.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()

	if removed {
		metrics.Clients.Set(float64(n))
		h.log.Infow("client disconnected", "client", c.ID, "clients", n)
	}
}

// Broadcast sends the event to every client in call order. Clients whose
// queue is full are disconnected.
func (h *Hub) Broadcast(ev event.Event) {
	b, err := event.Encode(ev)
	if err != nil {
		h.log.Errorw("encode broadcast", "error", err)
		return
	}
	metrics.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	h.mu.Lock()
	var dropped []*Client
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.removeLocked(c)
			dropped = append(dropped, c)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Infow("EVENT OUT", "event", ev.Kind, "clients", n)
	for _, c := range dropped {
		metrics.ClientsDropped.Inc()
		h.log.Warnw("slow client dropped", "client", c.ID)
	}
	if len(dropped) > 0 {
		metrics.Clients.Set(float64(n))
	}
}

// Unicast sends the event to one client only. It reports false when the
// client is gone or had to be dropped.
func (h *Hub) Unicast(c *Client, ev event.Event) bool {
	b, err := event.Encode(ev)
	if err != nil {
		h.log.Errorw("encode unicast", "client", c.ID, "error", err)
		return false
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return false
	}
	select {
	case c.send <- b:
		h.mu.Unlock()
		return true
	default:
		h.removeLocked(c)
		n := len(h.clients)
		h.mu.Unlock()
		metrics.ClientsDropped.Inc()
		metrics.Clients.Set(float64(n))
		h.log.Warnw("slow client dropped", "client", c.ID)
		return false
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()
	metrics.Clients.Set(0)
}

func (h *Hub) removeLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

func (h *Hub) writePump(c *Client) {
	defer close(c.gone)
	defer c.sink.Close()

	var tick <-chan time.Time
	if h.opts.PingInterval > 0 {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.sink.WriteFrame(msg); err != nil {
				h.log.Warnw("write to client failed", "client", c.ID, "error", err)
				h.drop(c)
				return
			}
		case <-tick:
			if err := c.sink.Ping(); err != nil {
				h.log.Debugw("ping failed", "client", c.ID, "error", err)
				h.drop(c)
				return
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	if removed {
		metrics.ClientsDropped.Inc()
		metrics.Clients.Set(float64(n))
	}
}
