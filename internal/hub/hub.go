// Package hub is the registry of connected operator sessions. Operators
// connect over websocket, identify with their extension, and receive
// every message broadcast to that extension.
package hub

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const sendBuffer = 32

// Options configures a Hub.
type Options struct {
	// ProbeInterval is the liveness probe period.
	ProbeInterval time.Duration
	// WriteTimeout bounds every write to a client.
	WriteTimeout time.Duration
}

// Hub tracks operator sessions and fans messages out to them.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// Client is one operator transport connection.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time
	alive       atomic.Bool

	mu       sync.Mutex
	operator string // empty until identified
}

// Operator returns the identified extension, or "" before identify.
func (c *Client) Operator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operator
}

// identify upgrades the client to authenticated. It reports false when
// the client is already bound to a different operator.
func (c *Client) identify(operator string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.operator != "" && c.operator != operator {
		return false
	}
	c.operator = operator
	return true
}

// New creates a Hub.
func New(opts Options) *Hub {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

type inbound struct {
	Type      string `json:"type"`
	Extension string `json:"extension"`
}

type identified struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Extension string    `json:"extension"`
}

type pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ServeHTTP upgrades the request to a websocket operator session and
// serves it until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("operator websocket upgrade failed")
		return
	}

	c := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		connectedAt: time.Now(),
	}
	c.alive.Store(true)
	conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("operator connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *Client) {
	defer h.remove(c, "read closed")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.alive.Store(true)

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("client", c.id).Msg("invalid operator message")
			continue
		}

		switch msg.Type {
		case "identify":
			if msg.Extension == "" {
				log.Warn().Str("client", c.id).Msg("identify without extension")
				continue
			}
			if !c.identify(msg.Extension) {
				log.Warn().Str("client", c.id).Str("operator", c.Operator()).Str("requested", msg.Extension).Msg("ignoring re-identify to another operator")
				continue
			}
			log.Info().Str("client", c.id).Str("operator", msg.Extension).Msg("operator identified")
			h.enqueue(c, identified{Type: "identified", Timestamp: time.Now().UTC(), Extension: msg.Extension})
		case "ping":
			h.enqueue(c, pong{Type: "pong", Timestamp: time.Now().UTC()})
		default:
			log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("unknown operator message type")
		}
	}
}

func (h *Hub) writePump(c *Client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Warn().Err(err).Str("client", c.id).Str("operator", c.Operator()).Msg("operator write failed")
			h.remove(c, "write failed")
			return
		}
	}
}

// enqueue sends v to a single client. A full buffer drops the client.
func (h *Hub) enqueue(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encoding operator message")
		return
	}
	h.mu.RLock()
	_, ok := h.clients[c]
	full := false
	if ok {
		select {
		case c.send <- data:
		default:
			full = true
		}
	}
	h.mu.RUnlock()
	if full {
		h.remove(c, "send buffer full")
	}
}

// remove closes c and drops it from the registry. Safe to call more
// than once.
func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()

	c.conn.Close()
	log.Info().Str("client", c.id).Str("operator", c.Operator()).Str("reason", reason).Msg("operator disconnected")
}

// Broadcast delivers v to every identified session of operator and
// returns how many sessions it was queued for. Sessions that cannot
// take the message are removed.
func (h *Hub) Broadcast(operator string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("operator", operator).Msg("encoding broadcast")
		return 0
	}

	var dead []*Client
	delivered := 0
	h.mu.RLock()
	for c := range h.clients {
		if c.Operator() != operator {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.remove(c, "send buffer full")
	}
	return delivered
}

// IsConnected reports whether operator has at least one identified session.
func (h *Hub) IsConnected(operator string) bool {
	if operator == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.Operator() == operator {
			return true
		}
	}
	return false
}

// Probe runs one liveness pass: sessions not seen alive since the last
// pass are closed, the rest are marked unconfirmed and pinged.
func (h *Hub) Probe() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.alive.Swap(false) {
			h.remove(c, "missed liveness probe")
			continue
		}
		deadline := time.Now().Add(h.opts.WriteTimeout)
		if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.remove(c, "ping failed")
		}
	}
}

// Run probes liveness every ProbeInterval until ctx is cancelled, then
// closes every session.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.Probe()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c, "shutdown")
	}
}

// Stats summarizes the registry.
type Stats struct {
	Sessions        int            `json:"sessions"`
	Unauthenticated int            `json:"unauthenticated"`
	Operators       map[string]int `json:"operators"`
}

// Stats returns the current session counts per operator.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Sessions: len(h.clients), Operators: make(map[string]int)}
	for c := range h.clients {
		if op := c.Operator(); op != "" {
			st.Operators[op]++
		} else {
			st.Unauthenticated++
		}
	}
	return st
}
