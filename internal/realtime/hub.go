// Package realtime terminates live connections and routes push events to them.
package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"duochat/internal/metrics"
	"duochat/internal/model"
	"duochat/internal/presence"
	"duochat/internal/ratelimit"
)

// Options tunes a Hub.
type Options struct {
	// WriteTimeout bounds every frame write. Defaults to 10s.
	WriteTimeout time.Duration
	// Inbound limits client frames per connection. Nil disables limiting.
	Inbound *ratelimit.Pool
}

// Hub owns the live connections and keeps the presence registry in step with
// them.
type Hub struct {
	registry     *presence.Registry
	inbound      *ratelimit.Pool
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub returns a hub bound to registry.
func NewHub(registry *presence.Registry, opts Options) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		registry:     registry,
		inbound:      opts.Inbound,
		writeTimeout: opts.WriteTimeout,
		conns:        make(map[string]*conn),
	}
}

// Serve runs an upgraded connection for userID until it closes. On open the
// user is registered and the full online set is broadcast to everyone; on
// close the registration is removed (only if still this connection) and the
// set is broadcast again.
func (h *Hub) Serve(ws *websocket.Conn, userID string) {
	c := newConn(h, ws, uuid.NewString(), userID)

	h.mu.Lock()
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.registry.Register(userID, c.id)
	metrics.Connections.Inc()
	metrics.OnlineUsers.Set(float64(h.registry.Len()))
	log.Printf("[WebSocket] New connection user=%s conn=%s. Total clients: %d", userID, c.id, total)

	writerDone := make(chan struct{})
	go func() {
		c.writePump()
		close(writerDone)
	}()

	h.broadcastOnline()

	c.readPump()
	c.shutdown()
	<-writerDone

	h.mu.Lock()
	delete(h.conns, c.id)
	remaining := len(h.conns)
	h.mu.Unlock()

	if h.inbound != nil {
		h.inbound.Forget(c.id)
	}
	if !h.registry.Unregister(userID, c.id) {
		log.Printf("[WebSocket] Stale close for user=%s conn=%s, newer connection kept", userID, c.id)
	}
	metrics.Connections.Dec()
	metrics.OnlineUsers.Set(float64(h.registry.Len()))
	log.Printf("[WebSocket] Client disconnected user=%s conn=%s. Total clients: %d", userID, c.id, remaining)

	h.broadcastOnline()
}

// Send pushes an event to one connection. It never blocks and reports false
// when the connection is gone or its queue is full.
func (h *Hub) Send(connID, event string, payload any) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		metrics.Pushes.WithLabelValues(event, "dropped").Inc()
		return false
	}

	data, err := encodeFrame(event, payload)
	if err != nil {
		log.Printf("[WebSocket] ❌ Failed to encode %s: %v", event, err)
		return false
	}

	if !c.enqueue(data) {
		metrics.Pushes.WithLabelValues(event, "dropped").Inc()
		return false
	}
	metrics.Pushes.WithLabelValues(event, "sent").Inc()
	return true
}

// Broadcast pushes an event to every open connection and returns how many
// accepted it.
func (h *Hub) Broadcast(event string, payload any) int {
	data, err := encodeFrame(event, payload)
	if err != nil {
		log.Printf("[WebSocket] ❌ Failed to encode %s: %v", event, err)
		return 0
	}

	// スナップショットを取ってからロックを外す
	h.mu.RLock()
	snapshot := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range snapshot {
		if c.enqueue(data) {
			sent++
		}
	}
	metrics.Pushes.WithLabelValues(event, "sent").Add(float64(sent))
	return sent
}

func (h *Hub) broadcastOnline() {
	online := h.registry.ListOnline()
	n := h.Broadcast(model.EventOnlineUsers, online)
	log.Printf("[WebSocket] 📢 Broadcasting %d online users to %d clients", len(online), n)
}

// ConnCount returns the number of open connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close shuts every connection down.
func (h *Hub) Close() {
	h.mu.RLock()
	for _, c := range h.conns {
		c.shutdown()
	}
	h.mu.RUnlock()
}

// handleInbound processes a client frame. Client frames never change server
// state; messageSeen is a hint for latency only.
func (h *Hub) handleInbound(c *conn, f model.Frame) {
	if h.inbound != nil && !h.inbound.Allow(c.id) {
		h.countInbound(f.Event, "rate_limited")
		return
	}

	switch f.Event {
	case model.EventMessageSeen:
		var msg model.Message
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			h.countInbound(f.Event, "malformed")
			return
		}
		log.Printf("[WebSocket] messageSeen hint from user=%s for message=%s", c.userID, msg.ID)
		h.countInbound(f.Event, "advisory")
	default:
		h.countInbound(f.Event, "ignored")
	}
}

func (h *Hub) countInbound(event, outcome string) {
	switch event {
	case model.EventMessageSeen, "invalid":
	default:
		// 未知のイベント名でラベルが増えないようにする
		event = "other"
	}
	metrics.InboundFrames.WithLabelValues(event, outcome).Inc()
}

func encodeFrame(event string, payload any) ([]byte, error) {
	f, err := model.NewFrame(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}
