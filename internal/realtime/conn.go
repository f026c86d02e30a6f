package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"duochat/internal/model"
)

const (
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxFrameSize = 64 << 10

	// Outbound frames queued per connection before pushes are dropped.
	sendQueueSize = 64
)

// conn is one live connection. A single writer goroutine owns writes to ws.
type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	id     string
	userID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn, id, userID string) *conn {
	return &conn{
		hub:    h,
		ws:     ws,
		id:     id,
		userID: userID,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// enqueue hands data to the writer without blocking.
func (c *conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		log.Printf("[WebSocket] ⚠️ Send queue full, dropping frame for user=%s conn=%s", c.userID, c.id)
		return false
	}
}

// shutdown stops the writer, which closes the socket.
func (c *conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) readPump() {
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] ❌ Read error user=%s conn=%s: %v", c.userID, c.id, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.hub.countInbound("invalid", "malformed")
			continue
		}
		c.hub.handleInbound(c, f)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[WebSocket] ❌ Write error user=%s conn=%s: %v", c.userID, c.id, err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
