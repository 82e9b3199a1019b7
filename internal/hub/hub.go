// Package hub pushes session events to connected browsers over WebSocket.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Connection is one browser tab.
type Connection struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *Connection) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks connections and broadcasts events to all of them.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	upgrader    websocket.Upgrader
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The UI is same-origin; API clients authenticate with the access token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Name implements notify.Channel.
func (h *Hub) Name() string { return "websocket" }

// Send implements notify.Channel by broadcasting ev.
func (h *Hub) Send(_ context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Broadcast queues data on every connection. Connections whose buffer is
// full are dropped.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	var slow []*Connection
	for _, c := range h.connections {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("conn", c.ID).Msg("WebSocket buffer full, closing connection")
		h.unregister(c)
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c.ID] = c
	h.mu.Unlock()
	log.Debug().Str("conn", c.ID).Msg("WebSocket connected")
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	if _, ok := h.connections[c.ID]; ok {
		delete(h.connections, c.ID)
		c.close()
	}
	h.mu.Unlock()
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.connections {
		delete(h.connections, id)
		c.close()
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &Connection{
		ID:   uuid.NewString(),
		conn: ws,
		send: make(chan []byte, sendBuffer),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and keeps the read deadline alive.
func (h *Hub) readPump(c *Connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("conn", c.ID).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
