// Package presence keeps the authority's WebSocket presence connections.
// Clients treat an open socket as "authority reachable"; the hub also pushes
// change notices to a user's other devices after accepted writes.
package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/famsync/internal/logging"
	"github.com/dmitrijs2005/famsync/internal/server/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// MessageTypeChange marks a change notice.
const MessageTypeChange = "change"

// Message is the JSON frame sent to clients.
type Message struct {
	Type    string        `json:"type"`
	Payload models.Change `json:"payload"`
}

type conn struct {
	ws       *websocket.Conn
	userID   string
	deviceID string
	send     chan []byte
	once     sync.Once
}

type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[*conn]struct{}
	upgrader websocket.Upgrader
	log      logging.Logger
}

func NewHub(l logging.Logger) *Hub {
	return &Hub{
		conns: make(map[string]map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: l.With("module", "presence_hub"),
	}
}

// Count returns the number of open connections of userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Notify queues c for every connection of userID except the device that made
// the change. Slow connections drop the notice.
func (h *Hub) Notify(userID string, c models.Change) {
	data, err := json.Marshal(Message{Type: MessageTypeChange, Payload: c})
	if err != nil {
		h.log.Error(context.Background(), "failed to encode change", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for cn := range h.conns[userID] {
		if cn.deviceID != "" && cn.deviceID == c.DeviceID {
			continue
		}
		select {
		case cn.send <- data:
		default:
			h.log.Warn(context.Background(), "presence buffer full, notice dropped", "user_id", userID, "device_id", cn.deviceID)
		}
	}
}

// Serve upgrades the request and holds the connection until the peer leaves
// or ctx is done.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, userID, deviceID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}

	c := &conn{ws: ws, userID: userID, deviceID: deviceID, send: make(chan []byte, sendBuffer)}
	h.register(c)
	h.log.Info(ctx, "device connected", "user_id", userID, "device_id", deviceID)

	go h.writePump(ctx, c)
	h.readPump(c)

	h.unregister(c)
	h.log.Info(ctx, "device disconnected", "user_id", userID, "device_id", deviceID)
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.userID] == nil {
		h.conns[c.userID] = make(map[*conn]struct{})
	}
	h.conns[c.userID][c] = struct{}{}
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()
	c.close()
}

func (c *conn) close() {
	c.once.Do(func() { _ = c.ws.Close() })
}

func (h *Hub) writePump(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; it returns once the connection closes.
func (h *Hub) readPump(c *conn) {
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug(context.Background(), "websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
	}
}
