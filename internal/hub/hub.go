// Package hub fans dashboard updates out to websocket clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/runview/internal/metrics"
	"github.com/xiaot623/gogo/runview/internal/workspace"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
}

// Hub manages all WebSocket connections.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *sessionMessage
	done       chan struct{}

	mu sync.RWMutex
}

type sessionMessage struct {
	SessionID string
	Data      []byte
}

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *sessionMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.mu.Unlock()
			metrics.HubClients.Set(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			n := len(h.connections)
			h.mu.Unlock()
			metrics.HubClients.Set(float64(n))
			slog.Debug("Connection registered", "conn_id", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			n := len(h.connections)
			h.mu.Unlock()
			metrics.HubClients.Set(float64(n))
			slog.Debug("Connection unregistered", "conn_id", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, conn := range h.connections {
				if !conn.wants(msg.SessionID) {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					slog.Warn("Connection buffer full, closing", "conn_id", conn.ID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps a websocket; it is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.NewString(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindSession filters the connection to one session's updates.
func (h *Hub) BindSession(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.SessionID = sessionID
}

// Broadcast sends data to every connection bound to sessionID or unbound.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	select {
	case h.broadcast <- &sessionMessage{SessionID: sessionID, Data: data}:
	case <-h.done:
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, data)
	return nil
}

// SendJSONToConnection sends a JSON message to one connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return nil
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ViewChanged pushes a view update.
func (h *Hub) ViewChanged(v workspace.View) {
	msg := ViewMessage{
		BaseMessage: BaseMessage{Type: TypeView, Ts: time.Now().UnixMilli(), SessionID: v.SessionID},
		View:        v,
	}
	if err := h.BroadcastJSON(v.SessionID, msg); err != nil {
		slog.Error("Failed to encode view update", "error", err)
	}
}

// RunEnded pushes a run outcome.
func (h *Hub) RunEnded(ev workspace.OutcomeEvent) {
	msg := RunOutcomeMessage{
		BaseMessage: BaseMessage{Type: TypeRunOutcome, Ts: time.Now().UnixMilli(), SessionID: ev.SessionID},
		Outcome:     ev,
	}
	if err := h.BroadcastJSON(ev.SessionID, msg); err != nil {
		slog.Error("Failed to encode run outcome", "error", err)
	}
}

// wants is called with the hub lock held.
func (c *Connection) wants(sessionID string) bool {
	return c.SessionID == "" || c.SessionID == sessionID
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}
