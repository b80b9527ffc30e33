// Package ws provides the websocket endpoint that streams dashboard updates.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runview/internal/config"
	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/hub"
	"github.com/xiaot623/gogo/runview/internal/workspace"
)

// ViewSource supplies the current view for handshakes.
type ViewSource interface {
	View() workspace.View
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	views    ViewSource
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, h *hub.Hub, views ViewSource) *Server {
	return &Server{
		cfg:   cfg,
		hub:   h,
		views: views,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade WebSocket", "error", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	if sessionID := c.QueryParam("session_id"); sessionID != "" {
		conn.SessionID = sessionID
	}
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	_ = conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket error", "conn_id", conn.ID, "error", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Failed to write message", "conn_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var base hub.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "invalid JSON message")
		return
	}

	switch base.Type {
	case hub.TypeHello:
		s.handleHello(conn, base)
	default:
		s.sendError(conn, "unknown message type: "+base.Type)
	}
}

// handleHello binds the connection and replies with the current view. A
// connection bound to a session other than the active one gets an empty view
// of its own session.
func (s *Server) handleHello(conn *hub.Connection, msg hub.BaseMessage) {
	s.hub.BindSession(conn, msg.SessionID)

	view := s.views.View()
	if msg.SessionID != "" && msg.SessionID != view.SessionID {
		view = workspace.View{SessionID: msg.SessionID, StepsMap: domain.StepMap{}}
	}

	ack := hub.HelloAckMessage{
		BaseMessage: hub.BaseMessage{
			Type:      hub.TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			SessionID: msg.SessionID,
		},
		View: view,
	}
	if err := s.hub.SendJSONToConnection(conn, ack); err != nil {
		slog.Warn("Failed to send hello_ack", "conn_id", conn.ID, "error", err)
	}
}

func (s *Server) sendError(conn *hub.Connection, message string) {
	errMsg := hub.ErrorMessage{
		BaseMessage: hub.BaseMessage{
			Type: hub.TypeError,
			Ts:   time.Now().UnixMilli(),
		},
		Code:    hub.ErrorCodeInvalidMessage,
		Message: message,
	}
	_ = s.hub.SendJSONToConnection(conn, errMsg)
}
