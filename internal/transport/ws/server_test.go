package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runview/internal/config"
	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/hub"
	"github.com/xiaot623/gogo/runview/internal/workspace"
)

type staticViews struct{ view workspace.View }

func (s staticViews) View() workspace.View { return s.view }

func newTestServer(t *testing.T) (*hub.Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub()
	go h.Run(ctx)

	cfg := &config.Config{
		PingInterval:   time.Minute,
		WriteTimeout:   time.Second,
		ReadTimeout:    time.Minute,
		MaxMessageSize: 65536,
	}
	views := staticViews{view: workspace.View{SessionID: "s1", RunID: "run-1", StepsMap: domain.StepMap{}}}
	e := echo.New()
	e.GET("/ws", NewServer(cfg, h, views).HandleWebSocket)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return h, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func waitConnections(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ConnectionCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHelloReturnsView(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "hello", "session_id": "s1"}))
	ack := readJSON(t, conn)
	assert.Equal(t, hub.TypeHelloAck, ack["type"])
	view := ack["view"].(map[string]any)
	assert.Equal(t, "run-1", view["run_id"])
}

func TestHelloForInactiveSessionReturnsEmptyView(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "hello", "session_id": "s9"}))
	ack := readJSON(t, conn)
	assert.Equal(t, hub.TypeHelloAck, ack["type"])
	assert.Equal(t, "s9", ack["session_id"])
	view := ack["view"].(map[string]any)
	assert.Equal(t, "s9", view["session_id"])
	assert.Empty(t, view["run_id"])
	assert.Empty(t, view["steps_map"])
}

func TestUnknownMessageType(t *testing.T) {
	_, url := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "nope"}))
	msg := readJSON(t, conn)
	assert.Equal(t, hub.TypeError, msg["type"])
	assert.Equal(t, hub.ErrorCodeInvalidMessage, msg["code"])
}

func TestBroadcastFiltersBySession(t *testing.T) {
	h, url := newTestServer(t)
	s1 := dial(t, url+"?session_id=s1")
	s2 := dial(t, url+"?session_id=s2")
	all := dial(t, url)
	waitConnections(t, h, 3)

	h.RunEnded(workspace.OutcomeEvent{RunID: "run-1", SessionID: "s1", Outcome: domain.RunOutcomeLost})
	h.ViewChanged(workspace.View{SessionID: "s2", StepsMap: domain.StepMap{}})

	msg := readJSON(t, s1)
	assert.Equal(t, hub.TypeRunOutcome, msg["type"])
	assert.Equal(t, "lost", msg["outcome"].(map[string]any)["outcome"])

	msg = readJSON(t, s2)
	assert.Equal(t, hub.TypeView, msg["type"])

	assert.Equal(t, hub.TypeRunOutcome, readJSON(t, all)["type"])
	assert.Equal(t, hub.TypeView, readJSON(t, all)["type"])
}
