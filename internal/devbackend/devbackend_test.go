package devbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runview/internal/adapter/backend"
	"github.com/xiaot623/gogo/runview/internal/adapter/stream"
	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/policy"
	"github.com/xiaot623/gogo/runview/internal/poller"
	"github.com/xiaot623/gogo/runview/tests/helpers"
)

type testBackend struct {
	service *Service
	handler *Handler
	server  *httptest.Server
}

func newTestBackend(t *testing.T, token string) *testBackend {
	t.Helper()
	svc := NewService(helpers.NewTestSQLiteStore(t), NewBus(), 0)
	h := NewHandler(svc)
	srv := httptest.NewServer(NewServer(h, token))
	t.Cleanup(func() {
		svc.Close()
		srv.Close()
	})
	return &testBackend{service: svc, handler: h, server: srv}
}

func signedInGate(t *testing.T, token string) *policy.Gate {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	gate := policy.NewGate(engine)
	require.NoError(t, gate.SignIn(token))
	return gate
}

func waitRun(t *testing.T, client *backend.Client, runID string) *domain.RunDetail {
	t.Helper()
	var run *domain.RunDetail
	require.Eventually(t, func() bool {
		r, err := client.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = r
		return r.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestBusReplaysRecentEvents(t *testing.T) {
	bus := NewBus()
	for i := 0; i < historySize+10; i++ {
		bus.Publish(fmt.Sprintf("e%d", i), EventSource, map[string]any{})
	}
	assert.Len(t, bus.history, historySize)

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	require.Len(t, events, replayOnJoin)

	first := <-events
	assert.Equal(t, fmt.Sprintf("e%d", historySize+10-replayOnJoin), first.Type)
	assert.Equal(t, EventSource, first.Source)
	assert.NotEmpty(t, first.Timestamp)

	bus.Publish("live", EventSource, map[string]any{})
	for i := 1; i < replayOnJoin; i++ {
		<-events
	}
	assert.Equal(t, "live", (<-events).Type)

	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestSessionLifecycle(t *testing.T) {
	tb := newTestBackend(t, "")
	client := backend.NewClient(tb.server.URL, 5*time.Second, nil)
	ctx := context.Background()

	session, err := client.CreateSession(ctx, domain.CreateSessionRequest{TargetType: "dataset", TargetID: "sales"})
	require.NoError(t, err)
	assert.Equal(t, "New Chat", session.Title)

	_, err = client.AddMessage(ctx, session.ID, domain.AddMessageRequest{
		Role:     domain.RoleUser,
		Content:  "how did revenue move?",
		Metadata: domain.MessageMetadata{RunID: "run-1", Status: "running"},
	})
	require.NoError(t, err)
	_, err = client.AddMessage(ctx, session.ID, domain.AddMessageRequest{Role: domain.RoleAssistant, Content: "Up."})
	require.NoError(t, err)

	got, messages, err := client.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	require.Len(t, messages, 2)
	assert.Equal(t, "run-1", messages[0].Metadata.RunID)
	assert.Equal(t, "Up.", messages[1].Content)

	sessions, err := client.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	resp, err := http.Get(tb.server.URL + "/chat/sessions?target_type=notebook")
	require.NoError(t, err)
	defer resp.Body.Close()
	var filtered struct {
		Sessions []domain.ChatSession `json:"sessions"`
	}
	require.NoError(t, jsonDecode(resp, &filtered))
	assert.Empty(t, filtered.Sessions)

	require.NoError(t, client.DeleteSession(ctx, session.ID))
	_, _, err = client.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = client.AddMessage(ctx, session.ID, domain.AddMessageRequest{Role: domain.RoleUser, Content: "x"})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestAddMessageRejectsLargeMetadata(t *testing.T) {
	tb := newTestBackend(t, "")
	client := backend.NewClient(tb.server.URL, 5*time.Second, nil)
	session, err := client.CreateSession(context.Background(), domain.CreateSessionRequest{TargetType: "dataset", TargetID: "d"})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"role":"user","content":"x","metadata":{"status":"%s"}}`, strings.Repeat("a", MaxMetadataBytes))
	resp, err := http.Post(tb.server.URL+"/chat/sessions/"+session.ID+"/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out map[string]string
	require.NoError(t, jsonDecode(resp, &out))
	assert.Equal(t, "Metadata too large (max 100KB)", out["detail"])
}

func TestRunCompletesWithChart(t *testing.T) {
	tb := newTestBackend(t, "")
	client := backend.NewClient(tb.server.URL, 5*time.Second, nil)

	run, err := client.CreateRun(context.Background(), domain.CreateRunRequest{Query: "revenue chart"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusStarting, run.Status)

	detail := waitRun(t, client, run.ID)
	assert.Equal(t, domain.RunStatusCompleted, detail.Status)
	assert.NotEmpty(t, detail.CompletedAt)

	nodes := detail.Nodes()
	require.Len(t, nodes, 5)
	assert.Equal(t, domain.RootNodeID, nodes[0].ID)
	for _, n := range nodes {
		assert.Equal(t, domain.NodeStatusCompleted, n.Status, n.ID)
	}
	require.Len(t, nodes[2].Iterations, 1)
	call, ok := nodes[2].Iterations[0].ToolCall()
	require.True(t, ok)
	assert.Equal(t, "sql_query", call.Name)

	c := poller.Extract(detail)
	assert.Contains(t, c.Content, "Revenue grew every month")
	assert.Len(t, c.Charts, 1)
	assert.InDelta(t, 0.007, detail.Cost, 1e-9)
}

func TestRunFailure(t *testing.T) {
	tb := newTestBackend(t, "")
	client := backend.NewClient(tb.server.URL, 5*time.Second, nil)

	run, err := client.CreateRun(context.Background(), domain.CreateRunRequest{Query: "make it fail"})
	require.NoError(t, err)

	detail := waitRun(t, client, run.ID)
	assert.Equal(t, domain.RunStatusFailed, detail.Status)

	nodes := detail.Nodes()
	require.Len(t, nodes, 4)
	assert.Equal(t, domain.NodeStatusFailed, nodes[2].Status)
	assert.True(t, nodes[3].Status.NeverExecuted())
	assert.Equal(t, "retriever: upstream returned 500", poller.Extract(detail).Content)

	require.NoError(t, client.DeleteRun(context.Background(), run.ID))
	_, err = client.GetRun(context.Background(), run.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestAuthToken(t *testing.T) {
	tb := newTestBackend(t, "secret")

	resp, err := http.Get(tb.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(tb.server.URL + "/chat/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(tb.server.URL + "/chat/sessions?token=secret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	gate := signedInGate(t, "secret")
	client := backend.NewClient(tb.server.URL, 5*time.Second, gate)
	_, err = client.ListSessions(context.Background())
	require.NoError(t, err)

	wrong := signedInGate(t, "nope")
	client = backend.NewClient(tb.server.URL, 5*time.Second, wrong)
	_, err = client.ListSessions(context.Background())
	require.Error(t, err)
	assert.Equal(t, policy.AuthExpired, wrong.State())
}

func TestEventsReachSubscriber(t *testing.T) {
	tb := newTestBackend(t, "secret")
	gate := signedInGate(t, "secret")

	var mu sync.Mutex
	var got []domain.StreamPayload
	sub := stream.NewSubscriber(tb.server.URL, gate, 10*time.Millisecond, func(p domain.StreamPayload) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)
	require.Eventually(t, func() bool { return tb.service.Bus().SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	tb.service.Bus().Publish("step_start", EventSource, map[string]any{"step_id": "x", "user_id": "someone-else"})

	client := backend.NewClient(tb.server.URL, 5*time.Second, gate)
	run, err := client.CreateRun(context.Background(), domain.CreateRunRequest{Query: "revenue"})
	require.NoError(t, err)
	waitRun(t, client, run.ID)

	// Two tool steps plus the formatter: 3 starts, 2 tool calls, 3 completes.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 8
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	counts := map[string]int{}
	for _, p := range got {
		assert.Equal(t, TokenUserID, p.Data["user_id"])
		assert.Equal(t, run.ID, p.Data["session_id"])
		counts[p.Type]++
	}
	assert.Equal(t, map[string]int{"step_start": 3, "tool_call": 2, "step_complete": 3}, counts)
}

func TestEventsSendsPing(t *testing.T) {
	tb := newTestBackend(t, "")
	tb.handler.pingInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tb.server.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.Equal(t, ": connected", scanner.Text())
	for scanner.Scan() {
		if scanner.Text() == ": ping" {
			return
		}
	}
	t.Fatal("no ping received")
}

func jsonDecode(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
