package workspace_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runview/internal/adapter/backend"
	"github.com/xiaot623/gogo/runview/internal/adapter/stream"
	"github.com/xiaot623/gogo/runview/internal/devbackend"
	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/poller"
	"github.com/xiaot623/gogo/runview/internal/workspace"
	"github.com/xiaot623/gogo/runview/tests/helpers"
)

type outcomes chan workspace.OutcomeEvent

func (o outcomes) ViewChanged(workspace.View) {}
func (o outcomes) RunEnded(ev workspace.OutcomeEvent) { o <- ev }

func TestRunAgainstDevBackend(t *testing.T) {
	svc := devbackend.NewService(helpers.NewTestSQLiteStore(t), devbackend.NewBus(), 30*time.Millisecond)
	srv := httptest.NewServer(devbackend.NewServer(devbackend.NewHandler(svc), ""))
	t.Cleanup(func() {
		svc.Close()
		srv.Close()
	})

	client := backend.NewClient(srv.URL, 5*time.Second, nil)
	ws, err := workspace.New(client, 16)
	require.NoError(t, err)
	tracker := poller.New(client, ws, poller.Config{Interval: 10 * time.Millisecond})
	t.Cleanup(tracker.Close)
	ws.SetTracker(tracker)

	ended := make(outcomes, 1)
	ws.Subscribe(ended)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := stream.NewSubscriber(srv.URL, nil, 10*time.Millisecond, ws.HandleStreamPayload)
	go sub.Run(ctx)
	require.Eventually(t, func() bool { return svc.Bus().SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	session, err := client.CreateSession(ctx, domain.CreateSessionRequest{TargetType: "dataset", TargetID: "sales"})
	require.NoError(t, err)
	require.NoError(t, ws.SwitchSession(ctx, session.ID))

	run, err := ws.StartRun(ctx, "revenue chart")
	require.NoError(t, err)

	var ev workspace.OutcomeEvent
	select {
	case ev = <-ended:
	case <-time.After(10 * time.Second):
		t.Fatal("run never finished")
	}
	assert.Equal(t, run.ID, ev.RunID)
	assert.Equal(t, domain.RunOutcomeCompleted, ev.Outcome)
	assert.True(t, ev.Applied)

	messages, err := ws.Messages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleAssistant, messages[1].Role)
	assert.Contains(t, messages[1].Content, "Revenue grew every month")
	assert.Len(t, messages[1].Metadata.Charts, 1)
	assert.False(t, messages[1].Ephemeral)

	// Live events may still be in flight when the poll loop sees completion.
	require.Eventually(t, func() bool {
		steps, ok := ws.Steps(run.ID)
		if !ok || len(steps) != 4 {
			return false
		}
		for _, st := range steps {
			if st.Status != domain.StepStatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// A fresh workspace rebuilds the same steps from the persisted graph.
	fresh, err := workspace.New(client, 16)
	require.NoError(t, err)
	require.NoError(t, fresh.SwitchSession(ctx, session.ID))
	rebuilt, ok := fresh.Steps(run.ID)
	require.True(t, ok)
	require.Len(t, rebuilt, 4)
	assert.Equal(t, "RetrieverAgent", rebuilt[1].AgentType)
	require.Len(t, rebuilt[1].ToolCalls, 1)
	assert.Contains(t, rebuilt[1].ToolCalls[0].ArgsSummary, "sql")
	assert.NotContains(t, rebuilt[1].ToolCalls[0].ArgsSummary, "sk-dev")
}
