package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

type stoppedClock struct{}

func (stoppedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	replies []func() (*domain.RunDetail, error)
}

func (f *scriptedFetcher) GetRun(_ context.Context, runID string) (*domain.RunDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i]()
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type chanSink struct{ results chan Result }

func (s *chanSink) RunFinished(_ context.Context, res Result) { s.results <- res }

func newSink() *chanSink { return &chanSink{results: make(chan Result, 4)} }

func waitResult(t *testing.T, s *chanSink) Result {
	t.Helper()
	select {
	case r := <-s.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
		return Result{}
	}
}

func detail(status domain.RunStatus, nodes ...domain.GraphNode) func() (*domain.RunDetail, error) {
	return func() (*domain.RunDetail, error) {
		return &domain.RunDetail{ID: "run-1", Status: status, Graph: &domain.Graph{Nodes: nodes}}, nil
	}
}

func fetchErr() (*domain.RunDetail, error) { return nil, errors.New("connection refused") }

func TestTransition(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		in   State
		obs  Observation
		want State
	}{
		{"running keeps polling", State{Phase: PhasePolling}, Observation{Status: domain.RunStatusRunning}, State{Phase: PhasePolling}},
		{"error backs off", State{Phase: PhasePolling}, Observation{Err: boom}, State{Phase: PhaseBackoff, ConsecutiveErrors: 1}},
		{"success resets errors", State{Phase: PhaseBackoff, ConsecutiveErrors: 9}, Observation{Status: domain.RunStatusStarting}, State{Phase: PhasePolling}},
		{"completed", State{Phase: PhaseBackoff, ConsecutiveErrors: 3}, Observation{Status: domain.RunStatusCompleted}, State{Phase: PhaseSucceeded}},
		{"failed", State{Phase: PhasePolling}, Observation{Status: domain.RunStatusFailed}, State{Phase: PhaseFailed}},
		{"cancelled is not terminal", State{Phase: PhasePolling}, Observation{Status: domain.RunStatusCancelled}, State{Phase: PhasePolling}},
		{"threshold exhausts", State{Phase: PhaseBackoff, ConsecutiveErrors: 14}, Observation{Err: boom}, State{Phase: PhaseExhausted, ConsecutiveErrors: 15}},
		{"terminal is sticky", State{Phase: PhaseSucceeded}, Observation{Err: boom}, State{Phase: PhaseSucceeded}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.in, tt.obs, 15))
		})
	}
}

func TestExtractPrefersFormatter(t *testing.T) {
	run := &domain.RunDetail{ID: "run-1", Status: domain.RunStatusCompleted, Graph: &domain.Graph{Nodes: []domain.GraphNode{
		{ID: "a", Type: "FormatterAgent", Status: domain.NodeStatusCompleted, Output: `{"markdown_report": "Done."}`},
		{ID: "b", Type: "RetrieverAgent", Status: domain.NodeStatusCompleted, Output: "raw text"},
	}}}
	c := Extract(run)
	assert.Equal(t, "Done.", c.Content)
	assert.Equal(t, domain.RunStatusCompleted, c.Status)
	assert.Nil(t, c.Charts)
}

func TestExtractResultFallbacks(t *testing.T) {
	t.Run("last completed node", func(t *testing.T) {
		nodes := []domain.GraphNode{
			{ID: "a", Type: "PlannerAgent", Status: domain.NodeStatusCompleted, Output: "plan"},
			{ID: "b", Type: "RetrieverAgent", Status: domain.NodeStatusCompleted, Output: "rows"},
			{ID: "c", Type: "CoderAgent", Status: domain.NodeStatusRunning, Output: "partial"},
		}
		assert.Equal(t, "rows", ExtractResult(nodes))
	})
	t.Run("field order", func(t *testing.T) {
		nodes := []domain.GraphNode{{ID: "a", Status: domain.NodeStatusCompleted, Output: `{"output": "o", "result": "r"}`}}
		assert.Equal(t, "r", ExtractResult(nodes))
	})
	t.Run("json without known fields", func(t *testing.T) {
		raw := `{"answer": 42}`
		nodes := []domain.GraphNode{{ID: "a", Status: domain.NodeStatusCompleted, Output: raw}}
		assert.Equal(t, raw, ExtractResult(nodes))
	})
	t.Run("no output", func(t *testing.T) {
		nodes := []domain.GraphNode{{ID: "a", Status: domain.NodeStatusCompleted, Output: "  "}}
		assert.Equal(t, NoOutputMessage, ExtractResult(nodes))
	})
}

func TestExtractFailure(t *testing.T) {
	nodes := []domain.GraphNode{
		{ID: "a", Status: domain.NodeStatusCompleted, Output: "x"},
		{ID: "b", Status: domain.NodeStatusFailed, Error: "upstream 500"},
		{ID: "c", Status: domain.NodeStatusFailed, Error: "later"},
	}
	c := Extract(&domain.RunDetail{ID: "r", Status: domain.RunStatusFailed, Graph: &domain.Graph{Nodes: nodes}})
	assert.Equal(t, "upstream 500", c.Content)
	assert.Equal(t, GenericFailureMessage, ExtractFailure(nil))
}

func TestExtractCharts(t *testing.T) {
	chart := `{"schema_version":"v1","chart_type":"line","x_key":"d","y_keys":["v"],"data":[{"d":"1","v":2}]}`
	nodes := []domain.GraphNode{
		{ID: "f", Type: "FormatterAgent", Status: domain.NodeStatusCompleted, Output: `{"markdown_report":"r","visualizations":[` + chart + `,` + chart + `]}`},
		{ID: "c", Type: "ChartAgent", Status: domain.NodeStatusCompleted, Output: `{"charts":[` + chart + `]}`},
	}
	assert.Len(t, ExtractCharts(nodes), 1)
	assert.Len(t, ExtractCharts(nodes[:1]), 2)
	assert.Nil(t, ExtractCharts([]domain.GraphNode{{ID: "x", Type: "ChartAgent", Status: domain.NodeStatusCompleted, Output: "not json"}}))
}

func TestPollerDeliversCompletion(t *testing.T) {
	fetcher := &scriptedFetcher{replies: []func() (*domain.RunDetail, error){
		detail(domain.RunStatusRunning),
		fetchErr,
		detail(domain.RunStatusCompleted,
			domain.GraphNode{ID: "a", Type: "FormatterAgent", Status: domain.NodeStatusCompleted, Output: `{"markdown_report": "Done."}`},
			domain.GraphNode{ID: "b", Type: "RetrieverAgent", Status: domain.NodeStatusCompleted, Output: "raw text"},
		),
	}}
	sink := newSink()
	p := New(fetcher, sink, Config{Clock: instantClock{}})
	defer p.Close()

	require.True(t, p.Track("run-1", "sess-1"))
	res := waitResult(t, sink)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, domain.RunOutcomeCompleted, res.Outcome)
	require.NotNil(t, res.Completion)
	assert.Equal(t, "Done.", res.Completion.Content)
	assert.Equal(t, 3, fetcher.Calls())
	assert.False(t, p.Running("run-1"))

	st, ok := p.Status("run-1")
	require.True(t, ok)
	assert.Equal(t, string(PhaseSucceeded), st.Phase)
	assert.NotNil(t, st.EndedAt)
}

func TestPollerExhaustion(t *testing.T) {
	fetcher := &scriptedFetcher{replies: []func() (*domain.RunDetail, error){fetchErr}}
	sink := newSink()
	p := New(fetcher, sink, Config{Clock: instantClock{}, MaxErrors: 15})
	defer p.Close()

	require.True(t, p.Track("run-1", "sess-1"))
	res := waitResult(t, sink)

	assert.Equal(t, domain.RunOutcomeLost, res.Outcome)
	assert.Nil(t, res.Completion)
	assert.Equal(t, 15, fetcher.Calls())
	assert.False(t, p.Running("run-1"))
	assert.Empty(t, p.Tracked())
}

func TestPollerTrackIsIdempotent(t *testing.T) {
	fetcher := &scriptedFetcher{replies: []func() (*domain.RunDetail, error){detail(domain.RunStatusRunning)}}
	p := New(fetcher, newSink(), Config{Clock: stoppedClock{}})

	assert.True(t, p.Track("run-1", "s"))
	assert.False(t, p.Track("run-1", "s"))
	assert.True(t, p.Running("run-1"))
	assert.Equal(t, []string{"run-1"}, p.Tracked())

	p.Close()
	assert.False(t, p.Running("run-1"))
	assert.False(t, p.Track("run-2", "s"))
	assert.Equal(t, 0, fetcher.Calls())
}

func TestPollerCloseSkipsSink(t *testing.T) {
	sink := newSink()
	p := New(&scriptedFetcher{replies: []func() (*domain.RunDetail, error){fetchErr}}, sink, Config{Clock: stoppedClock{}})
	require.True(t, p.Track("run-1", "s"))
	p.Close()

	select {
	case r := <-sink.results:
		t.Fatalf("unexpected result %+v", r)
	default:
	}
}
