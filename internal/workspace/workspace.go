// Package workspace owns the dashboard's session-scoped view state: the
// active session and run, its messages, and the live and persisted step maps.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/metrics"
	"github.com/xiaot623/gogo/runview/internal/reasoning"
)

// ErrNoActiveSession is returned when an operation needs an active session.
var ErrNoActiveSession = errors.New("no active session")

const (
	DefaultSnapshotCacheSize = 256
	snapshotFetchConcurrency = 4
)

// Backend is the subset of the backend API the workspace uses.
type Backend interface {
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, []domain.ChatMessage, error)
	AddMessage(ctx context.Context, sessionID string, req domain.AddMessageRequest) (*domain.ChatMessage, error)
	CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.Run, error)
	GetRun(ctx context.Context, runID string) (*domain.RunDetail, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Tracker starts background completion polling for a run.
type Tracker interface {
	Track(runID, sessionID string) bool
}

// View is the merged step map of the active session and run.
type View struct {
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run_id"`
	StepsMap  domain.StepMap `json:"steps_map"`
}

// OutcomeEvent reports the end of a run's poll loop.
type OutcomeEvent struct {
	RunID     string            `json:"run_id"`
	SessionID string            `json:"session_id"`
	Outcome   domain.RunOutcome `json:"outcome"`
	MessageID string            `json:"message_id,omitempty"`
	Applied   bool              `json:"applied"`
}

// Observer is notified after state changes. Calls happen outside the
// workspace lock.
type Observer interface {
	ViewChanged(View)
	RunEnded(OutcomeEvent)
}

type Workspace struct {
	backend   Backend
	tracker   Tracker
	snapshots *lru.Cache[string, *domain.RunDetail]
	live      *reasoning.EventStore
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	switchGen uint64
	sessionID string
	runID     string
	messages  []domain.ChatMessage
	persisted domain.StepMap
	observers []Observer
}

// New creates a workspace. cacheSize bounds the terminal run snapshots kept
// for reconstruction.
func New(backend Backend, cacheSize int) (*Workspace, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultSnapshotCacheSize
	}
	cache, err := lru.New[string, *domain.RunDetail](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	return &Workspace{
		backend:   backend,
		snapshots: cache,
		live:      reasoning.NewEventStore(),
		logger:    slog.With("component", "workspace"),
		now:       time.Now,
		persisted: make(domain.StepMap),
	}, nil
}

// SetTracker wires the completion poller.
func (w *Workspace) SetTracker(t Tracker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracker = t
}

func (w *Workspace) Subscribe(o Observer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, o)
}

// SwitchSession makes sessionID the active session. Live events of the
// previous session are discarded and persisted steps are rebuilt from the
// runs referenced by the session's messages.
//
// When switches overlap, the one requested last wins and earlier ones return
// without applying.
func (w *Workspace) SwitchSession(ctx context.Context, sessionID string) error {
	w.mu.Lock()
	w.switchGen++
	gen := w.switchGen
	w.mu.Unlock()

	_, messages, err := w.backend.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	runIDs := referencedRuns(messages)
	snapshots := w.loadSnapshots(ctx, runIDs)

	persisted := make(domain.StepMap, len(snapshots))
	for runID, run := range snapshots {
		persisted[runID] = reasoning.Reconstruct(run.Nodes())
	}

	var activeRun string
	if len(runIDs) > 0 {
		activeRun = runIDs[len(runIDs)-1]
	}

	w.mu.Lock()
	if w.switchGen != gen {
		w.mu.Unlock()
		w.logger.Debug("Superseded session switch", "session_id", sessionID)
		return nil
	}
	w.live.Clear()
	w.sessionID = sessionID
	w.runID = activeRun
	w.messages = messages
	w.persisted = persisted
	tracker := w.tracker
	w.mu.Unlock()

	// Resume a run that was still in flight when the session was last open.
	// A run that already has its reply is never resumed, even when its
	// snapshot could not be fetched.
	if run, ok := snapshots[activeRun]; activeRun != "" && tracker != nil &&
		(!ok || !run.Status.IsTerminal()) && !hasAssistantReply(messages, activeRun) {
		tracker.Track(activeRun, sessionID)
	}

	w.logger.Info("Switched session", "session_id", sessionID, "runs", len(runIDs), "active_run", activeRun)
	w.notifyView()
	return nil
}

// referencedRuns returns the distinct run ids of messages in message order.
func referencedRuns(messages []domain.ChatMessage) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range messages {
		id := m.Metadata.RunID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func hasAssistantReply(messages []domain.ChatMessage, runID string) bool {
	for _, m := range messages {
		if m.Role == domain.RoleAssistant && m.Metadata.RunID == runID {
			return true
		}
	}
	return false
}

// loadSnapshots fetches run details, serving terminal runs from the cache.
// Runs that cannot be fetched are skipped.
func (w *Workspace) loadSnapshots(ctx context.Context, runIDs []string) map[string]*domain.RunDetail {
	var mu sync.Mutex
	out := make(map[string]*domain.RunDetail, len(runIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotFetchConcurrency)
	for _, runID := range runIDs {
		if run, ok := w.snapshots.Get(runID); ok {
			mu.Lock()
			out[runID] = run
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			run, err := w.backend.GetRun(gctx, runID)
			if err != nil {
				w.logger.Warn("Skipping run snapshot", "run_id", runID, "error", err)
				return nil
			}
			if run.Status.IsTerminal() {
				w.snapshots.Add(runID, run)
			}
			mu.Lock()
			out[runID] = run
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// StartRun launches a run for query in the active session.
func (w *Workspace) StartRun(ctx context.Context, query string) (*domain.Run, error) {
	w.mu.Lock()
	sessionID := w.sessionID
	w.mu.Unlock()
	if sessionID == "" {
		return nil, ErrNoActiveSession
	}

	run, err := w.backend.CreateRun(ctx, domain.CreateRunRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	// Follow the new run before the message write so its first events count.
	w.mu.Lock()
	tracker := w.tracker
	if w.sessionID == sessionID {
		w.live.ClearOne(run.ID)
		w.runID = run.ID
	}
	w.mu.Unlock()

	msg := w.persistMessage(ctx, sessionID, domain.AddMessageRequest{
		Role:     domain.RoleUser,
		Content:  query,
		Metadata: domain.MessageMetadata{RunID: run.ID, Status: string(domain.RunStatusRunning)},
	})

	w.mu.Lock()
	if w.sessionID == sessionID {
		w.messages = append(w.messages, msg)
	}
	w.mu.Unlock()

	if tracker != nil {
		tracker.Track(run.ID, sessionID)
	}
	w.logger.Info("Run started", "run_id", run.ID, "session_id", sessionID)
	w.notifyView()
	return run, nil
}

// persistMessage saves a message, falling back to a local-only copy when the
// backend write fails.
func (w *Workspace) persistMessage(ctx context.Context, sessionID string, req domain.AddMessageRequest) domain.ChatMessage {
	saved, err := w.backend.AddMessage(ctx, sessionID, req)
	if err == nil {
		return *saved
	}
	w.logger.Warn("Failed to persist message; keeping it locally", "session_id", sessionID, "error", err)
	metrics.PersistFallbacks.Inc()
	return ephemeralMessage(sessionID, req, w.now())
}

// HandleStreamPayload normalizes a stream payload against the active run and
// records it.
func (w *Workspace) HandleStreamPayload(p domain.StreamPayload) {
	w.mu.Lock()
	ev, ok := reasoning.Normalize(p, w.runID, w.now())
	if ok {
		w.live.Append(ev.SessionID, ev)
	}
	w.mu.Unlock()

	if !ok {
		metrics.EventsDropped.Inc()
		return
	}
	metrics.EventsAccepted.WithLabelValues(string(ev.Type)).Inc()
	w.notifyView()
}

// View returns the merged steps of the active session.
func (w *Workspace) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

func (w *Workspace) viewLocked() View {
	return View{
		SessionID: w.sessionID,
		RunID:     w.runID,
		StepsMap:  reasoning.Merge(w.persisted, reasoning.ConsolidateAll(w.live)),
	}
}

// Steps returns the merged steps for one run.
func (w *Workspace) Steps(runID string) ([]domain.ConsolidatedStep, bool) {
	steps, ok := w.View().StepsMap[runID]
	return steps, ok
}

// ActiveSession returns the active session id, or "".
func (w *Workspace) ActiveSession() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Messages returns the messages of sessionID. The active session is served
// from memory, including local-only messages; others are fetched.
func (w *Workspace) Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	w.mu.Lock()
	if sessionID == w.sessionID {
		out := make([]domain.ChatMessage, len(w.messages))
		copy(out, w.messages)
		w.mu.Unlock()
		return out, nil
	}
	w.mu.Unlock()

	_, messages, err := w.backend.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// DeleteRun deletes a run on the backend and forgets its steps.
func (w *Workspace) DeleteRun(ctx context.Context, runID string) error {
	if err := w.backend.DeleteRun(ctx, runID); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	w.snapshots.Remove(runID)

	w.mu.Lock()
	w.live.ClearOne(runID)
	delete(w.persisted, runID)
	if w.runID == runID {
		w.runID = ""
	}
	w.mu.Unlock()

	w.notifyView()
	return nil
}

func (w *Workspace) notifyView() {
	w.mu.Lock()
	view := w.viewLocked()
	observers := w.observers
	w.mu.Unlock()
	for _, o := range observers {
		o.ViewChanged(view)
	}
}

func (w *Workspace) notifyOutcome(ev OutcomeEvent) {
	w.mu.Lock()
	observers := w.observers
	w.mu.Unlock()
	for _, o := range observers {
		o.RunEnded(ev)
	}
}
