package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/metrics"
)

const (
	DefaultInterval  = 2 * time.Second
	DefaultMaxErrors = 15
)

// Clock yields the wait between fetches.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RunFetcher loads the current detail of a run.
type RunFetcher interface {
	GetRun(ctx context.Context, runID string) (*domain.RunDetail, error)
}

// Result is handed to the sink when a poll loop ends. Completion is nil when
// the loop gave up.
type Result struct {
	RunID      string
	SessionID  string
	Outcome    domain.RunOutcome
	Completion *Completion
	Run        *domain.RunDetail
}

// CompletionSink receives finished runs. It is called from the run's poll
// goroutine after the run is marked as no longer running.
type CompletionSink interface {
	RunFinished(ctx context.Context, res Result)
}

type Config struct {
	Interval  time.Duration
	MaxErrors int
	Clock     Clock
}

type entry struct {
	state domain.RunState
}

// Poller runs one independent poll loop per tracked run.
type Poller struct {
	fetcher   RunFetcher
	sink      CompletionSink
	interval  time.Duration
	maxErrors int
	clock     Clock
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*entry
}

func New(fetcher RunFetcher, sink CompletionSink, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetcher:   fetcher,
		sink:      sink,
		interval:  cfg.Interval,
		maxErrors: cfg.MaxErrors,
		clock:     cfg.Clock,
		logger:    slog.With("component", "poller"),
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]*entry),
	}
}

// Track starts polling runID on behalf of sessionID. It returns false when
// the run is already tracked or the poller is closed.
func (p *Poller) Track(runID, sessionID string) bool {
	if runID == "" || p.ctx.Err() != nil {
		return false
	}

	p.mu.Lock()
	if e, ok := p.runs[runID]; ok && e.state.Running {
		p.mu.Unlock()
		return false
	}
	p.runs[runID] = &entry{state: domain.RunState{
		RunID:     runID,
		SessionID: sessionID,
		Running:   true,
		Phase:     string(PhasePolling),
		StartedAt: time.Now().UTC(),
	}}
	p.mu.Unlock()

	metrics.ActivePolls.Inc()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer metrics.ActivePolls.Dec()
		p.loop(runID, sessionID)
	}()
	return true
}

func (p *Poller) loop(runID, sessionID string) {
	logger := p.logger.With("run_id", runID)
	state := State{Phase: PhasePolling}

	for {
		select {
		case <-p.ctx.Done():
			p.stop(runID, state, "")
			return
		case <-p.clock.After(p.interval):
		}

		run, err := p.fetcher.GetRun(p.ctx, runID)
		if p.ctx.Err() != nil {
			p.stop(runID, state, "")
			return
		}

		obs := Observation{Err: err}
		if err == nil {
			obs.Status = run.Status
			metrics.PollFetches.WithLabelValues("ok").Inc()
		} else {
			metrics.PollFetches.WithLabelValues("error").Inc()
			logger.Debug("Run status fetch failed", "error", err, "consecutive_errors", state.ConsecutiveErrors+1)
		}
		state = Transition(state, obs, p.maxErrors)

		var outcome domain.RunOutcome
		switch state.Phase {
		case PhasePolling, PhaseBackoff:
			p.setPhase(runID, state.Phase)
			continue
		case PhaseSucceeded:
			outcome = domain.RunOutcomeCompleted
		case PhaseFailed:
			outcome = domain.RunOutcomeFailed
		case PhaseExhausted:
			outcome = domain.RunOutcomeLost
		}

		p.stop(runID, state, outcome)
		metrics.PollOutcomes.WithLabelValues(string(state.Phase)).Inc()

		res := Result{RunID: runID, SessionID: sessionID, Outcome: outcome}
		if outcome == domain.RunOutcomeLost {
			logger.Warn("Giving up on run after consecutive fetch errors", "errors", state.ConsecutiveErrors)
		} else {
			c := Extract(run)
			res.Completion = &c
			res.Run = run
			logger.Info("Run finished", "status", run.Status, "charts", len(c.Charts))
		}
		if p.sink != nil {
			p.sink.RunFinished(p.ctx, res)
		}
		return
	}
}

func (p *Poller) setPhase(runID string, phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.runs[runID]; ok {
		e.state.Phase = string(phase)
	}
}

func (p *Poller) stop(runID string, state State, outcome domain.RunOutcome) {
	now := time.Now().UTC()
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.runs[runID]; ok {
		e.state.Running = false
		e.state.Phase = string(state.Phase)
		e.state.Outcome = outcome
		e.state.EndedAt = &now
	}
}

// Running reports whether a poll loop for runID is active.
func (p *Poller) Running(runID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.runs[runID]
	return ok && e.state.Running
}

// Status returns the tracking state of runID.
func (p *Poller) Status(runID string) (domain.RunState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.runs[runID]
	if !ok {
		return domain.RunState{}, false
	}
	return e.state, true
}

// Tracked lists the run ids with an active poll loop.
func (p *Poller) Tracked() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for id, e := range p.runs {
		if e.state.Running {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Forget drops the tracking state of a finished run.
func (p *Poller) Forget(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.runs[runID]; ok && !e.state.Running {
		delete(p.runs, runID)
	}
}

// Close cancels every poll loop and waits for them to exit.
func (p *Poller) Close() {
	p.cancel()
	p.wg.Wait()
}
