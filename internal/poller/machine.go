// Package poller tracks runs until they finish and turns the finished run
// into a chat message.
package poller

import "github.com/xiaot623/gogo/runview/internal/domain"

// Phase is the state of a run's poll loop.
type Phase string

const (
	PhasePolling   Phase = "polling"
	PhaseBackoff   Phase = "backoff"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseExhausted Phase = "exhausted"
)

// IsTerminal reports whether the loop stops in this phase.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseExhausted:
		return true
	}
	return false
}

// State is the full state of one poll loop.
type State struct {
	Phase             Phase `json:"phase"`
	ConsecutiveErrors int   `json:"consecutive_errors"`
}

// Observation is the outcome of one status fetch: an error, or a status.
type Observation struct {
	Err    error
	Status domain.RunStatus
}

// Transition computes the next state. A terminal state never changes.
// Any successful fetch resets the error count; reaching maxErrors consecutive
// errors gives up.
func Transition(s State, obs Observation, maxErrors int) State {
	if s.Phase.IsTerminal() {
		return s
	}

	if obs.Err != nil {
		n := s.ConsecutiveErrors + 1
		if n >= maxErrors {
			return State{Phase: PhaseExhausted, ConsecutiveErrors: n}
		}
		return State{Phase: PhaseBackoff, ConsecutiveErrors: n}
	}

	switch obs.Status {
	case domain.RunStatusCompleted:
		return State{Phase: PhaseSucceeded}
	case domain.RunStatusFailed:
		return State{Phase: PhaseFailed}
	}
	return State{Phase: PhasePolling}
}
