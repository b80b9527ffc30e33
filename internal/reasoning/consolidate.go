package reasoning

import "github.com/xiaot623/gogo/runview/internal/domain"

// Consolidate folds a run's ordered event log into one step per step id.
//
// Output order is the first-appearance order of each step id. An event for a
// step that was never started still creates the step as in progress.
func Consolidate(events []domain.ReasoningEvent) []domain.ConsolidatedStep {
	index := make(map[string]*domain.ConsolidatedStep)
	var order []string

	for _, ev := range events {
		step, ok := index[ev.StepID]
		if !ok {
			step = domain.NewStep(ev.StepID)
			index[ev.StepID] = step
			order = append(order, ev.StepID)
		}

		switch ev.Type {
		case domain.EventTypeStepStart:
			step.Start(ev.AgentType)
		case domain.EventTypeToolCall:
			step.AddToolCall(ev.ToolName, ev.ArgsSummary)
		case domain.EventTypeStepComplete:
			step.Complete(ev.AgentType, ev.ExecutionTime, ev.Cost)
		case domain.EventTypeStepFailed:
			step.Fail(ev.AgentType, ev.Error)
		}
	}

	steps := make([]domain.ConsolidatedStep, 0, len(order))
	for _, id := range order {
		steps = append(steps, *index[id])
	}
	return steps
}

// ConsolidateAll consolidates every run held by the store.
func ConsolidateAll(store *EventStore) domain.StepMap {
	out := make(domain.StepMap)
	for _, runID := range store.RunIDs() {
		out[runID] = Consolidate(store.Events(runID))
	}
	return out
}
