package reasoning

import "github.com/xiaot623/gogo/runview/internal/domain"

// Reconstruct derives consolidated steps from a persisted run graph, for runs
// whose live events were never seen.
//
// The synthetic root and nodes that never executed are skipped. Tool calls come
// from the node's iterations when it has any, otherwise from its flat call list.
func Reconstruct(nodes []domain.GraphNode) []domain.ConsolidatedStep {
	steps := make([]domain.ConsolidatedStep, 0, len(nodes))
	for _, node := range nodes {
		if node.ID == domain.RootNodeID || node.Status.NeverExecuted() {
			continue
		}

		stepID := node.Label
		if stepID == "" {
			stepID = node.ID
		}

		steps = append(steps, domain.ConsolidatedStep{
			StepID:        stepID,
			Status:        node.Status.StepStatus(),
			AgentType:     node.Type,
			ExecutionTime: node.ExecutionTime,
			Cost:          node.Cost,
			Error:         node.Error,
			ToolCalls:     nodeToolCalls(node),
		})
	}
	return steps
}

func nodeToolCalls(node domain.GraphNode) []domain.ToolCallSummary {
	calls := []domain.ToolCallSummary{}
	if len(node.Iterations) > 0 {
		for _, it := range node.Iterations {
			call, ok := it.ToolCall()
			if !ok || call.Name == "" {
				continue
			}
			calls = append(calls, domain.ToolCallSummary{ToolName: call.Name, ArgsSummary: SummarizeArgs(call.Arguments)})
		}
		return calls
	}
	for _, call := range node.Calls {
		if call.Name == "" {
			continue
		}
		calls = append(calls, domain.ToolCallSummary{ToolName: call.Name, ArgsSummary: SummarizeArgs(call.Arguments)})
	}
	return calls
}
