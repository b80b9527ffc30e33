package domain

// ToolCallSummary is a tool invocation attached to a step.
type ToolCallSummary struct {
	ToolName    string `json:"tool_name"`
	ArgsSummary string `json:"args_summary"`
}

// ConsolidatedStep is the summary of one logical step within a run.
//
// Fields change only through the transition methods below. Once Status is
// terminal it is never moved again.
type ConsolidatedStep struct {
	StepID        string            `json:"step_id"`
	Status        StepStatus        `json:"status"`
	AgentType     string            `json:"agent_type,omitempty"`
	ExecutionTime float64           `json:"execution_time,omitempty"`
	Cost          float64           `json:"cost,omitempty"`
	Error         string            `json:"error,omitempty"`
	ToolCalls     []ToolCallSummary `json:"tool_calls"`
}

// NewStep returns an in-progress step with no tool calls.
func NewStep(stepID string) *ConsolidatedStep {
	return &ConsolidatedStep{
		StepID:    stepID,
		Status:    StepStatusInProgress,
		ToolCalls: []ToolCallSummary{},
	}
}

// Start records the acting agent. Repeated starts keep the first agent.
func (s *ConsolidatedStep) Start(agentType string) {
	if s.AgentType == "" {
		s.AgentType = agentType
	}
}

// AddToolCall appends a tool call. Calls without a tool name are ignored.
func (s *ConsolidatedStep) AddToolCall(toolName, argsSummary string) {
	if toolName == "" {
		return
	}
	s.ToolCalls = append(s.ToolCalls, ToolCallSummary{ToolName: toolName, ArgsSummary: argsSummary})
}

// Complete marks the step completed and refreshes its metrics.
func (s *ConsolidatedStep) Complete(agentType string, executionTime, cost float64) {
	if !s.Status.IsTerminal() {
		s.Status = StepStatusCompleted
	}
	if agentType != "" {
		s.AgentType = agentType
	}
	s.ExecutionTime = executionTime
	s.Cost = cost
}

// Fail marks the step failed and records the error.
func (s *ConsolidatedStep) Fail(agentType, errText string) {
	if !s.Status.IsTerminal() {
		s.Status = StepStatusFailed
	}
	if agentType != "" {
		s.AgentType = agentType
	}
	s.Error = errText
}

// StepMap holds consolidated steps keyed by run id.
type StepMap map[string][]ConsolidatedStep
