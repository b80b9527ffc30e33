package domain

import "encoding/json"

// StreamPayload is a raw message from the backend event stream.
type StreamPayload struct {
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// ParseStreamPayload decodes one SSE data frame.
func ParseStreamPayload(data []byte) (StreamPayload, error) {
	var p StreamPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return StreamPayload{}, err
	}
	return p, nil
}

// ReasoningEvent is one normalized occurrence within a run's execution.
// SessionID carries the run correlation id.
type ReasoningEvent struct {
	Type          EventType `json:"type"`
	StepID        string    `json:"step_id"`
	SessionID     string    `json:"session_id"`
	AgentType     string    `json:"agent_type,omitempty"`
	ToolName      string    `json:"tool_name,omitempty"`
	ArgsSummary   string    `json:"args_summary,omitempty"`
	ExecutionTime float64   `json:"execution_time,omitempty"`
	Cost          float64   `json:"cost,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     string    `json:"timestamp"`
}
