// Package domain defines the core domain models for runview.
package domain

// EventType represents the type of a reasoning event on the stream.
type EventType string

const (
	EventTypeStepStart    EventType = "step_start"
	EventTypeStepComplete EventType = "step_complete"
	EventTypeStepFailed   EventType = "step_failed"
	EventTypeToolCall     EventType = "tool_call"
)

// ParseEventType maps a raw stream type onto a known EventType.
// Anything else reports false and is meant to be ignored.
func ParseEventType(raw string) (EventType, bool) {
	switch t := EventType(raw); t {
	case EventTypeStepStart, EventTypeStepComplete, EventTypeStepFailed, EventTypeToolCall:
		return t, true
	}
	return "", false
}

// StepStatus represents the status of a consolidated step.
type StepStatus string

const (
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// NodeStatus represents the status of a node in a persisted run graph.
type NodeStatus string

const (
	NodeStatusPending      NodeStatus = "pending"
	NodeStatusIdle         NodeStatus = "idle"
	NodeStatusStale        NodeStatus = "stale"
	NodeStatusRunning      NodeStatus = "running"
	NodeStatusCompleted    NodeStatus = "completed"
	NodeStatusFailed       NodeStatus = "failed"
	NodeStatusWaitingInput NodeStatus = "waiting_input"
	NodeStatusCancelled    NodeStatus = "cancelled"
)

// NeverExecuted reports whether a node with this status never ran.
// A missing status counts as pending, which is the backend default.
func (s NodeStatus) NeverExecuted() bool {
	switch s {
	case "", NodeStatusPending, NodeStatusIdle, NodeStatusStale:
		return true
	}
	return false
}

// StepStatus flattens a node status onto the step status set.
// Only running and completed survive as themselves; everything else is failed.
func (s NodeStatus) StepStatus() StepStatus {
	switch s {
	case NodeStatusRunning:
		return StepStatusInProgress
	case NodeStatusCompleted:
		return StepStatusCompleted
	}
	return StepStatusFailed
}

// RunStatus represents the status of a run as reported by the backend.
type RunStatus string

const (
	RunStatusStarting  RunStatus = "starting"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusUnknown   RunStatus = "unknown"
)

// IsTerminal reports whether polling should stop on this status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// MessageRole represents the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Agent types with a designated role in result extraction.
const (
	AgentTypeFormatter = "FormatterAgent"
	AgentTypeChart     = "ChartAgent"
)

// RootNodeID is the synthetic planner root present in every run graph.
const RootNodeID = "ROOT"
