package domain

import "time"

// ChatSession is a persisted chat conversation.
type ChatSession struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Model      string    `json:"model,omitempty"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MessageMetadata is the metadata bag of a chat message.
// RunID is the join key onto a run's consolidated steps.
type MessageMetadata struct {
	RunID  string      `json:"run_id,omitempty"`
	Status string      `json:"status,omitempty"`
	Charts []ChartSpec `json:"charts,omitempty"`
}

// IsZero reports whether no metadata is set.
func (m MessageMetadata) IsZero() bool {
	return m.RunID == "" && m.Status == "" && len(m.Charts) == 0
}

// ChatMessage is one message within a chat session.
type ChatMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Role      MessageRole     `json:"role"`
	Content   string          `json:"content"`
	Metadata  MessageMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	// Ephemeral marks a message synthesized locally after persistence failed.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// CreateSessionRequest is the body for creating a chat session.
type CreateSessionRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Title      string `json:"title,omitempty"`
	Model      string `json:"model,omitempty"`
}

// AddMessageRequest is the body for appending a chat message.
type AddMessageRequest struct {
	Role     MessageRole     `json:"role"`
	Content  string          `json:"content"`
	Metadata MessageMetadata `json:"metadata"`
}

// CreateRunRequest is the body for starting a run.
type CreateRunRequest struct {
	Query     string `json:"query"`
	AgentType string `json:"agent_type,omitempty"`
}
