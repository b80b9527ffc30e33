package hub

import (
	"github.com/xiaot623/gogo/runview/internal/workspace"
)

// Message types from client to server
const (
	TypeHello = "hello"
)

// Message types from server to client
const (
	TypeHelloAck   = "hello_ack"
	TypeView       = "view"
	TypeRunOutcome = "run_outcome"
	TypeError      = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	SessionID string `json:"session_id,omitempty"`
}

// HelloMessage binds a connection to one session. An empty session id
// receives updates for every session.
type HelloMessage struct {
	BaseMessage
}

// HelloAckMessage carries the current view.
type HelloAckMessage struct {
	BaseMessage
	View workspace.View `json:"view"`
}

// ViewMessage is pushed whenever the merged view changes.
type ViewMessage struct {
	BaseMessage
	View workspace.View `json:"view"`
}

// RunOutcomeMessage is pushed when a run's poll loop ends.
type RunOutcomeMessage struct {
	BaseMessage
	Outcome workspace.OutcomeEvent `json:"outcome"`
}

// ErrorMessage is sent when a client message cannot be handled.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
)
