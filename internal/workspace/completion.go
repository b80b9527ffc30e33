package workspace

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/poller"
	"github.com/xiaot623/gogo/runview/internal/reasoning"
)

// LocalMessagePrefix marks ids of messages that exist only in memory.
const LocalMessagePrefix = "local-"

func ephemeralMessage(sessionID string, req domain.AddMessageRequest, now time.Time) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        LocalMessagePrefix + uuid.NewString(),
		SessionID: sessionID,
		Role:      req.Role,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: now.UTC(),
		Ephemeral: true,
	}
}

// RunFinished applies a finished run. The assistant message is always
// persisted to the session captured when the run started, but it only joins
// the visible message list if that session is still active.
func (w *Workspace) RunFinished(ctx context.Context, res poller.Result) {
	ev := OutcomeEvent{RunID: res.RunID, SessionID: res.SessionID, Outcome: res.Outcome}

	if res.Completion == nil {
		w.logger.Warn("Run lost; no result message", "run_id", res.RunID, "session_id", res.SessionID)
		w.notifyOutcome(ev)
		return
	}

	if res.Run != nil {
		w.snapshots.Add(res.RunID, res.Run)
	}

	c := res.Completion
	msg := w.persistMessage(ctx, res.SessionID, domain.AddMessageRequest{
		Role:    domain.RoleAssistant,
		Content: c.Content,
		Metadata: domain.MessageMetadata{
			RunID:  c.RunID,
			Status: string(c.Status),
			Charts: c.Charts,
		},
	})
	ev.MessageID = msg.ID

	w.mu.Lock()
	if w.sessionID == res.SessionID {
		w.messages = append(w.messages, msg)
		if res.Run != nil {
			w.persisted[res.RunID] = reasoning.Reconstruct(res.Run.Nodes())
		}
		ev.Applied = true
	}
	w.mu.Unlock()

	if ev.Applied {
		w.notifyView()
	}
	w.notifyOutcome(ev)
}
