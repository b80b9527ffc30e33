package reasoning

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

// Normalize maps a raw stream payload onto a ReasoningEvent.
//
// It reports false for payloads that are not reasoning events, and for events
// whose session_id does not match activeRunID. Both are expected noise on a
// shared stream and are dropped without error.
func Normalize(raw domain.StreamPayload, activeRunID string, now time.Time) (domain.ReasoningEvent, bool) {
	eventType, ok := domain.ParseEventType(raw.Type)
	if !ok {
		return domain.ReasoningEvent{}, false
	}

	sessionID := stringField(raw.Data, "session_id")
	if sessionID == "" || activeRunID == "" || sessionID != activeRunID {
		return domain.ReasoningEvent{}, false
	}

	ev := domain.ReasoningEvent{
		Type:      eventType,
		StepID:    stringField(raw.Data, "step_id"),
		SessionID: sessionID,
		AgentType: stringField(raw.Data, "agent_type"),
		Timestamp: raw.Timestamp,
	}
	if ev.Timestamp == "" {
		ev.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}

	switch eventType {
	case domain.EventTypeToolCall:
		ev.ToolName = stringField(raw.Data, "tool_name")
		ev.ArgsSummary = argsSummary(raw.Data)
	case domain.EventTypeStepComplete:
		ev.ExecutionTime = floatField(raw.Data, "execution_time")
		ev.Cost = floatField(raw.Data, "cost")
	case domain.EventTypeStepFailed:
		ev.Error = stringField(raw.Data, "error")
	case domain.EventTypeStepStart:
	}

	return ev, true
}

// argsSummary prefers a pre-rendered summary and otherwise renders raw args.
// Both paths are masked.
func argsSummary(data map[string]any) string {
	if s := stringField(data, "args_summary"); s != "" {
		return truncate(MaskSummary(s), MaxArgsSummaryLen)
	}
	for _, key := range []string{"args", "arguments"} {
		if v, ok := data[key]; ok && v != nil {
			return SummarizeArgs(v)
		}
	}
	return ""
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

func floatField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return 0
}
