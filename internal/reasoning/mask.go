// Package reasoning turns the backend's reasoning events and run graphs into
// consolidated per-step views and reconciles the live and persisted sources.
package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// RedactedMarker replaces the value of every sensitive key.
	RedactedMarker = "***REDACTED***"

	// MaxArgsSummaryLen bounds the rendered argument summary, in runes.
	MaxArgsSummaryLen = 200
)

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"secret":        {},
	"token":         {},
	"key":           {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"credential":    {},
	"credentials":   {},
}

func isSensitiveKey(k string) bool {
	_, ok := sensitiveKeys[strings.ToLower(k)]
	return ok
}

// MaskSecrets returns a copy of v with the values of sensitive keys replaced
// by RedactedMarker, at any depth. The input is not modified.
func MaskSecrets(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, json.Number:
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = RedactedMarker
				continue
			}
			out[k] = MaskSecrets(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = MaskSecrets(val)
		}
		return out
	}

	// Typed maps, slices and structs go through JSON so that nested keys are seen.
	generic, ok := toGeneric(v)
	if !ok {
		return v
	}
	return MaskSecrets(generic)
}

func toGeneric(v any) (any, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	switch out.(type) {
	case map[string]any, []any:
		return out, true
	}
	return nil, false
}

// SummarizeArgs renders tool arguments for display: secrets masked first,
// then JSON-encoded and truncated with an ellipsis.
func SummarizeArgs(args any) string {
	return truncate(renderMasked(args), MaxArgsSummaryLen)
}

func renderMasked(v any) string {
	masked := MaskSecrets(v)
	if b, err := json.Marshal(masked); err == nil {
		return string(b)
	}
	return fmt.Sprint(masked)
}

// sensitivePair matches a quoted sensitive key and its value in JSON or
// Python-literal text. An unterminated quoted value runs to the end of the
// input, which covers summaries cut mid-value.
var sensitivePair = regexp.MustCompile(`(?i)(['"])(password|secret|token|key|api_key|apikey|authorization|credentials?)(['"])\s*:\s*('(?:[^'\\]|\\.)*'?|"(?:[^"\\]|\\.)*"?|[^,}\]\s]+)`)

// MaskSummary masks an argument summary rendered elsewhere. JSON objects and
// arrays are decoded and masked structurally; anything else has the values of
// quoted sensitive keys replaced in place.
func MaskSummary(s string) string {
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err == nil {
		switch decoded.(type) {
		case map[string]any, []any:
			return renderMasked(decoded)
		}
	}
	return sensitivePair.ReplaceAllString(s, "${1}${2}${3}: ${3}"+RedactedMarker+"${3}")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
