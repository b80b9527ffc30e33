package poller

import (
	"encoding/json"
	"strings"

	"github.com/xiaot623/gogo/runview/internal/charts"
	"github.com/xiaot623/gogo/runview/internal/domain"
)

const (
	// NoOutputMessage is used when a completed run has no usable node output.
	NoOutputMessage = "Run completed without output."

	// GenericFailureMessage is used when a failed run carries no error text.
	GenericFailureMessage = "Run failed."
)

// Completion is what a finished run contributes to the chat.
type Completion struct {
	RunID   string             `json:"run_id"`
	Status  domain.RunStatus   `json:"status"`
	Content string             `json:"content"`
	Charts  []domain.ChartSpec `json:"charts,omitempty"`
}

// Extract builds the completion for a run in a terminal status.
func Extract(run *domain.RunDetail) Completion {
	nodes := run.Nodes()
	c := Completion{RunID: run.ID, Status: run.Status}
	if run.Status == domain.RunStatusFailed {
		c.Content = ExtractFailure(nodes)
		return c
	}
	c.Content = ExtractResult(nodes)
	c.Charts = ExtractCharts(nodes)
	return c
}

// ExtractResult picks the node carrying the run's answer and renders it.
// The formatter node wins; otherwise the last completed node with output.
func ExtractResult(nodes []domain.GraphNode) string {
	node, ok := resultNode(nodes)
	if !ok {
		return NoOutputMessage
	}
	return readable(node.Output)
}

func resultNode(nodes []domain.GraphNode) (domain.GraphNode, bool) {
	var last *domain.GraphNode
	for i := range nodes {
		n := &nodes[i]
		if !hasOutput(n) {
			continue
		}
		if n.Type == domain.AgentTypeFormatter {
			return *n, true
		}
		last = n
	}
	if last == nil {
		return domain.GraphNode{}, false
	}
	return *last, true
}

func hasOutput(n *domain.GraphNode) bool {
	return n.Status == domain.NodeStatusCompleted && strings.TrimSpace(n.Output) != ""
}

// readable extracts the human-readable field of a node output, falling back
// to the raw text.
func readable(output string) string {
	obj, ok := parseObject(output)
	if !ok {
		return output
	}
	for _, key := range []string{"markdown_report", "result", "output"} {
		switch v := obj[key].(type) {
		case nil:
			continue
		case string:
			if v != "" {
				return v
			}
		default:
			if b, err := json.MarshalIndent(v, "", "  "); err == nil {
				return string(b)
			}
		}
	}
	return output
}

func parseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// ExtractCharts returns the sanitized charts of the run, or nil. The chart
// node is preferred; older runs put visualizations on the formatter.
func ExtractCharts(nodes []domain.GraphNode) []domain.ChartSpec {
	var chartNode, formatter *domain.GraphNode
	for i := range nodes {
		n := &nodes[i]
		if !hasOutput(n) {
			continue
		}
		switch n.Type {
		case domain.AgentTypeChart:
			if chartNode == nil {
				chartNode = n
			}
		case domain.AgentTypeFormatter:
			if formatter == nil {
				formatter = n
			}
		}
	}
	source := chartNode
	if source == nil {
		source = formatter
	}
	if source == nil {
		return nil
	}
	obj, ok := parseObject(source.Output)
	if !ok {
		return nil
	}
	return charts.Sanitize(charts.FromOutput(obj))
}

// ExtractFailure surfaces the first failed node's error.
func ExtractFailure(nodes []domain.GraphNode) string {
	for _, n := range nodes {
		if n.Status == domain.NodeStatusFailed && n.Error != "" {
			return n.Error
		}
	}
	return GenericFailureMessage
}
