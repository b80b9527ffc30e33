package domain

import (
	"encoding/json"
	"time"
)

// Run is a run as returned by run creation.
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	CreatedAt string    `json:"created_at,omitempty"`
	Query     string    `json:"query,omitempty"`
}

// RunDetail is the polled state of a run, including its execution graph.
type RunDetail struct {
	ID          string    `json:"id"`
	Status      RunStatus `json:"status"`
	Query       string    `json:"query,omitempty"`
	Cost        float64   `json:"cost,omitempty"`
	CreatedAt   string    `json:"created_at,omitempty"`
	CompletedAt string    `json:"completed_at,omitempty"`
	Graph       *Graph    `json:"graph,omitempty"`
}

// Nodes returns the graph nodes, or nil when no graph was persisted.
func (r *RunDetail) Nodes() []GraphNode {
	if r == nil || r.Graph == nil {
		return nil
	}
	return r.Graph.Nodes
}

// Graph is a run's execution graph.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphEdge connects two nodes.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// ToolInvocation is a tool call recorded on a node.
type ToolInvocation struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// Iteration is one ReAct turn of a node. When the turn called a tool,
// Output carries it under "call_tool".
type Iteration struct {
	Iteration  int    `json:"iteration"`
	Output     any    `json:"output,omitempty"`
	ToolResult string `json:"tool_result,omitempty"`
}

// ToolCall returns the tool call embedded in the iteration output, if any.
func (it Iteration) ToolCall() (ToolInvocation, bool) {
	out, ok := it.Output.(map[string]any)
	if !ok {
		return ToolInvocation{}, false
	}
	call, ok := out["call_tool"].(map[string]any)
	if !ok {
		return ToolInvocation{}, false
	}
	name, _ := call["name"].(string)
	return ToolInvocation{Name: name, Arguments: call["arguments"]}, true
}

// GraphNode is one step node of a run graph.
type GraphNode struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	Status        NodeStatus       `json:"status"`
	Label         string           `json:"label"`
	Output        string           `json:"output"`
	Error         string           `json:"error"`
	Cost          float64          `json:"cost"`
	ExecutionTime float64          `json:"execution_time"`
	Iterations    []Iteration      `json:"iterations"`
	Calls         []ToolInvocation `json:"calls"`
}

// nodeData is the payload the backend nests under a React-Flow node.
type nodeData struct {
	Label         string           `json:"label"`
	Type          string           `json:"type"`
	Status        NodeStatus       `json:"status"`
	Output        string           `json:"output"`
	Error         string           `json:"error"`
	Cost          float64          `json:"cost"`
	ExecutionTime float64          `json:"execution_time"`
	Iterations    []Iteration      `json:"iterations"`
	Calls         []ToolInvocation `json:"calls"`
}

type flowNode struct {
	ID   string    `json:"id"`
	Type string    `json:"type,omitempty"`
	Data *nodeData `json:"data,omitempty"`
}

// MarshalJSON emits the React-Flow node shape the backend serves.
func (n GraphNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(flowNode{
		ID:   n.ID,
		Type: "agentNode",
		Data: &nodeData{
			Label:         n.Label,
			Type:          n.Type,
			Status:        n.Status,
			Output:        n.Output,
			Error:         n.Error,
			Cost:          n.Cost,
			ExecutionTime: n.ExecutionTime,
			Iterations:    n.Iterations,
			Calls:         n.Calls,
		},
	})
}

// UnmarshalJSON accepts both the React-Flow shape and a flat node.
func (n *GraphNode) UnmarshalJSON(b []byte) error {
	var wire flowNode
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	if wire.Data == nil {
		type flat GraphNode
		var f flat
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		*n = GraphNode(f)
		return nil
	}
	d := wire.Data
	*n = GraphNode{
		ID:            wire.ID,
		Type:          d.Type,
		Status:        d.Status,
		Label:         d.Label,
		Output:        d.Output,
		Error:         d.Error,
		Cost:          d.Cost,
		ExecutionTime: d.ExecutionTime,
		Iterations:    d.Iterations,
		Calls:         d.Calls,
	}
	return nil
}

// RunOutcome reports how a poll loop ended.
type RunOutcome string

const (
	RunOutcomeCompleted RunOutcome = "completed"
	RunOutcomeFailed    RunOutcome = "failed"
	RunOutcomeLost      RunOutcome = "lost"
)

// RunState is the tracking state of a polled run.
type RunState struct {
	RunID     string     `json:"run_id"`
	SessionID string     `json:"session_id"`
	Running   bool       `json:"running"`
	Phase     string     `json:"phase"`
	Outcome   RunOutcome `json:"outcome,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
