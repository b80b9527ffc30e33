package devbackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

type stepPlan struct {
	id     string
	agent  string
	tool   string
	args   map[string]any
	output string
	fail   string
	cost   float64
}

type runPlan struct {
	steps []stepPlan
}

// planFor scripts a run from its query. "chart" adds a chart step and
// "fail" makes retrieval fail.
func planFor(query string) runPlan {
	q := strings.ToLower(query)
	steps := []stepPlan{
		{
			id:     "T001",
			agent:  "PlannerAgent",
			tool:   "plan_query",
			args:   map[string]any{"query": query},
			output: `{"result": "1. Retrieve the data\n2. Write the report"}`,
			cost:   0.0012,
		},
		{
			id:     "T002",
			agent:  "RetrieverAgent",
			tool:   "sql_query",
			args:   map[string]any{"sql": "SELECT month, revenue FROM sales ORDER BY month", "api_key": "sk-dev-0123456789abcdef"},
			output: "month,revenue\n2024-01,120\n2024-02,135\n2024-03,160",
			cost:   0.0031,
		},
	}
	if strings.Contains(q, "fail") {
		steps[1].fail = "retriever: upstream returned 500"
	}
	if strings.Contains(q, "chart") {
		steps = append(steps, stepPlan{
			id:     "T003",
			agent:  domain.AgentTypeChart,
			output: `{"charts": [{"schema_version": "v1", "chart_type": "line", "title": "Revenue", "x_key": "month", "y_keys": ["revenue"], "data": [{"month": "2024-01", "revenue": 120}, {"month": "2024-02", "revenue": 135}, {"month": "2024-03", "revenue": 160}]}]}`,
			cost:   0.0008,
		})
	}
	steps = append(steps, stepPlan{
		id:     fmt.Sprintf("T%03d", len(steps)+1),
		agent:  domain.AgentTypeFormatter,
		output: fmt.Sprintf(`{"markdown_report": "## Report\n\nRevenue grew every month for: %s"}`, escapeJSON(query)),
		cost:   0.0019,
	})
	return runPlan{steps: steps}
}

func escapeJSON(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`)
	return r.Replace(s)
}

// graph builds the initial graph: a completed root followed by a chain of
// pending steps.
func (p runPlan) graph() *domain.Graph {
	g := &domain.Graph{
		Nodes: []domain.GraphNode{{ID: domain.RootNodeID, Type: "Planner", Label: "Root", Status: domain.NodeStatusCompleted}},
	}
	prev := domain.RootNodeID
	for _, st := range p.steps {
		g.Nodes = append(g.Nodes, domain.GraphNode{ID: st.id, Type: st.agent, Label: st.id, Status: domain.NodeStatusPending})
		g.Edges = append(g.Edges, domain.GraphEdge{ID: prev + "-" + st.id, Source: prev, Target: st.id})
		prev = st.id
	}
	return g
}

func (s *Service) simulate(ctx context.Context, runID, userID string, plan runPlan, graph *domain.Graph) {
	logger := s.logger.With("run_id", runID)
	var cost float64

	if !s.save(ctx, runID, domain.RunStatusRunning, cost, graph) {
		return
	}

	for i, st := range plan.steps {
		node := &graph.Nodes[i+1]
		if !s.sleep(ctx) {
			return
		}

		node.Status = domain.NodeStatusRunning
		if !s.save(ctx, runID, domain.RunStatusRunning, cost, graph) {
			return
		}
		s.publish(domain.EventTypeStepStart, userID, map[string]any{
			"step_id":    st.id,
			"session_id": runID,
			"agent_type": st.agent,
		})

		started := time.Now()
		if st.tool != "" {
			call := map[string]any{"name": st.tool, "arguments": st.args}
			node.Calls = append(node.Calls, domain.ToolInvocation{Name: st.tool, Arguments: st.args})
			node.Iterations = append(node.Iterations, domain.Iteration{
				Iteration:  1,
				Output:     map[string]any{"call_tool": call},
				ToolResult: "ok",
			})
			s.publish(domain.EventTypeToolCall, userID, map[string]any{
				"step_id":    st.id,
				"session_id": runID,
				"tool_name":  st.tool,
				"args":       st.args,
			})
		}
		if !s.sleep(ctx) {
			return
		}
		elapsed := time.Since(started).Seconds()

		if st.fail != "" {
			node.Status = domain.NodeStatusFailed
			node.Error = st.fail
			node.ExecutionTime = elapsed
			s.publish(domain.EventTypeStepFailed, userID, map[string]any{
				"step_id":    st.id,
				"session_id": runID,
				"agent_type": st.agent,
				"error":      st.fail,
			})
			logger.Info("Simulated run failed", "step_id", st.id)
			s.save(ctx, runID, domain.RunStatusFailed, cost, graph)
			return
		}

		node.Status = domain.NodeStatusCompleted
		node.Output = st.output
		node.Cost = st.cost
		node.ExecutionTime = elapsed
		cost += st.cost
		s.publish(domain.EventTypeStepComplete, userID, map[string]any{
			"step_id":        st.id,
			"session_id":     runID,
			"agent_type":     st.agent,
			"execution_time": elapsed,
			"cost":           st.cost,
		})
	}

	logger.Info("Simulated run completed", "steps", len(plan.steps), "cost", cost)
	s.save(ctx, runID, finalStatus(graph), cost, graph)
}

// finalStatus is failed when any step other than the root failed.
func finalStatus(g *domain.Graph) domain.RunStatus {
	for _, n := range g.Nodes {
		if n.ID != domain.RootNodeID && n.Status == domain.NodeStatusFailed {
			return domain.RunStatusFailed
		}
	}
	return domain.RunStatusCompleted
}

func (s *Service) sleep(ctx context.Context) bool {
	if s.stepDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.stepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// save persists the run unless it was stopped or deleted meanwhile.
func (s *Service) save(ctx context.Context, runID string, status domain.RunStatus, cost float64, graph *domain.Graph) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	if err := s.store.UpdateRun(context.Background(), runID, status, cost, graph); err != nil {
		s.logger.Error("Failed to save simulated run", "run_id", runID, "error", err)
		return false
	}
	return true
}

func (s *Service) publish(eventType domain.EventType, userID string, data map[string]any) {
	data["user_id"] = userID
	s.bus.Publish(string(eventType), EventSource, data)
}
