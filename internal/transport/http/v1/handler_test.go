package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runview/internal/adapter/backend"
	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/policy"
	"github.com/xiaot623/gogo/runview/internal/workspace"
)

type fakeWorkspace struct {
	view       workspace.View
	messages   []domain.ChatMessage
	switchErr  error
	startErr   error
	deleteErr  error
	lastQuery  string
	switchedTo string
}

func (f *fakeWorkspace) View() workspace.View { return f.view }

func (f *fakeWorkspace) Steps(runID string) ([]domain.ConsolidatedStep, bool) {
	steps, ok := f.view.StepsMap[runID]
	return steps, ok
}

func (f *fakeWorkspace) SwitchSession(_ context.Context, id string) error {
	if f.switchErr != nil {
		return f.switchErr
	}
	f.switchedTo = id
	f.view.SessionID = id
	return nil
}

func (f *fakeWorkspace) Messages(context.Context, string) ([]domain.ChatMessage, error) {
	return f.messages, nil
}

func (f *fakeWorkspace) StartRun(_ context.Context, q string) (*domain.Run, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.lastQuery = q
	return &domain.Run{ID: "run-9", Status: domain.RunStatusStarting, Query: q}, nil
}

func (f *fakeWorkspace) DeleteRun(context.Context, string) error { return f.deleteErr }

type fakeRuns map[string]domain.RunState

func (f fakeRuns) Status(runID string) (domain.RunState, bool) {
	s, ok := f[runID]
	return s, ok
}

func newTestEcho(t *testing.T, ws *fakeWorkspace, runs fakeRuns) (*echo.Echo, *policy.Gate) {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	gate := policy.NewGate(engine)

	e := echo.New()
	NewHandler(ws, runs, gate).RegisterRoutes(e)
	return e, gate
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGetView(t *testing.T) {
	ws := &fakeWorkspace{view: workspace.View{
		SessionID: "s1",
		RunID:     "run-1",
		StepsMap: domain.StepMap{"run-1": {
			{StepID: "Planner", Status: domain.StepStatusCompleted, AgentType: "PlannerAgent"},
		}},
	}}
	e, _ := newTestEcho(t, ws, nil)

	rec := do(e, http.MethodGet, "/v1/view", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view workspace.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "run-1", view.RunID)
	require.Len(t, view.StepsMap["run-1"], 1)
	assert.Equal(t, domain.StepStatusCompleted, view.StepsMap["run-1"][0].Status)

	rec = do(e, http.MethodGet, "/v1/runs/run-1/steps", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(e, http.MethodGet, "/v1/runs/other/steps", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivateSession(t *testing.T) {
	ws := &fakeWorkspace{}
	e, _ := newTestEcho(t, ws, nil)

	rec := do(e, http.MethodPost, "/v1/sessions/s2/activate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s2", ws.switchedTo)

	ws.switchErr = fmt.Errorf("load: %w", &backend.APIError{StatusCode: http.StatusNotFound, Body: "missing"})
	rec = do(e, http.MethodPost, "/v1/sessions/nope/activate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ws.switchErr = fmt.Errorf("load: %w", policy.ErrFetchDenied)
	rec = do(e, http.MethodPost, "/v1/sessions/s3/activate", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ws.switchErr = &backend.APIError{StatusCode: http.StatusInternalServerError}
	rec = do(e, http.MethodPost, "/v1/sessions/s3/activate", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStartRun(t *testing.T) {
	ws := &fakeWorkspace{}
	e, _ := newTestEcho(t, ws, nil)

	rec := do(e, http.MethodPost, "/v1/runs", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/v1/runs", `{"query":"sales by month"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "sales by month", ws.lastQuery)

	ws.startErr = workspace.ErrNoActiveSession
	rec = do(e, http.MethodPost, "/v1/runs", `{"query":"q"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRunStatus(t *testing.T) {
	runs := fakeRuns{"run-1": {RunID: "run-1", Running: false, Phase: "exhausted", Outcome: domain.RunOutcomeLost}}
	e, _ := newTestEcho(t, &fakeWorkspace{}, runs)

	rec := do(e, http.MethodGet, "/v1/runs/run-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.RunState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Running)
	assert.Equal(t, domain.RunOutcomeLost, st.Outcome)

	rec = do(e, http.MethodGet, "/v1/runs/run-2/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRun(t *testing.T) {
	ws := &fakeWorkspace{}
	e, _ := newTestEcho(t, ws, nil)

	rec := do(e, http.MethodDelete, "/v1/runs/run-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted"`)

	ws.deleteErr = fmt.Errorf("delete: %w", &backend.APIError{StatusCode: http.StatusNotFound})
	rec = do(e, http.MethodDelete, "/v1/runs/run-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthToken(t *testing.T) {
	e, gate := newTestEcho(t, &fakeWorkspace{}, nil)

	rec := do(e, http.MethodPost, "/v1/auth/token", `{"token":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/v1/auth/token", `{"token":"tok"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, policy.AuthSignedIn, gate.State())

	rec = do(e, http.MethodGet, "/health", "")
	assert.Contains(t, rec.Body.String(), `"signed_in"`)

	rec = do(e, http.MethodDelete, "/v1/auth/token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, policy.AuthSignedOut, gate.State())
}
