// Package backend is the HTTP client for the orchestration backend's run and
// chat APIs.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

// ErrNotFound matches an APIError with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Authorizer gates each request and supplies the bearer token.
type Authorizer interface {
	Allow(ctx context.Context, method, path string) (string, error)
	Expire()
}

// Client is an HTTP client for the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authorizer
}

// NewClient creates a backend client. auth may be nil for unauthenticated use.
func NewClient(baseURL string, timeout time.Duration, auth Authorizer) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var token string
	if c.auth != nil {
		t, err := c.auth.Allow(ctx, method, path)
		if err != nil {
			return err
		}
		token = t
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized && c.auth != nil {
			c.auth.Expire()
		}
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Health pings the backend.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateRun starts a run.
func (c *Client) CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodPost, "/runs/execute", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches the current detail of a run, including its graph.
func (c *Client) GetRun(ctx context.Context, runID string) (*domain.RunDetail, error) {
	var run domain.RunDetail
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, "/runs/"+url.PathEscape(runID), nil, nil)
}

type sessionEnvelope struct {
	Status   string               `json:"status"`
	Session  domain.ChatSession   `json:"session"`
	Sessions []domain.ChatSession `json:"sessions"`
	Messages []domain.ChatMessage `json:"messages"`
	Message  domain.ChatMessage   `json:"message"`
}

func (c *Client) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.ChatSession, error) {
	var env sessionEnvelope
	if err := c.do(ctx, http.MethodPost, "/chat/sessions", req, &env); err != nil {
		return nil, err
	}
	return &env.Session, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	var env sessionEnvelope
	if err := c.do(ctx, http.MethodGet, "/chat/sessions", nil, &env); err != nil {
		return nil, err
	}
	return env.Sessions, nil
}

// GetSession returns a session with its messages in creation order.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, []domain.ChatMessage, error) {
	var env sessionEnvelope
	if err := c.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID), nil, &env); err != nil {
		return nil, nil, err
	}
	return &env.Session, env.Messages, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/chat/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// AddMessage appends a message to a session.
func (c *Client) AddMessage(ctx context.Context, sessionID string, req domain.AddMessageRequest) (*domain.ChatMessage, error) {
	var env sessionEnvelope
	path := "/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, req, &env); err != nil {
		return nil, err
	}
	return &env.Message, nil
}
