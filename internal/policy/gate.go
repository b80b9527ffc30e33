// Package policy gates backend data fetching on the user's auth state.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xiaot623/gogo/runview/internal/metrics"
)

// ErrFetchDenied is returned when the gate blocks a backend request.
var ErrFetchDenied = errors.New("fetch denied")

// AuthState is the state of the user's session with the backend.
type AuthState string

const (
	AuthSignedOut AuthState = "signed_out"
	AuthSignedIn  AuthState = "signed_in"
	// AuthExpired is entered when the backend rejects the token.
	AuthExpired AuthState = "expired"
)

// FetchInput is the policy input for one backend request.
type FetchInput struct {
	AuthState AuthState `json:"auth_state"`
	HasToken  bool      `json:"has_token"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
}

// Gate holds the auth state and asks the policy engine before each fetch.
type Gate struct {
	engine *Engine

	mu    sync.RWMutex
	state AuthState
	token string
	subs  []func(AuthState)
}

func NewGate(engine *Engine) *Gate {
	return &Gate{engine: engine, state: AuthSignedOut}
}

// SignIn stores the bearer token and enters the signed-in state.
func (g *Gate) SignIn(token string) error {
	if token == "" {
		return errors.New("token is required")
	}
	g.mu.Lock()
	g.token = token
	g.state = AuthSignedIn
	subs := g.subs
	g.mu.Unlock()

	slog.Info("Signed in to backend")
	notify(subs, AuthSignedIn)
	return nil
}

// SignOut drops the token.
func (g *Gate) SignOut() {
	g.transition(AuthSignedOut)
}

// Expire marks the current token as rejected by the backend.
func (g *Gate) Expire() {
	g.mu.RLock()
	signedIn := g.state == AuthSignedIn
	g.mu.RUnlock()
	if signedIn {
		slog.Warn("Backend rejected token; signing out")
		g.transition(AuthExpired)
	}
}

func (g *Gate) transition(to AuthState) {
	g.mu.Lock()
	g.token = ""
	g.state = to
	subs := g.subs
	g.mu.Unlock()
	notify(subs, to)
}

func notify(subs []func(AuthState), s AuthState) {
	for _, fn := range subs {
		fn(s)
	}
}

// OnChange registers fn to be called after every state change.
func (g *Gate) OnChange(fn func(AuthState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, fn)
}

func (g *Gate) State() AuthState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gate) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// Allow returns the token to use for the request, or ErrFetchDenied.
func (g *Gate) Allow(ctx context.Context, method, path string) (string, error) {
	g.mu.RLock()
	input := FetchInput{AuthState: g.state, HasToken: g.token != "", Method: method, Path: path}
	token := g.token
	g.mu.RUnlock()

	decision, err := g.engine.Evaluate(ctx, input)
	if err != nil {
		return "", err
	}
	if decision != DecisionAllow {
		metrics.FetchesDenied.Inc()
		return "", fmt.Errorf("%w: %s %s while %s", ErrFetchDenied, method, path, input.AuthState)
	}
	return token, nil
}
