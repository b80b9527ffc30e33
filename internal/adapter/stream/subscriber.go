package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xiaot623/gogo/runview/internal/adapter/backend"
	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/metrics"
	"github.com/xiaot623/gogo/runview/internal/policy"
)

const eventsPath = "/events"

// PayloadHandler receives each decoded stream payload in receipt order.
type PayloadHandler func(domain.StreamPayload)

// Subscriber holds one SSE connection to the backend open, reconnecting
// until its context ends.
type Subscriber struct {
	baseURL    string
	httpClient *http.Client
	auth       backend.Authorizer
	limiter    *rate.Limiter
	handle     PayloadHandler
	logger     *slog.Logger
}

// NewSubscriber creates a subscriber. Reconnect attempts are spaced at least
// reconnect apart.
func NewSubscriber(baseURL string, auth backend.Authorizer, reconnect time.Duration, handle PayloadHandler) *Subscriber {
	if reconnect <= 0 {
		reconnect = 3 * time.Second
	}
	return &Subscriber{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		auth:       auth,
		limiter:    rate.NewLimiter(rate.Every(reconnect), 1),
		handle:     handle,
		logger:     slog.With("component", "stream"),
	}
}

// Run keeps the subscription alive until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.StreamReconnects.Inc()
		switch {
		case errors.Is(err, policy.ErrFetchDenied):
			s.logger.Debug("Event stream waiting for sign-in")
		case err != nil:
			s.logger.Warn("Event stream disconnected", "error", err)
		default:
			s.logger.Info("Event stream closed by backend; reconnecting")
		}
	}
}

func (s *Subscriber) connect(ctx context.Context) error {
	var token string
	if s.auth != nil {
		t, err := s.auth.Allow(ctx, http.MethodGet, eventsPath)
		if err != nil {
			return err
		}
		token = t
	}

	u := s.baseURL + eventsPath
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusUnauthorized && s.auth != nil {
			s.auth.Expire()
		}
		return &backend.APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	s.logger.Info("Event stream connected", "url", s.baseURL+eventsPath)
	return Parse(resp.Body, s.dispatch)
}

func (s *Subscriber) dispatch(ev Event) error {
	if ev.Event != "" && ev.Event != "message" {
		return nil
	}
	payload, err := domain.ParseStreamPayload([]byte(ev.Data))
	if err != nil {
		s.logger.Debug("Dropping undecodable stream payload", "error", err)
		metrics.EventsDropped.Inc()
		return nil
	}
	s.handle(payload)
	return nil
}
