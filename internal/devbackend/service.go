// Package devbackend is a self-contained stand-in for the orchestration
// backend: chat sessions, scripted runs and the event stream, over SQLite.
package devbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/repository"
)

// EventSource is the source field stamped on every simulated event.
const EventSource = "AgentLoop4"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRunNotFound     = errors.New("run not found")
)

type Service struct {
	store     *repository.SQLiteStore
	bus       *Bus
	stepDelay time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[string]context.CancelFunc

	// writeMu orders simulator writes against stop and delete.
	writeMu sync.Mutex
}

func NewService(store *repository.SQLiteStore, bus *Bus, stepDelay time.Duration) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     store,
		bus:       bus,
		stepDelay: stepDelay,
		logger:    slog.With("component", "devbackend"),
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]context.CancelFunc),
	}
}

func (s *Service) Bus() *Bus { return s.bus }

// Close stops every simulated run, waits for them and ends open streams.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
	s.bus.Close()
}

func (s *Service) CreateSession(ctx context.Context, userID string, req domain.CreateSessionRequest) (*domain.ChatSession, error) {
	if req.Title == "" {
		req.Title = "New Chat"
	}
	now := time.Now().UTC()
	session := &domain.ChatSession{
		ID:         uuid.New().String(),
		Title:      req.Title,
		Model:      req.Model,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateSession(ctx, session, userID); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// ListSessions returns the caller's sessions, optionally narrowed to one
// target.
func (s *Service) ListSessions(ctx context.Context, userID, targetType, targetID string) ([]domain.ChatSession, error) {
	all, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := all[:0]
	for _, sess := range all {
		if targetType != "" && sess.TargetType != targetType {
			continue
		}
		if targetID != "" && sess.TargetID != targetID {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, []domain.ChatMessage, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, nil, ErrSessionNotFound
	}
	messages, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return session, messages, nil
}

func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	ok, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Service) AddMessage(ctx context.Context, sessionID string, req domain.AddMessageRequest) (*domain.ChatMessage, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	msg := &domain.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      req.Role,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// GetMessages pages through a session's messages in creation order.
func (s *Service) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]domain.ChatMessage, error) {
	messages, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if offset >= len(messages) {
		return []domain.ChatMessage{}, nil
	}
	messages = messages[offset:]
	if limit > 0 && limit < len(messages) {
		messages = messages[:limit]
	}
	return messages, nil
}

// CreateRun persists a run and starts simulating it in the background.
func (s *Service) CreateRun(ctx context.Context, userID string, req domain.CreateRunRequest) (*domain.Run, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	runID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	plan := planFor(req.Query)
	detail := &domain.RunDetail{
		ID:        runID,
		Status:    domain.RunStatusStarting,
		Query:     req.Query,
		CreatedAt: now,
		Graph:     plan.graph(),
	}
	if err := s.store.CreateRun(ctx, detail); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.runs[runID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(runID)
		s.simulate(runCtx, runID, userID, plan, detail.Graph)
	}()

	return &domain.Run{ID: runID, Status: domain.RunStatusStarting, CreatedAt: now, Query: req.Query}, nil
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.runs[runID]; ok {
		cancel()
		delete(s.runs, runID)
	}
}

func (s *Service) GetRun(ctx context.Context, runID string) (*domain.RunDetail, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// StopRun cancels a run that has not finished.
func (s *Service) StopRun(ctx context.Context, runID string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() || run.Status == domain.RunStatusCancelled {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.release(runID)
	return s.store.UpdateRun(ctx, runID, domain.RunStatusCancelled, run.Cost, run.Graph)
}

func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.release(runID)
	ok, err := s.store.DeleteRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if !ok {
		return ErrRunNotFound
	}
	return nil
}
