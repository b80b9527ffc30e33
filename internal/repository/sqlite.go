// Package repository persists the development backend's chat sessions,
// messages and runs in SQLite.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/runview/internal/domain"
)

// SQLiteStore is the SQLite-backed store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to an in-memory database is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			model TEXT,
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			status TEXT NOT NULL,
			cost REAL NOT NULL DEFAULT 0,
			graph TEXT,
			created_at TEXT NOT NULL,
			completed_at TEXT
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a chat session owned by userID.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ChatSession, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, user_id, title, model, target_type, target_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, userID, session.Title, session.Model, session.TargetType, session.TargetID, session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession retrieves a session by ID. It returns nil when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, model, target_type, target_id, created_at, updated_at FROM chat_sessions WHERE session_id = ?`,
		sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var model sql.NullString
	if err := row.Scan(&session.ID, &session.Title, &model, &session.TargetType, &session.TargetID, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	session.Model = model.String
	return &session, nil
}

// ListSessions returns userID's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, model, target_type, target_id, created_at, updated_at FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// DeleteSession deletes a session and its messages. It reports whether the
// session existed.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CreateMessage appends a message and touches the session.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.ChatMessage) error {
	var metadata sql.NullString
	if !message.Metadata.IsZero() {
		b, err := json.Marshal(message.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, session_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.Role, message.Content, metadata, message.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE session_id = ?`,
		message.CreatedAt, message.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMessages returns a session's messages in creation order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, metadata, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var msg domain.ChatMessage
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("message %s: bad metadata: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateRun inserts a run with its initial graph.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.RunDetail) error {
	graph, err := marshalGraph(run.Graph)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, query, status, cost, graph, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Query, run.Status, run.Cost, graph, run.CreatedAt)
	return err
}

// GetRun retrieves a run by ID. It returns nil when absent.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunDetail, error) {
	var run domain.RunDetail
	var graph, completedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, query, status, cost, graph, created_at, completed_at FROM runs WHERE run_id = ?`,
		runID).Scan(&run.ID, &run.Query, &run.Status, &run.Cost, &graph, &run.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.CompletedAt = completedAt.String
	if graph.Valid && graph.String != "" {
		run.Graph = &domain.Graph{}
		if err := json.Unmarshal([]byte(graph.String), run.Graph); err != nil {
			return nil, fmt.Errorf("run %s: bad graph: %w", runID, err)
		}
	}
	return &run, nil
}

// UpdateRun stores a run's status, cost and graph. Terminal statuses stamp
// the completion time.
func (s *SQLiteStore) UpdateRun(ctx context.Context, runID string, status domain.RunStatus, cost float64, graph *domain.Graph) error {
	payload, err := marshalGraph(graph)
	if err != nil {
		return err
	}
	var completedAt sql.NullString
	if status.IsTerminal() {
		completedAt = sql.NullString{String: time.Now().UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, cost = ?, graph = ?, completed_at = COALESCE(?, completed_at) WHERE run_id = ?`,
		status, cost, payload, completedAt, runID)
	return err
}

// DeleteRun deletes a run. It reports whether the run existed.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func marshalGraph(g *domain.Graph) (sql.NullString, error) {
	if g == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(g)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
