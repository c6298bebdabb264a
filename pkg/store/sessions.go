package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notedock/notedock/pkg/provider"
)

// SessionStatus is the lifecycle state of a run. Transitions are
// monotonic: once terminal, a session never changes again.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is one bounded engine run.
type Session struct {
	ID            string        `json:"id"`
	AgentID       string        `json:"agent_id"`
	Status        SessionStatus `json:"status"`
	Error         string        `json:"error,omitempty"`
	TokensUsed    int           `json:"tokens_used"`
	APICalls      int           `json:"api_calls"`
	FilesModified int           `json:"files_modified"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SessionMessage is one transcript entry.
type SessionMessage struct {
	ID         int64               `json:"id"`
	SessionID  string              `json:"session_id"`
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	ToolCalls  []provider.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// CreateSession inserts a pending session for an agent.
func (s *Store) CreateSession(ctx context.Context, agentID string) (*Session, error) {
	now := time.Now()
	session := Session{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, agentID, string(StatusPending), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: insert session: %w", err)
	}

	s.logger.Info().Str("session_id", session.ID).Str("agent_id", agentID).Msg("Session created")
	return &session, nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, status, error, tokens_used, api_calls, files_modified, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var session Session
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&session.ID, &session.AgentID, &status, &session.Error,
		&session.TokensUsed, &session.APICalls, &session.FilesModified, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	session.Status = SessionStatus(status)
	session.CreatedAt = time.UnixMilli(createdAt)
	session.UpdatedAt = time.UnixMilli(updatedAt)
	return &session, nil
}

// ListSessions returns sessions newest first, filtered by agent when
// agentID is non-empty.
func (s *Store) ListSessions(ctx context.Context, agentID string) ([]Session, error) {
	query := `
		SELECT id, agent_id, status, error, tokens_used, api_calls, files_modified, created_at, updated_at
		FROM sessions ORDER BY created_at DESC`
	args := []interface{}{}
	if agentID != "" {
		query = `
		SELECT id, agent_id, status, error, tokens_used, api_calls, files_modified, created_at, updated_at
		FROM sessions WHERE agent_id = ? ORDER BY created_at DESC`
		args = append(args, agentID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		var status string
		var createdAt, updatedAt int64
		if err := rows.Scan(&session.ID, &session.AgentID, &status, &session.Error,
			&session.TokensUsed, &session.APICalls, &session.FilesModified, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		session.Status = SessionStatus(status)
		session.CreatedAt = time.UnixMilli(createdAt)
		session.UpdatedAt = time.UnixMilli(updatedAt)
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// TransitionSession moves a session to a new status. The WHERE clause
// refuses to leave a terminal state, which makes the transition atomic
// against a concurrent cancel.
func (s *Store) TransitionSession(ctx context.Context, id string, to SessionStatus, errorMessage string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(to), errorMessage, time.Now().UnixMilli(), id,
		string(StatusCompleted), string(StatusFailed), string(StatusCancelled))
	if err != nil {
		return fmt.Errorf("store: transition session: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return ErrSessionTerminal
	}

	s.logger.Debug().Str("session_id", id).Str("status", string(to)).Msg("Session status changed")
	return nil
}

// AddSessionMetrics accumulates usage counters on a session.
func (s *Store) AddSessionMetrics(ctx context.Context, id string, tokens, apiCalls, filesModified int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET tokens_used = tokens_used + ?, api_calls = api_calls + ?, files_modified = files_modified + ?, updated_at = ?
		WHERE id = ?`,
		tokens, apiCalls, filesModified, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: add session metrics: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendMessage appends one transcript entry.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg provider.Message) error {
	toolCallsJSON := ""
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("store: marshal tool calls: %w", err)
		}
		toolCallsJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_messages (session_id, role, content, tool_calls_json, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, toolCallsJSON, msg.ToolCallID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// Transcript returns the ordered message history of a session.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]SessionMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls_json, tool_call_id, created_at
		FROM session_messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: load transcript: %w", err)
	}
	defer rows.Close()

	var messages []SessionMessage
	for rows.Next() {
		var msg SessionMessage
		var toolCallsJSON string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &toolCallsJSON, &msg.ToolCallID, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if toolCallsJSON != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("store: unmarshal tool calls: %w", err)
			}
		}
		msg.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
