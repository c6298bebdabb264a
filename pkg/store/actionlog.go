package store

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ActionLog is one immutable audit record for a tool-dispatch attempt.
// Rows are append-only: the store exposes no update or delete for them.
type ActionLog struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Action        string        `json:"action"`
	Target        string        `json:"target"`
	InputSummary  string        `json:"input_summary"`
	OutputSummary string        `json:"output_summary"`
	WasAllowed    bool          `json:"was_allowed"`
	Duration      time.Duration `json:"duration"`
	CreatedAt     time.Time     `json:"created_at"`
}

// AppendActionLog writes one audit record synchronously.
func (s *Store) AppendActionLog(ctx context.Context, entry ActionLog) (*ActionLog, error) {
	if entry.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("store: action log id: %w", err)
		}
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_logs (id, session_id, action, target, input_summary, output_summary, was_allowed, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.Action, entry.Target,
		entry.InputSummary, entry.OutputSummary, boolToInt(entry.WasAllowed),
		entry.Duration.Milliseconds(), entry.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: append action log: %w", err)
	}

	s.logger.Debug().
		Str("session_id", entry.SessionID).
		Str("action", entry.Action).
		Str("target", entry.Target).
		Bool("was_allowed", entry.WasAllowed).
		Msg("Action logged")
	return &entry, nil
}

// ActionLogs returns the ordered audit trail of a session.
func (s *Store) ActionLogs(ctx context.Context, sessionID string) ([]ActionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, action, target, input_summary, output_summary, was_allowed, duration_ms, created_at
		FROM action_logs WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list action logs: %w", err)
	}
	defer rows.Close()

	var entries []ActionLog
	for rows.Next() {
		var entry ActionLog
		var wasAllowed int
		var durationMs, createdAt int64
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Action, &entry.Target,
			&entry.InputSummary, &entry.OutputSummary, &wasAllowed, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan action log: %w", err)
		}
		entry.WasAllowed = wasAllowed != 0
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entry.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
