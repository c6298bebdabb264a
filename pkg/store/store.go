// Package store persists agents, encrypted credentials, sessions,
// transcripts, and the append-only action log in sqlite.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrAgentNotFound      = errors.New("store: agent not found")
	ErrSessionNotFound    = errors.New("store: session not found")
	ErrCredentialNotFound = errors.New("store: credential not found")
	ErrSessionTerminal    = errors.New("store: session already in a terminal state")
	ErrAgentInUse         = errors.New("store: agent has live sessions")
)

// Store wraps the sqlite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_fk=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// WAL lets independent sessions write concurrently.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			provider       TEXT NOT NULL,
			model          TEXT NOT NULL,
			scope_json     TEXT NOT NULL,
			max_iterations INTEGER NOT NULL,
			max_tokens     INTEGER NOT NULL,
			temperature    REAL NOT NULL,
			active         INTEGER NOT NULL DEFAULT 1,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS credentials (
			agent_id   TEXT NOT NULL,
			key        TEXT NOT NULL,
			ciphertext BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (agent_id, key),
			FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			agent_id       TEXT NOT NULL,
			status         TEXT NOT NULL,
			error          TEXT NOT NULL DEFAULT '',
			tokens_used    INTEGER NOT NULL DEFAULT 0,
			api_calls      INTEGER NOT NULL DEFAULT 0,
			files_modified INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id);

		CREATE TABLE IF NOT EXISTS session_messages (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id     TEXT NOT NULL,
			role           TEXT NOT NULL,
			content        TEXT NOT NULL,
			tool_calls_json TEXT NOT NULL DEFAULT '',
			tool_call_id   TEXT NOT NULL DEFAULT '',
			created_at     INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON session_messages(session_id);

		CREATE TABLE IF NOT EXISTS action_logs (
			id             TEXT PRIMARY KEY,
			session_id     TEXT NOT NULL,
			action         TEXT NOT NULL,
			target         TEXT NOT NULL,
			input_summary  TEXT NOT NULL,
			output_summary TEXT NOT NULL,
			was_allowed    INTEGER NOT NULL,
			duration_ms    INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);
		CREATE INDEX IF NOT EXISTS idx_action_logs_session ON action_logs(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
