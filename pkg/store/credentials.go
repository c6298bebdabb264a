package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SetCredential upserts a sealed credential value for an agent. The
// store only ever sees ciphertext.
func (s *Store) SetCredential(ctx context.Context, agentID, key string, ciphertext []byte) error {
	if key == "" {
		return fmt.Errorf("store: credential key is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (agent_id, key, ciphertext, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (agent_id, key) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`,
		agentID, key, ciphertext, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: set credential: %w", err)
	}

	s.logger.Info().Str("agent_id", agentID).Str("key", key).Msg("Credential stored")
	return nil
}

// CredentialCiphertext returns the sealed value of one credential.
// Callers must decrypt at point of use only.
func (s *Store) CredentialCiphertext(ctx context.Context, agentID, key string) ([]byte, error) {
	var ciphertext []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT ciphertext FROM credentials WHERE agent_id = ? AND key = ?`,
		agentID, key).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load credential: %w", err)
	}
	return ciphertext, nil
}

// ListCredentialKeys returns the key names of an agent's credentials.
// Values are deliberately not readable back through any list API.
func (s *Store) ListCredentialKeys(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM credentials WHERE agent_id = ? ORDER BY key ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: list credentials: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("store: scan credential key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteCredential removes one credential.
func (s *Store) DeleteCredential(ctx context.Context, agentID, key string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE agent_id = ? AND key = ?`, agentID, key)
	if err != nil {
		return fmt.Errorf("store: delete credential: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrCredentialNotFound
	}
	s.logger.Info().Str("agent_id", agentID).Str("key", key).Msg("Credential deleted")
	return nil
}
