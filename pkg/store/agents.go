package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notedock/notedock/pkg/scope"
)

// Agent is a stored agent configuration. The Scope is a snapshot:
// the engine copies it at run start and ignores later edits.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Provider      string      `json:"provider"`
	Model         string      `json:"model"`
	Scope         scope.Scope `json:"scope"`
	MaxIterations int         `json:"max_iterations"`
	MaxTokens     int         `json:"max_tokens"`
	Temperature   float64     `json:"temperature"`
	Active        bool        `json:"active"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CreateAgent inserts a new agent, assigning an ID when absent.
func (s *Store) CreateAgent(ctx context.Context, agent Agent) (*Agent, error) {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.Name == "" {
		return nil, fmt.Errorf("store: agent name is required")
	}
	if agent.Provider == "" || agent.Model == "" {
		return nil, fmt.Errorf("store: agent provider and model are required")
	}
	if agent.MaxIterations <= 0 {
		agent.MaxIterations = 20
	}
	if agent.MaxTokens <= 0 {
		agent.MaxTokens = 4096
	}

	now := time.Now()
	agent.Active = true
	agent.CreatedAt = now
	agent.UpdatedAt = now

	scopeJSON, err := json.Marshal(agent.Scope)
	if err != nil {
		return nil, fmt.Errorf("store: marshal scope: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, provider, model, scope_json, max_iterations, max_tokens, temperature, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		agent.ID, agent.Name, agent.Provider, agent.Model, string(scopeJSON),
		agent.MaxIterations, agent.MaxTokens, agent.Temperature,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert agent: %w", err)
	}

	s.logger.Info().Str("agent_id", agent.ID).Str("name", agent.Name).Msg("Agent created")
	return &agent, nil
}

// GetAgent loads one agent.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, provider, model, scope_json, max_iterations, max_tokens, temperature, active, created_at, updated_at
		FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns all agents, newest first.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, provider, model, scope_json, max_iterations, max_tokens, temperature, active, created_at, updated_at
		FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// UpdateAgent replaces the mutable fields of an agent.
func (s *Store) UpdateAgent(ctx context.Context, agent Agent) (*Agent, error) {
	scopeJSON, err := json.Marshal(agent.Scope)
	if err != nil {
		return nil, fmt.Errorf("store: marshal scope: %w", err)
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, provider = ?, model = ?, scope_json = ?, max_iterations = ?, max_tokens = ?, temperature = ?, updated_at = ?
		WHERE id = ?`,
		agent.Name, agent.Provider, agent.Model, string(scopeJSON),
		agent.MaxIterations, agent.MaxTokens, agent.Temperature,
		now.UnixMilli(), agent.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: update agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrAgentNotFound
	}
	return s.GetAgent(ctx, agent.ID)
}

// SetAgentActive flips the active flag.
func (s *Store) SetAgentActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: set agent active: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	s.logger.Info().Str("agent_id", id).Bool("active", active).Msg("Agent active flag changed")
	return nil
}

// DeleteAgent removes an agent. An agent referenced by any live
// (non-terminal) session is soft-deactivated instead, keeping its
// sessions and action logs replayable.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	var live int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE agent_id = ? AND status IN (?, ?)`,
		id, string(StatusPending), string(StatusRunning)).Scan(&live)
	if err != nil {
		return fmt.Errorf("store: count live sessions: %w", err)
	}
	if live > 0 {
		if err := s.SetAgentActive(ctx, id, false); err != nil {
			return err
		}
		return ErrAgentInUse
	}

	var hasSessions int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE agent_id = ?`, id).Scan(&hasSessions)
	if err != nil {
		return fmt.Errorf("store: count sessions: %w", err)
	}
	if hasSessions > 0 {
		// Terminal sessions stay for audit; the agent is retired,
		// not erased.
		return s.SetAgentActive(ctx, id, false)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	s.logger.Info().Str("agent_id", id).Msg("Agent deleted")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	var scopeJSON string
	var active int
	var createdAt, updatedAt int64

	err := row.Scan(&agent.ID, &agent.Name, &agent.Provider, &agent.Model, &scopeJSON,
		&agent.MaxIterations, &agent.MaxTokens, &agent.Temperature, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan agent: %w", err)
	}

	if err := json.Unmarshal([]byte(scopeJSON), &agent.Scope); err != nil {
		return nil, fmt.Errorf("store: unmarshal scope: %w", err)
	}
	agent.Active = active != 0
	agent.CreatedAt = time.UnixMilli(createdAt)
	agent.UpdatedAt = time.UnixMilli(updatedAt)
	return &agent, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
