// Package service is the management surface in front of the store,
// vault and engine. The CLI and any embedding program talk to this
// package only; nothing below it is reached directly.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/notedock/notedock/internal/metrics"
	"github.com/notedock/notedock/pkg/engine"
	"github.com/notedock/notedock/pkg/notebook"
	"github.com/notedock/notedock/pkg/provider"
	"github.com/notedock/notedock/pkg/scope"
	"github.com/notedock/notedock/pkg/store"
	"github.com/notedock/notedock/pkg/tools"
	"github.com/notedock/notedock/pkg/vault"
)

// apiKeyCredential is the credential key adapters are fed from.
const apiKeyCredential = "api_key"

// ErrAgentInactive is returned when a session is started against a
// deactivated agent.
var ErrAgentInactive = errors.New("service: agent is not active")

// ErrNoCredential is returned when a run needs an API key the vault
// has never been given.
var ErrNoCredential = errors.New("service: agent has no api_key credential")

// Service wires the subsystem together for callers.
type Service struct {
	store     *store.Store
	vault     *vault.Vault
	notebook  notebook.Store
	engine    *engine.Engine
	providers provider.Factory
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// Config holds service dependencies.
type Config struct {
	Store    *store.Store
	Vault    *vault.Vault
	Notebook notebook.Store
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics

	// Providers may be overridden for testing; defaults to the
	// built-in adapters.
	Providers provider.Factory

	// CallTimeout bounds a single provider call; zero means the
	// engine default.
	CallTimeout time.Duration

	// Progress receives engine milestones; optional.
	Progress engine.Progress
}

// New creates a service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if cfg.Notebook == nil {
		return nil, fmt.Errorf("notebook store is required")
	}

	providers := cfg.Providers
	if providers == nil {
		providers = provider.DefaultFactory{}
	}

	eng, err := engine.New(engine.Config{
		Store:       cfg.Store,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
		CallTimeout: cfg.CallTimeout,
		Progress:    cfg.Progress,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		store:     cfg.Store,
		vault:     cfg.Vault,
		notebook:  cfg.Notebook,
		engine:    eng,
		providers: providers,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}, nil
}

// CreateAgent registers a new agent with its permission scope.
func (s *Service) CreateAgent(ctx context.Context, agent store.Agent) (*store.Agent, error) {
	created, err := s.store.CreateAgent(ctx, agent)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("agent_id", created.ID).Str("name", created.Name).Msg("Agent created")
	return created, nil
}

// GetAgent returns one agent by id.
func (s *Service) GetAgent(ctx context.Context, id string) (*store.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// ListAgents returns all agents.
func (s *Service) ListAgents(ctx context.Context) ([]store.Agent, error) {
	return s.store.ListAgents(ctx)
}

// UpdateAgent replaces an agent's mutable fields, scope included.
// Sessions already running keep the scope they started with; the new
// scope applies from the next session on.
func (s *Service) UpdateAgent(ctx context.Context, agent store.Agent) (*store.Agent, error) {
	return s.store.UpdateAgent(ctx, agent)
}

// SetAgentActive flips the activation flag.
func (s *Service) SetAgentActive(ctx context.Context, id string, active bool) error {
	return s.store.SetAgentActive(ctx, id, active)
}

// DeleteAgent removes an agent, or deactivates it when sessions
// reference it.
func (s *Service) DeleteAgent(ctx context.Context, id string) error {
	return s.store.DeleteAgent(ctx, id)
}

// SetCredential seals a secret and stores only the ciphertext. There
// is no Get counterpart; secrets leave the vault only inside a
// provider adapter.
func (s *Service) SetCredential(ctx context.Context, agentID, key, value string) error {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return err
	}
	sealed, err := s.vault.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}
	if err := s.store.SetCredential(ctx, agentID, key, sealed); err != nil {
		return err
	}
	s.logger.Info().Str("agent_id", agentID).Str("key", key).Msg("Credential stored")
	return nil
}

// ListCredentialKeys returns credential names only, never values.
func (s *Service) ListCredentialKeys(ctx context.Context, agentID string) ([]string, error) {
	return s.store.ListCredentialKeys(ctx, agentID)
}

// DeleteCredential removes a stored credential.
func (s *Service) DeleteCredential(ctx context.Context, agentID, key string) error {
	return s.store.DeleteCredential(ctx, agentID, key)
}

// StartSession creates a pending session for an active agent.
func (s *Service) StartSession(ctx context.Context, agentID string) (*store.Session, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, ErrAgentInactive
	}

	sess, err := s.store.CreateSession(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SessionsTotal.Inc()
	}
	s.logger.Info().Str("session_id", sess.ID).Str("agent_id", agent.ID).Msg("Session started")
	return sess, nil
}

// GetSession returns one session by id.
func (s *Service) GetSession(ctx context.Context, id string) (*store.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions returns sessions, optionally filtered by agent.
func (s *Service) ListSessions(ctx context.Context, agentID string) ([]store.Session, error) {
	return s.store.ListSessions(ctx, agentID)
}

// Message runs one user message through the agent loop and blocks
// until the session reaches a terminal status. The provider is built
// fresh per run so the decrypted API key lives only for the duration
// of the call stack.
func (s *Service) Message(ctx context.Context, sessionID, prompt string) (*engine.RunResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	agent, err := s.store.GetAgent(ctx, sess.AgentID)
	if err != nil {
		return nil, err
	}

	prov, err := s.buildProvider(ctx, agent)
	if err != nil {
		return nil, err
	}

	router := tools.New(tools.Config{
		Guard:     scope.NewGuard(agent.Scope),
		Notebook:  s.notebook,
		Audit:     s.store,
		SessionID: sess.ID,
		Logger:    s.logger,
		Metrics:   s.metrics,
	})

	return s.engine.Run(ctx, engine.RunParams{
		Agent:    agent,
		Session:  sess,
		Provider: prov,
		Router:   router,
		Prompt:   prompt,
	})
}

// Cancel requests cooperative cancellation of a session. A run in
// flight notices at its next iteration boundary; a pending session is
// cancelled outright. Cancelling a terminal session is an error.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	if err := s.store.TransitionSession(ctx, sessionID, store.StatusCancelled, ""); err != nil {
		return err
	}
	s.logger.Info().Str("session_id", sessionID).Msg("Session cancelled")
	return nil
}

// Transcript returns the ordered message history of a session.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]store.SessionMessage, error) {
	return s.store.Transcript(ctx, sessionID)
}

// Logs returns the append-only action log of a session.
func (s *Service) Logs(ctx context.Context, sessionID string) ([]store.ActionLog, error) {
	return s.store.ActionLogs(ctx, sessionID)
}

// buildProvider decrypts the agent's API key and hands it straight to
// the adapter. The plaintext is never stored or logged.
func (s *Service) buildProvider(ctx context.Context, agent *store.Agent) (provider.Provider, error) {
	sealed, err := s.store.CredentialCiphertext(ctx, agent.ID, apiKeyCredential)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return nil, ErrNoCredential
		}
		return nil, err
	}
	apiKey, err := s.vault.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("opening credential: %w", err)
	}
	return s.providers.NewProvider(agent.Provider, string(apiKey))
}
