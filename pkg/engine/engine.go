package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/notedock/notedock/internal/metrics"
	"github.com/notedock/notedock/pkg/provider"
	"github.com/notedock/notedock/pkg/scope"
	"github.com/notedock/notedock/pkg/store"
	"github.com/notedock/notedock/pkg/tools"
)

const (
	// defaultMaxIterations bounds the tool loop when the agent record
	// carries no limit of its own.
	defaultMaxIterations = 20

	// defaultCallTimeout caps a single provider round trip.
	defaultCallTimeout = 2 * time.Minute

	exhaustedMessage = "maximum iterations reached"
)

// Progress receives loop milestones while a run is in flight.
type Progress func(sessionID string, iteration int, phase string)

// Engine drives the bounded tool-use loop for one session at a time.
// All state lives in the store; the engine itself is stateless across
// runs and safe for concurrent use.
type Engine struct {
	store       *store.Store
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	callTimeout time.Duration
	progress    Progress
}

// Config holds engine configuration.
type Config struct {
	Store       *store.Store
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	CallTimeout time.Duration
	Progress    Progress
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Engine{
		store:       cfg.Store,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		callTimeout: timeout,
		progress:    cfg.Progress,
	}, nil
}

// RunParams carries everything one run needs. The provider arrives
// already constructed so credential material never touches the engine.
type RunParams struct {
	Agent    *store.Agent
	Session  *store.Session
	Provider provider.Provider
	Router   *tools.Router
	Prompt   string
}

// RunResult summarizes a finished run.
type RunResult struct {
	SessionID  string              `json:"session_id"`
	Status     store.SessionStatus `json:"status"`
	Response   string              `json:"response,omitempty"`
	Error      string              `json:"error,omitempty"`
	Iterations int                 `json:"iterations"`
	TokensUsed int                 `json:"tokens_used"`
	ToolCalls  int                 `json:"tool_calls"`
}

// Run executes the loop until the model stops asking for tools, an
// iteration or error boundary is hit, or the session is cancelled out
// from under it. The session always lands in a terminal status before
// Run returns; only infrastructure failures surface as an error.
func (e *Engine) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if params.Agent == nil || params.Session == nil {
		return nil, fmt.Errorf("agent and session are required")
	}
	if params.Provider == nil || params.Router == nil {
		return nil, fmt.Errorf("provider and router are required")
	}

	logger := e.logger.With().
		Str("session_id", params.Session.ID).
		Str("agent_id", params.Agent.ID).
		Logger()

	start := time.Now()
	if e.metrics != nil {
		e.metrics.SessionsActive.Inc()
		defer e.metrics.SessionsActive.Dec()
	}

	result, err := e.execute(ctx, params, logger)

	if e.metrics != nil && result != nil {
		e.metrics.EngineRunsTotal.WithLabelValues(params.Agent.ID, string(result.Status)).Inc()
		e.metrics.EngineRunDuration.WithLabelValues(params.Agent.ID).Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (e *Engine) execute(ctx context.Context, params RunParams, logger zerolog.Logger) (*RunResult, error) {
	sessionID := params.Session.ID

	if err := e.store.TransitionSession(ctx, sessionID, store.StatusRunning, ""); err != nil {
		if errors.Is(err, store.ErrSessionTerminal) {
			return e.settle(ctx, sessionID, nil)
		}
		return nil, fmt.Errorf("starting session: %w", err)
	}

	userMsg := provider.Message{Role: "user", Content: params.Prompt}
	if err := e.store.AppendMessage(ctx, sessionID, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	messages := []provider.Message{userMsg}
	providerTools := params.Router.ProviderTools()
	systemPrompt := SystemPrompt(params.Agent.Scope)

	maxIterations := params.Agent.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	run := &RunResult{SessionID: sessionID}

	for iteration := 0; iteration < maxIterations; iteration++ {
		// Cancellation is cooperative: a cancel lands in the store as
		// a terminal status and is picked up here, between iterations.
		cancelled, err := e.sessionCancelled(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if cancelled || ctx.Err() != nil {
			logger.Info().Int("iteration", iteration).Msg("Run cancelled")
			if !cancelled {
				// Caller context cancellation has no store-side record
				// yet; write one so the session does not stay running.
				if err := e.finish(context.WithoutCancel(ctx), sessionID, store.StatusCancelled, ""); err != nil {
					logger.Error().Err(err).Msg("Failed to record cancellation")
				}
			}
			run.Status = store.StatusCancelled
			return run, nil
		}

		e.report(sessionID, iteration, "thinking")

		completion, err := e.callProvider(ctx, params, messages, providerTools, systemPrompt)
		if err != nil {
			return nil, fmt.Errorf("provider call: %w", err)
		}

		run.Iterations = iteration + 1
		run.TokensUsed += completion.Usage.InputTokens + completion.Usage.OutputTokens
		e.recordUsage(ctx, params, completion, logger)

		if completion.FinishReason == provider.FinishError {
			logger.Warn().Str("error", completion.ErrorMessage).Msg("Provider call failed")
			run.Status = store.StatusFailed
			run.Error = completion.ErrorMessage
			return run, e.finish(ctx, sessionID, store.StatusFailed, completion.ErrorMessage)
		}

		assistant := provider.Message{
			Role:      "assistant",
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		}
		messages = append(messages, assistant)
		if err := e.store.AppendMessage(ctx, sessionID, assistant); err != nil {
			logger.Error().Err(err).Msg("Failed to persist assistant message")
		}

		if len(completion.ToolCalls) == 0 {
			run.Status = store.StatusCompleted
			run.Response = completion.Content
			return run, e.finish(ctx, sessionID, store.StatusCompleted, "")
		}

		e.report(sessionID, iteration, "executing_tools")

		toolMessages, modified := e.dispatchAll(ctx, params.Router, completion.ToolCalls, logger)
		run.ToolCalls += len(completion.ToolCalls)

		for _, msg := range toolMessages {
			messages = append(messages, msg)
			if err := e.store.AppendMessage(ctx, sessionID, msg); err != nil {
				logger.Error().Err(err).Msg("Failed to persist tool message")
			}
		}
		if modified > 0 {
			if err := e.store.AddSessionMetrics(ctx, sessionID, 0, 0, modified); err != nil {
				logger.Error().Err(err).Msg("Failed to record modified files")
			}
		}
	}

	// The budget ran out with the model still mid-task. The session
	// completes with an explanatory final message rather than failing,
	// since everything done so far is valid work.
	logger.Info().Int("max_iterations", maxIterations).Msg("Iteration budget exhausted")
	final := provider.Message{Role: "assistant", Content: exhaustedMessage}
	if err := e.store.AppendMessage(ctx, sessionID, final); err != nil {
		logger.Error().Err(err).Msg("Failed to persist final message")
	}
	run.Status = store.StatusCompleted
	run.Response = exhaustedMessage
	return run, e.finish(ctx, sessionID, store.StatusCompleted, "")
}

// dispatchAll runs a batch of tool calls sequentially in the order the
// model returned them. A failed call does not stop later calls in the
// batch; the model sees every outcome and decides what to do next.
func (e *Engine) dispatchAll(ctx context.Context, router *tools.Router, calls []provider.ToolCall, logger zerolog.Logger) ([]provider.Message, int) {
	out := make([]provider.Message, 0, len(calls))
	modified := 0

	for _, call := range calls {
		res := router.Dispatch(ctx, call.Name, call.Arguments, true)

		content := res.Output
		if res.Error != "" {
			content = res.Error
		}
		if res.Mutated && res.Success {
			modified++
		}

		logger.Debug().
			Str("tool", call.Name).
			Bool("success", res.Success).
			Bool("denied", res.Denied).
			Msg("Tool call dispatched")

		out = append(out, provider.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	return out, modified
}

func (e *Engine) callProvider(ctx context.Context, params RunParams, messages []provider.Message, providerTools []provider.Tool, systemPrompt string) (*provider.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	completion, err := params.Provider.Complete(callCtx, provider.Request{
		Model:        params.Agent.Model,
		Messages:     messages,
		Tools:        providerTools,
		MaxTokens:    params.Agent.MaxTokens,
		Temperature:  params.Agent.Temperature,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ProviderCallsTotal.WithLabelValues(params.Provider.Name(), string(completion.FinishReason)).Inc()
	}
	return completion, nil
}

func (e *Engine) recordUsage(ctx context.Context, params RunParams, completion *provider.Completion, logger zerolog.Logger) {
	tokens := completion.Usage.InputTokens + completion.Usage.OutputTokens
	if err := e.store.AddSessionMetrics(ctx, params.Session.ID, tokens, 1, 0); err != nil {
		logger.Error().Err(err).Msg("Failed to record session metrics")
	}
	if e.metrics != nil && tokens > 0 {
		e.metrics.TokensUsedTotal.Add(float64(tokens))
	}
}

// finish moves the session to a terminal status. Losing the race to a
// concurrent cancel is fine; the cancel's terminal status stands.
func (e *Engine) finish(ctx context.Context, sessionID string, to store.SessionStatus, errorMessage string) error {
	err := e.store.TransitionSession(ctx, sessionID, to, errorMessage)
	if errors.Is(err, store.ErrSessionTerminal) {
		return nil
	}
	return err
}

// settle resolves a run whose session was already terminal on entry.
func (e *Engine) settle(ctx context.Context, sessionID string, _ error) (*RunResult, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &RunResult{SessionID: sessionID, Status: sess.Status, Error: sess.Error}, nil
}

func (e *Engine) sessionCancelled(ctx context.Context, sessionID string) (bool, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("checking session status: %w", err)
	}
	return sess.Status == store.StatusCancelled, nil
}

func (e *Engine) report(sessionID string, iteration int, phase string) {
	if e.progress != nil {
		e.progress(sessionID, iteration, phase)
	}
}

// SystemPrompt renders the permission boundary into the instruction
// the model sees. Nothing outside the scope is mentioned, so the
// prompt cannot leak paths the agent is not allowed to touch.
func SystemPrompt(s scope.Scope) string {
	var b strings.Builder
	b.WriteString("You are a notebook assistant operating inside a restricted scope.\n\n")
	b.WriteString("Permissions:\n")

	caps := []struct {
		name    string
		enabled bool
	}{
		{"read files", s.CanRead},
		{"write files", s.CanWrite},
		{"create files", s.CanCreate},
		{"delete files", s.CanDelete},
	}
	for _, c := range caps {
		mark := "not allowed"
		if c.enabled {
			mark = "allowed"
		}
		fmt.Fprintf(&b, "- %s: %s\n", c.name, mark)
	}

	if len(s.Folders) > 0 {
		fmt.Fprintf(&b, "\nAccessible folders: %s\n", strings.Join(s.Folders, ", "))
	}
	if len(s.FileTypes) > 0 {
		fmt.Fprintf(&b, "Accessible file types: %s\n", strings.Join(s.FileTypes, ", "))
	}
	if len(s.Notebooks) > 0 {
		fmt.Fprintf(&b, "Accessible notebooks: %s\n", strings.Join(s.Notebooks, ", "))
	}

	b.WriteString("\nStay within these permissions. Operations outside them are denied and logged.")
	return b.String()
}
