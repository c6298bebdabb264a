package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notedock/notedock/pkg/notebook"
	"github.com/notedock/notedock/pkg/provider"
	"github.com/notedock/notedock/pkg/scope"
	"github.com/notedock/notedock/pkg/store"
	"github.com/notedock/notedock/pkg/tools"
)

type fixture struct {
	store   *store.Store
	agent   *store.Agent
	session *store.Session
	router  *tools.Router
	engine  *Engine
}

func newFixture(t *testing.T, s scope.Scope, maxIterations int) *fixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "notedock.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	nb, err := notebook.NewFSStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	agent, err := db.CreateAgent(context.Background(), store.Agent{
		Name:          "tester",
		Provider:      "anthropic",
		Model:         "claude-test",
		Scope:         s,
		MaxIterations: maxIterations,
	})
	require.NoError(t, err)

	session, err := db.CreateSession(context.Background(), agent.ID)
	require.NoError(t, err)

	router := tools.New(tools.Config{
		Guard:     scope.NewGuard(s),
		Notebook:  nb,
		Audit:     db,
		SessionID: session.ID,
		Logger:    zerolog.Nop(),
	})

	eng, err := New(Config{Store: db, Logger: zerolog.Nop()})
	require.NoError(t, err)

	return &fixture{store: db, agent: agent, session: session, router: router, engine: eng}
}

func fullScope() scope.Scope {
	return scope.Scope{
		Notebooks: []string{"*"},
		Folders:   []string{"*"},
		FileTypes: []string{"*"},
		CanRead:   true,
		CanWrite:  true,
		CanCreate: true,
		CanDelete: true,
	}
}

func toolCallStep(name string, args map[string]interface{}) *provider.Completion {
	return &provider.Completion{
		ToolCalls: []provider.ToolCall{
			{ID: "call-1", Name: name, Arguments: args},
		},
		FinishReason: provider.FinishToolCalls,
		Usage:        provider.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func finalStep(content string) *provider.Completion {
	return &provider.Completion{
		Content:      content,
		FinishReason: provider.FinishStop,
		Usage:        provider.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func TestNewAppliesCallTimeout(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "notedock.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng, err := New(Config{Store: db, Logger: zerolog.Nop(), CallTimeout: 30 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, eng.callTimeout)

	eng, err = New(Config{Store: db, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, defaultCallTimeout, eng.callTimeout)
}

func TestRunCompletesWithoutTools(t *testing.T) {
	f := newFixture(t, fullScope(), 0)
	scripted := provider.NewScripted(finalStep("all done"))

	res, err := f.engine.Run(context.Background(), RunParams{
		Agent:    f.agent,
		Session:  f.session,
		Provider: scripted,
		Router:   f.router,
		Prompt:   "say hi",
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, "all done", res.Response)
	assert.Equal(t, 1, res.Iterations)

	sess, err := f.store.GetSession(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, sess.Status)
	assert.Equal(t, 1, sess.APICalls)
	assert.Equal(t, 15, sess.TokensUsed)
}

func TestRunExecutesToolCallsAndRecordsMutations(t *testing.T) {
	f := newFixture(t, fullScope(), 0)
	scripted := provider.NewScripted(
		toolCallStep("write_file", map[string]interface{}{
			"path":    "/notes/plan.md",
			"content": "step one",
		}),
		finalStep("written"),
	)

	res, err := f.engine.Run(context.Background(), RunParams{
		Agent:    f.agent,
		Session:  f.session,
		Provider: scripted,
		Router:   f.router,
		Prompt:   "write the plan",
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 1, res.ToolCalls)

	sess, err := f.store.GetSession(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.FilesModified)

	logs, err := f.store.ActionLogs(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "write_file", logs[0].Action)
	assert.True(t, logs[0].WasAllowed)

	transcript, err := f.store.Transcript(context.Background(), f.session.ID)
	require.NoError(t, err)
	roles := make([]string, 0, len(transcript))
	for _, msg := range transcript {
		roles = append(roles, msg.Role)
	}
	assert.Equal(t, []string{"user", "assistant", "tool", "assistant"}, roles)
}

func TestRunDeniedToolStillContinues(t *testing.T) {
	s := fullScope()
	s.Folders = []string{"/experiments/*"}

	f := newFixture(t, s, 0)
	scripted := provider.NewScripted(
		toolCallStep("read_file", map[string]interface{}{"path": "/secrets/keys.md"}),
		finalStep("could not read that"),
	)

	res, err := f.engine.Run(context.Background(), RunParams{
		Agent:    f.agent,
		Session:  f.session,
		Provider: scripted,
		Router:   f.router,
		Prompt:   "read the secrets",
	})
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, res.Status)

	logs, err := f.store.ActionLogs(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].WasAllowed)

	// The denial rode back to the model as a tool result.
	transcript, err := f.store.Transcript(context.Background(), f.session.ID)
	require.NoError(t, err)
	var toolContent string
	for _, msg := range transcript {
		if msg.Role == "tool" {
			toolContent = msg.Content
		}
	}
	assert.Contains(t, toolContent, "folder not in scope")
}

func TestRunIterationBudgetExhaustionCompletes(t *testing.T) {
	f := newFixture(t, fullScope(), 3)

	// Every step asks for another tool, so the loop only stops at the
	// iteration bound.
	scripted := provider.NewScripted(
		toolCallStep("list_files", map[string]interface{}{"path": "/"}),
	)

	res, err := f.engine.Run(context.Background(), RunParams{
		Agent:    f.agent,
		Session:  f.session,
		Provider: scripted,
		Router:   f.router,
		Prompt:   "loop forever",
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, "maximum iterations reached", res.Response)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, scripted.Calls())

	sess, err := f.store.GetSession(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, sess.Status)
	assert.Equal(t, sess.APICalls, 3)
}

func TestRunProviderFailureFailsSession(t *testing.T) {
	f := newFixture(t, fullScope(), 0)
	scripted := provider.NewScripted(&provider.Completion{
		FinishReason: provider.FinishError,
		ErrorMessage: "rate limited",
	})

	res, err := f.engine.Run(context.Background(), RunParams{
		Agent:    f.agent,
		Session:  f.session,
		Provider: scripted,
		Router:   f.router,
		Prompt:   "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "rate limited", res.Error)

	sess, err := f.store.GetSession(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, sess.Status)
	assert.Equal(t, "rate limited", sess.Error)
}

func TestRunObservesCancelBetweenIterations(t *testing.T) {
	f := newFixture(t, fullScope(), 0)

	cancelling := &cancellingProvider{store: f.store, sessionID: f.session.ID}

	res, err := f.engine.Run(context.Background(), RunParams{
		Agent:    f.agent,
		Session:  f.session,
		Provider: cancelling,
		Router:   f.router,
		Prompt:   "long task",
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusCancelled, res.Status)
	assert.Equal(t, 1, cancelling.calls)

	sess, err := f.store.GetSession(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, sess.Status)
}

func TestRunOnTerminalSessionIsNoOp(t *testing.T) {
	f := newFixture(t, fullScope(), 0)
	require.NoError(t, f.store.TransitionSession(context.Background(), f.session.ID, store.StatusCancelled, ""))

	scripted := provider.NewScripted(finalStep("should not run"))
	res, err := f.engine.Run(context.Background(), RunParams{
		Agent:    f.agent,
		Session:  f.session,
		Provider: scripted,
		Router:   f.router,
		Prompt:   "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusCancelled, res.Status)
	assert.Zero(t, scripted.Calls())
}

func TestSystemPromptReflectsScopeOnly(t *testing.T) {
	s := scope.Scope{
		Folders:   []string{"/experiments/*"},
		FileTypes: []string{"*.md"},
		Notebooks: []string{"research"},
		CanRead:   true,
	}

	prompt := SystemPrompt(s)

	assert.Contains(t, prompt, "read files: allowed")
	assert.Contains(t, prompt, "write files: not allowed")
	assert.Contains(t, prompt, "/experiments/*")
	assert.Contains(t, prompt, "*.md")
	assert.Contains(t, prompt, "research")
	assert.False(t, strings.Contains(prompt, "/secrets"))
}

// cancellingProvider cancels its own session during the first call,
// mimicking an operator cancel racing a running loop. The loop must
// notice before the second provider call.
type cancellingProvider struct {
	store     *store.Store
	sessionID string
	calls     int
}

func (p *cancellingProvider) Name() string { return "cancelling" }

func (p *cancellingProvider) Complete(ctx context.Context, _ provider.Request) (*provider.Completion, error) {
	p.calls++
	if err := p.store.TransitionSession(ctx, p.sessionID, store.StatusCancelled, ""); err != nil {
		return nil, err
	}
	return &provider.Completion{
		ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "list_files", Arguments: map[string]interface{}{"path": "/"}},
		},
		FinishReason: provider.FinishToolCalls,
	}, nil
}
