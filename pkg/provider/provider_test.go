package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFactory(t *testing.T) {
	factory := DefaultFactory{}

	t.Run("anthropic", func(t *testing.T) {
		p, err := factory.NewProvider("anthropic", "test-key")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("openai", func(t *testing.T) {
		p, err := factory.NewProvider("openai", "test-key")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := factory.NewProvider("mystery", "test-key")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported provider")
	})
}

func TestFinishReasonMapping(t *testing.T) {
	tests := []struct {
		name      string
		got       FinishReason
		want      FinishReason
	}{
		{"anthropic tool_use", anthropicFinishReason("tool_use", 1), FinishToolCalls},
		{"anthropic max_tokens", anthropicFinishReason("max_tokens", 0), FinishLength},
		{"anthropic end_turn", anthropicFinishReason("end_turn", 0), FinishStop},
		{"anthropic end_turn with calls", anthropicFinishReason("end_turn", 2), FinishToolCalls},
		{"openai tool_calls", openaiFinishReason("tool_calls", 1), FinishToolCalls},
		{"openai length", openaiFinishReason("length", 0), FinishLength},
		{"openai stop", openaiFinishReason("stop", 0), FinishStop},
		{"openai stop with calls", openaiFinishReason("stop", 1), FinishToolCalls},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestScriptedProviderReplaysSteps(t *testing.T) {
	scripted := NewScripted(
		&Completion{
			FinishReason: FinishToolCalls,
			ToolCalls:    []ToolCall{{ID: "call-1", Name: "read_file"}},
			Usage:        Usage{InputTokens: 10, OutputTokens: 5},
		},
		&Completion{FinishReason: FinishStop, Content: "done"},
	)

	ctx := context.Background()

	first, err := scripted.Complete(ctx, Request{Model: "test"})
	require.NoError(t, err)
	assert.Equal(t, FinishToolCalls, first.FinishReason)

	second, err := scripted.Complete(ctx, Request{Model: "test"})
	require.NoError(t, err)
	assert.Equal(t, "done", second.Content)

	// Past the end of the script, the last step repeats.
	third, err := scripted.Complete(ctx, Request{Model: "test"})
	require.NoError(t, err)
	assert.Equal(t, FinishStop, third.FinishReason)

	assert.Equal(t, 3, scripted.Calls())
	assert.Len(t, scripted.Requests(), 3)
}

func TestScriptedProviderCancelledContext(t *testing.T) {
	scripted := NewScripted(&Completion{FinishReason: FinishStop})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	completion, err := scripted.Complete(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, FinishError, completion.FinishReason)
	assert.NotEmpty(t, completion.ErrorMessage)
}
