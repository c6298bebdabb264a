// Package provider adapts the engine's uniform message and tool-call
// representation to specific model-completion backends. The engine and
// tool router are fully backend-agnostic; adapters are selected by the
// provider identifier stored on the agent configuration.
package provider

import (
	"context"
	"fmt"
)

// FinishReason explains why a completion ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Message is one role-tagged entry of the conversation transcript.
type Message struct {
	Role       string                 `json:"role"` // system, user, assistant, tool
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Tool describes one entry of the tool catalog in the wire-neutral
// shape adapters translate from.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Usage carries token counters from a single backend call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is a uniform chat-completion request.
type Request struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	Tools        []Tool    `json:"tools,omitempty"`
	MaxTokens    int       `json:"max_tokens"`
	Temperature  float64   `json:"temperature,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// Completion is a uniform chat-completion response. Transport, auth,
// quota, and timeout failures never surface as Go errors from
// Complete; they come back as FinishError with ErrorMessage set, so a
// run can be failed cleanly instead of panicking mid-loop.
type Completion struct {
	Content      string       `json:"content,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	ErrorMessage string       `json:"error,omitempty"`
}

// Provider is a single model-completion backend.
type Provider interface {
	// Complete performs one chat-completion round trip. Backend
	// failures are reported through FinishError completions; the
	// returned error is reserved for programming mistakes such as an
	// unmarshalable tool-call payload.
	Complete(ctx context.Context, request Request) (*Completion, error)

	// Name returns the backend identifier ("anthropic", "openai").
	Name() string
}

// Factory resolves provider identifiers to adapters.
type Factory interface {
	NewProvider(name, apiKey string) (Provider, error)
}

// DefaultFactory selects among the built-in adapters.
type DefaultFactory struct{}

// NewProvider creates an adapter for the named backend.
func (DefaultFactory) NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropic(apiKey), nil
	case "openai":
		return NewOpenAI(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// errorCompletion folds a backend failure into the uniform shape.
func errorCompletion(err error) *Completion {
	return &Completion{
		FinishReason: FinishError,
		ErrorMessage: err.Error(),
	}
}
