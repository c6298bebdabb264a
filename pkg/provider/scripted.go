package provider

import (
	"context"
	"sync"
)

// Scripted is a Provider that replays a fixed sequence of
// completions. Used by engine and service tests; a run that needs
// more calls than the script contains keeps receiving the final step.
type Scripted struct {
	steps []*Completion

	mu       sync.Mutex
	calls    int
	requests []Request
}

// NewScripted creates a scripted provider from the given steps.
func NewScripted(steps ...*Completion) *Scripted {
	return &Scripted{steps: steps}
}

// Name returns the backend identifier.
func (s *Scripted) Name() string {
	return "scripted"
}

// Complete returns the next scripted step.
func (s *Scripted) Complete(ctx context.Context, request Request) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return errorCompletion(err), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, request)
	step := s.calls
	s.calls++

	if len(s.steps) == 0 {
		return &Completion{FinishReason: FinishStop}, nil
	}
	if step >= len(s.steps) {
		step = len(s.steps) - 1
	}
	out := *s.steps[step]
	return &out, nil
}

// Calls reports how many times Complete ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns a copy of every request seen, in order.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}
