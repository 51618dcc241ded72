// Package llm defines the language-model completion collaborator consumed
// by the analysis and qualification pipelines.
package llm

import (
	"context"
	"fmt"
)

// Usage counts the tokens one completion consumed.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Request describes one completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSONOnly constrains the model to emit a single JSON object.
	JSONOnly bool
}

// Completion is the model's reply plus its token accounting.
type Completion struct {
	Text  string
	Usage Usage
}

// Client is the completion collaborator contract.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// ErrorKind classifies completion failures.
type ErrorKind string

// Completion failure causes.
const (
	ErrAuth          ErrorKind = "auth"
	ErrRateLimit     ErrorKind = "rate_limit"
	ErrTimeout       ErrorKind = "timeout"
	ErrTransport     ErrorKind = "transport"
	ErrInvalidOutput ErrorKind = "invalid_model_output"
)

// Error is a typed completion failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("llm: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
