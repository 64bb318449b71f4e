package domain

import (
	"context"
	"time"
)

// GenerateRequest is the set of parameters of one generation call. It is
// also the cache key material, so every field must serialize stably.
type GenerateRequest struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

// GenerateResult is the outcome of a non-streaming generation call.
type GenerateResult struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Message      Message   `json:"message"`
	Usage        Usage     `json:"usage"`
	FinishReason string    `json:"finish_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" yaml:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" yaml:"total_tokens"`
}

// StreamEvent is one item of a push-style stream. A non-nil Err means the
// producer failed and no further events follow.
type StreamEvent[T any] struct {
	Value T
	Err   error
}

// Generator is the interface for any generation backend.
type Generator interface {
	// Generate performs a call and returns the complete result.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	// Name returns the backend identifier.
	Name() string
}

// StreamingGenerator extends Generator with chunk streaming.
type StreamingGenerator interface {
	Generator
	// Stream starts a generation run. The channel is closed when the run
	// completes, fails (after an event carrying Err) or ctx is cancelled.
	Stream(ctx context.Context, req GenerateRequest) (<-chan StreamEvent[Chunk], error)
}
