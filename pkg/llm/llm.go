// Package llm provides a provider-neutral interface for text completion
// backends used by the summarisation pipeline.
package llm

import (
	"context"
)

// Request is a single completion request.
type Request struct {
	// Model is the provider model identifier (required)
	Model string

	// System is an optional system prompt
	System string

	// Prompt is the user prompt (required)
	Prompt string

	// MaxTokens caps the completion length; 0 uses the provider default
	MaxTokens int

	// Temperature in [0, 1]
	Temperature float64
}

// Usage holds token accounting reported by the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is a completed request.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Client is a text completion backend.
type Client interface {
	// Complete generates a completion for the given request
	Complete(ctx context.Context, req Request) (*Response, error)
}
