// Package backend wraps OpenAI-compatible chat completion providers behind a
// single Submit operation with rate-limit backoff.
package backend

import "context"

// Options tune a single completion.
type Options struct {
	Temperature float32
	// MaxTokens of 0 leaves the provider default.
	MaxTokens int
}

// Client submits one system/user prompt pair and returns the reply text.
// An empty system prompt sends a user-only conversation.
type Client interface {
	Name() string
	Model() string
	Submit(ctx context.Context, system, user string, opts Options) (string, error)
}
