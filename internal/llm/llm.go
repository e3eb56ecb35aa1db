// Package llm talks to chat-completion models and shapes their output for the API.
package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNotConfigured = errors.New("llm: no provider configured")
	ErrEmptyResponse = errors.New("llm: empty response")
)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Content    string
	Model      string
	TokensUsed int
}

// Client is implemented by every completion backend.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Model() string
}
