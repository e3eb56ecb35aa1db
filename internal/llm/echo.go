package llm

import (
	"context"
	"strings"
	"sync"
)

// Echo answers with the last user turn. It backs tests and offline development.
type Echo struct {
	mu       sync.Mutex
	err      error
	reply    string
	requests []Request
}

func NewEcho() *Echo {
	return &Echo{}
}

// FailWith makes every following call return err.
func (e *Echo) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// ReplyWith fixes the reply content.
func (e *Echo) ReplyWith(reply string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reply = reply
}

func (e *Echo) Requests() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Request(nil), e.requests...)
}

func (e *Echo) Model() string {
	return "echo"
}

func (e *Echo) Complete(ctx context.Context, req Request) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if e.err != nil {
		return Response{}, e.err
	}

	content := e.reply
	if content == "" {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == RoleUser {
				content = "Echo: " + req.Messages[i].Content
				break
			}
		}
	}
	tokens := 0
	for _, msg := range req.Messages {
		tokens += len(strings.Fields(msg.Content))
	}
	tokens += len(strings.Fields(content))
	return Response{Content: content, Model: e.Model(), TokensUsed: tokens}, nil
}
