package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type Config struct {
	Provider        string
	AzureEndpoint   string
	AzureKey        string
	AzureDeployment string
	AzureVersion    string
	OpenAIKey       string
	OpenAIModel     string
	Timeout         time.Duration
}

// New picks a backend from cfg. Azure wins when both Azure and OpenAI credentials are set.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "echo":
		return NewEcho(), nil
	case "azure":
		if cfg.AzureEndpoint == "" || cfg.AzureKey == "" {
			return nil, fmt.Errorf("%w: azure endpoint and key are required", ErrNotConfigured)
		}
		return newAzure(cfg), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("%w: openai key is required", ErrNotConfigured)
		}
		return newOpenAI(cfg), nil
	case "":
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.Provider)
	}

	switch {
	case cfg.AzureEndpoint != "" && cfg.AzureKey != "":
		return newAzure(cfg), nil
	case cfg.OpenAIKey != "":
		return newOpenAI(cfg), nil
	default:
		return nil, ErrNotConfigured
	}
}

type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func newAzure(cfg Config) *OpenAI {
	clientCfg := openai.DefaultAzureConfig(cfg.AzureKey, cfg.AzureEndpoint)
	if cfg.AzureVersion != "" {
		clientCfg.APIVersion = cfg.AzureVersion
	}
	deployment := cfg.AzureDeployment
	clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), model: deployment, timeout: cfg.Timeout}
}

func newOpenAI(cfg Config) *OpenAI {
	return &OpenAI{client: openai.NewClient(cfg.OpenAIKey), model: cfg.OpenAIModel, timeout: cfg.Timeout}
}

func (c *OpenAI) Model() string {
	return c.model
}

func (c *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		if len(resp.Choices) > 0 && resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
			return Response{}, fmt.Errorf("chat completion: content_filter")
		}
		return Response{}, ErrEmptyResponse
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Response{
		Content:    resp.Choices[0].Message.Content,
		Model:      model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
