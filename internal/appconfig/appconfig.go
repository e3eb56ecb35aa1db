// Package appconfig reads runtime settings from a key/value store with a short cache.
package appconfig

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	KeyMaxTokens        = "llm.maxTokens"
	KeyTemperature      = "llm.temperature"
	KeySystemPrompt     = "llm.systemPrompt"
	KeyHistoryLimit     = "chat.historyLimit"
	KeyModelDisplayName = "ui.modelName"
	KeyFeatureSpeech    = "features.speech"
	KeyFeatureUpload    = "features.fileUpload"
)

// Source is a raw key/value backend.
type Source interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Ping(ctx context.Context) error
}

type entry struct {
	value   string
	found   bool
	fetched time.Time
}

type Client struct {
	source Source
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]entry
}

func New(source Source, ttl time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		source: source,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]entry),
	}
}

func (c *Client) lookup(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.now().Sub(cached.fetched) < c.ttl {
		return cached.value, cached.found
	}

	value, found, err := c.source.Lookup(ctx, key)
	if err != nil {
		c.logger.Warn("app config lookup failed", zap.String("key", key), zap.Error(err))
		if ok {
			return cached.value, cached.found
		}
		return "", false
	}

	c.mu.Lock()
	c.cache[key] = entry{value: value, found: found, fetched: c.now()}
	c.mu.Unlock()
	return value, found
}

func (c *Client) String(ctx context.Context, key, fallback string) string {
	value, found := c.lookup(ctx, key)
	if !found || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func (c *Client) Int(ctx context.Context, key string, fallback int) int {
	value, found := c.lookup(ctx, key)
	if !found {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func (c *Client) Float(ctx context.Context, key string, fallback float64) float64 {
	value, found := c.lookup(ctx, key)
	if !found {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c *Client) Bool(ctx context.Context, key string, fallback bool) bool {
	value, found := c.lookup(ctx, key)
	if !found {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func (c *Client) Ping(ctx context.Context) error {
	return c.source.Ping(ctx)
}
