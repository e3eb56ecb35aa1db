package main

import (
	"testing"

	"aiva/api/internal/appconfig"
	"aiva/api/internal/config"
	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSettingsSourceFallbackIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	source, closeFn, err := newSettingsSource(config.Config{}, zap.New(core))
	if err != nil {
		t.Fatalf("newSettingsSource() error = %v", err)
	}
	defer closeFn()

	if _, ok := source.(*appconfig.Memory); !ok {
		t.Fatalf("expected in-memory settings, got %T", source)
	}
	if logs.FilterMessage("APP_CONFIG_REDIS_URL not set, using default settings").Len() != 1 {
		t.Fatalf("expected one fallback warning, got %v", logs.All())
	}
}

func TestSettingsSourceUsesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	core, logs := observer.New(zapcore.WarnLevel)

	source, closeFn, err := newSettingsSource(config.Config{AppConfigRedisURL: "redis://" + mr.Addr(), AppConfigPrefix: "aiva:config:"}, zap.New(core))
	if err != nil {
		t.Fatalf("newSettingsSource() error = %v", err)
	}
	defer closeFn()

	if _, ok := source.(*appconfig.Redis); !ok {
		t.Fatalf("expected redis settings, got %T", source)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no warnings, got %v", logs.All())
	}
}
