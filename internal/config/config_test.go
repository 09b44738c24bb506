package config

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != "8080" || cfg.AIProvider != ProviderOpenAI || cfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AIReplyTimeout != 20*time.Second || cfg.AIReplyDelay != 0 || cfg.StaleSessionAfter != 24*time.Hour {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.SweepSchedule != "@every 15m" {
		t.Fatalf("schedule = %q", cfg.SweepSchedule)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("cors = %v", cfg.CORSOrigins)
	}
	if cfg.AIEnabled() {
		t.Fatalf("AI enabled without a key")
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("AI_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("AI_REPLY_DELAY", "500ms")
	t.Setenv("CORS_ORIGINS", "https://pixode.dev,http://localhost:3000")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.AIEnabled() || cfg.AIReplyDelay != 500*time.Millisecond {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://localhost:3000" {
		t.Fatalf("cors = %v", cfg.CORSOrigins)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": "", "DATABASE_DRIVER": "memory"}},
		{"postgres without url", map[string]string{"JWT_SECRET": "s", "DATABASE_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"JWT_SECRET": "s", "DATABASE_DRIVER": "mysql"}},
		{"unknown provider", map[string]string{"JWT_SECRET": "s", "DATABASE_DRIVER": "memory", "AI_PROVIDER": "yandex"}},
		{"zero stale window", map[string]string{"JWT_SECRET": "s", "DATABASE_DRIVER": "memory", "STALE_SESSION_AFTER": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Parse(); err == nil {
				t.Fatalf("config accepted")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{LogLevel: "warn", LogFormat: "json"}, &buf)

	log.Info("hidden")
	log.Warn("shown", "session_id", "s1")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"session_id":"s1"`) {
		t.Fatalf("log output = %q", out)
	}
	if !log.Enabled(context.Background(), slog.LevelWarn) || log.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("level not applied")
	}
}
