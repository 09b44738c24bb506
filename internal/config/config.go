package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type DatabaseDriver string

const (
	DriverPostgres DatabaseDriver = "postgres"
	DriverSQLite   DatabaseDriver = "sqlite"
	DriverMemory   DatabaseDriver = "memory"
)

type AIProvider string

const (
	ProviderOpenAI AIProvider = "openai"
	ProviderGemini AIProvider = "gemini"
	ProviderNone   AIProvider = "none"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Storage
	DatabaseDriver DatabaseDriver `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string         `env:"DATABASE_URL"`

	// Realtime fan-out across instances (optional)
	RedisURL string `env:"REDIS_URL"`

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	// Automated responder
	AIProvider     AIProvider    `env:"AI_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey   string        `env:"OPENAI_API_KEY"`
	OpenAIModel    string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL  string        `env:"OPENAI_BASE_URL"`
	GeminiAPIKey   string        `env:"GEMINI_API_KEY"`
	GeminiModel    string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	AISystemPrompt string        `env:"AI_SYSTEM_PROMPT"`
	AIReplyTimeout time.Duration `env:"AI_REPLY_TIMEOUT" envDefault:"20s"`
	AIReplyDelay   time.Duration `env:"AI_REPLY_DELAY" envDefault:"0s"`

	// Stale session sweeper
	StaleSessionAfter time.Duration `env:"STALE_SESSION_AFTER" envDefault:"24h"`
	SweepSchedule     string        `env:"SWEEP_SCHEDULE" envDefault:"@every 15m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
		if c.DatabaseDriver == DriverPostgres && c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.DatabaseDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.AIProvider {
	case ProviderOpenAI, ProviderGemini, ProviderNone:
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}

	if c.AIReplyTimeout <= 0 {
		return fmt.Errorf("AI_REPLY_TIMEOUT must be positive")
	}
	if c.AIReplyDelay < 0 {
		return fmt.Errorf("AI_REPLY_DELAY must not be negative")
	}
	if c.StaleSessionAfter <= 0 {
		return fmt.Errorf("STALE_SESSION_AFTER must be positive")
	}
	return nil
}

// AIEnabled reports whether the selected provider has credentials. Without
// them the chat works and nobody answers automatically.
func (c *Config) AIEnabled() bool {
	switch c.AIProvider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	}
	return false
}
