// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Dashboard server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings.
	DBPath string // SQLite database file for runs, decisions, and claims.

	// Model endpoint settings.
	OllamaHost     string
	OllamaModel    string
	DGXHost        string // Remote high-memory inference node; empty disables it.
	AnthropicKey   string
	AnthropicModel string
	OpenAIKey      string
	OpenAIModel    string

	// Router settings.
	RouterConfigPath string // YAML tier/provider/escalation config; empty uses defaults.

	// Run settings.
	CheckpointDir string
	PublishDir    string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel           string
	MetricsFlushPeriod time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:               envInt("KUMO_PORT", 8090),
		ReadTimeout:        envDuration("KUMO_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       envDuration("KUMO_WRITE_TIMEOUT", 30*time.Second),
		DBPath:             envStr("KUMO_DB_PATH", "kumo.db"),
		OllamaHost:         envStr("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:        envStr("OLLAMA_MODEL", "qwen2.5:7b"),
		DGXHost:            envStr("KUMO_DGX_HOST", ""),
		AnthropicKey:       envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     envStr("KUMO_ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		OpenAIKey:          envStr("OPENAI_API_KEY", ""),
		OpenAIModel:        envStr("KUMO_OPENAI_MODEL", "gpt-4o-mini"),
		RouterConfigPath:   envStr("KUMO_ROUTER_CONFIG", ""),
		CheckpointDir:      envStr("KUMO_CHECKPOINT_DIR", ".checkpoints"),
		PublishDir:         envStr("KUMO_PUBLISH_DIR", "publish/out"),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       envStr("OTEL_EXPORTER_OTLP_INSECURE", "") == "true",
		ServiceName:        envStr("OTEL_SERVICE_NAME", "kumo"),
		LogLevel:           envStr("KUMO_LOG_LEVEL", "info"),
		MetricsFlushPeriod: envDuration("KUMO_METRICS_FLUSH_PERIOD", 0),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: KUMO_DB_PATH is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: KUMO_PORT must be in (0, 65535]")
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("config: KUMO_CHECKPOINT_DIR is required")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
