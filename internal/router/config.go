// Package router maps an agent policy plus run-state signals to a concrete
// tier, adapter, and provider, applying escalation criteria and the
// composite routing score.
package router

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/kumo/internal/provider"
)

// TierConfig describes one model tier.
type TierConfig struct {
	Model          string  `yaml:"model"`
	Context        int     `yaml:"context"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds float64 `yaml:"timeout"`
	Concurrency    int     `yaml:"concurrency"`
}

// Timeout returns the tier timeout as a duration.
func (t TierConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds * float64(time.Second))
}

// ProviderConfig is one tier-3 provider entry in the router config file.
type ProviderConfig struct {
	Name          string   `yaml:"name"`
	ProviderType  string   `yaml:"provider_type"` // ollama | anthropic | openai | dgx
	Model         string   `yaml:"model"`
	Host          string   `yaml:"host"`
	CostPer1KIn   float64  `yaml:"cost_per_1k_input"`
	CostPer1KOut  float64  `yaml:"cost_per_1k_output"`
	Quality       float64  `yaml:"quality_score"`
	MaxContext    int      `yaml:"max_context"`
	Tags          []string `yaml:"tags"`
	DailyCap      int      `yaml:"daily_cap"`
	MinIntervalMS int      `yaml:"min_interval_ms"`
}

// Escalation holds the per-criterion thresholds.
type Escalation struct {
	MinConfidence           float64 `yaml:"min_confidence"`
	ComplexityThreshold     float64 `yaml:"complexity_threshold"`
	QualityThreshold        float64 `yaml:"quality_threshold"`
	ReasoningDepthThreshold int     `yaml:"reasoning_depth_threshold"`
}

// ScoreWeights are the composite routing score weights and its escalation
// threshold.
type ScoreWeights struct {
	Complexity    float64 `yaml:"complexity_weight"`
	InvConfidence float64 `yaml:"confidence_weight"`
	Hallucination float64 `yaml:"hallucination_weight"`
	Threshold     float64 `yaml:"threshold"`
}

// Config is the full router configuration file.
type Config struct {
	Tier1            TierConfig        `yaml:"tier1"`
	Tier2            TierConfig        `yaml:"tier2"`
	Tier3Providers   []ProviderConfig  `yaml:"tier3_providers"`
	Escalation       Escalation        `yaml:"escalation"`
	Score            ScoreWeights      `yaml:"score"`
	Strategy         provider.Strategy `yaml:"strategy"`
	DailyFrontierCap int               `yaml:"daily_frontier_cap"`
}

// DefaultConfig returns the built-in configuration used when no router
// config file is supplied.
func DefaultConfig() Config {
	return Config{
		Tier1: TierConfig{
			Model:          "deepseek-r1:1.5b",
			Context:        2048,
			MaxTokens:      128,
			Temperature:    0.1,
			TimeoutSeconds: 5,
			Concurrency:    8,
		},
		Tier2: TierConfig{
			Model:          "qwen2.5:7b",
			Context:        8192,
			MaxTokens:      2048,
			Temperature:    0.2,
			TimeoutSeconds: 30,
			Concurrency:    4,
		},
		Escalation: Escalation{
			MinConfidence:           0.75,
			ComplexityThreshold:     0.7,
			QualityThreshold:        0.70,
			ReasoningDepthThreshold: 3,
		},
		Score:            DefaultScoreWeights(),
		Strategy:         provider.StrategyPreferLocal,
		DailyFrontierCap: 100,
	}
}

// LoadConfig reads a router config YAML file, filling absent sections from
// the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("router: read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("router: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("router: config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects impossible threshold and tier settings.
func (c Config) Validate() error {
	if c.Tier1.Concurrency <= 0 || c.Tier2.Concurrency <= 0 {
		return fmt.Errorf("tier concurrency must be positive")
	}
	if c.Tier1.TimeoutSeconds <= 0 || c.Tier2.TimeoutSeconds <= 0 {
		return fmt.Errorf("tier timeouts must be positive")
	}
	if c.Escalation.MinConfidence < 0 || c.Escalation.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0, 1]")
	}
	switch c.Strategy {
	case provider.StrategyCheapestQualified, provider.StrategyHighestQuality, provider.StrategyPreferLocal:
	default:
		return fmt.Errorf("unknown selection strategy %q", c.Strategy)
	}
	return nil
}
