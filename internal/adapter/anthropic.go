package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ashita-ai/kumo/internal/ratelimit"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the Anthropic messages API.
type Anthropic struct {
	name       string
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	gate       *ratelimit.Interval
	counters   counters
}

// AnthropicConfig configures an Anthropic adapter. Zero fields get defaults;
// the API key falls back to ANTHROPIC_API_KEY.
type AnthropicConfig struct {
	Name      string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
	// MinInterval blocks each call until this much time has elapsed since
	// the previous one. Zero disables the gate.
	MinInterval time.Duration
}

// NewAnthropic creates an adapter for the Anthropic messages endpoint.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Anthropic{
		name:       cfg.Name,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		gate:       ratelimit.NewInterval(cfg.MinInterval),
	}
}

func (a *Anthropic) Name() string { return a.name }

func (a *Anthropic) Usage() Usage { return a.counters.usage() }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Call POSTs to /v1/messages and returns the first text block.
func (a *Anthropic) Call(ctx context.Context, systemPrompt, userMessage string) (Response, error) {
	if a.apiKey == "" {
		return Response{}, &APIError{
			Model:     a.model,
			Retryable: false,
			Message:   "missing API key",
		}
	}
	if err := a.gate.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("anthropic: interval wait: %w", err)
	}

	reqBody, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: userMessage}},
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Response{}, &APIError{
			Model:     a.model,
			Retryable: true,
			Message:   transportMessage(err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, &APIError{
			Model:     a.model,
			Status:    resp.StatusCode,
			Retryable: retryableStatus(resp.StatusCode),
			Message:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	var result anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Response{}, &APIError{
			Model:     a.model,
			Status:    resp.StatusCode,
			Retryable: false,
			Message:   fmt.Sprintf("malformed response: %v", err),
		}
	}
	if len(result.Content) == 0 {
		return Response{}, &APIError{
			Model:     a.model,
			Status:    resp.StatusCode,
			Retryable: false,
			Message:   "empty content",
		}
	}

	out := Response{
		Text:      result.Content[0].Text,
		TokensIn:  result.Usage.InputTokens,
		TokensOut: result.Usage.OutputTokens,
	}
	if out.TokensIn == 0 {
		out.TokensIn = estimateTokens(systemPrompt + userMessage)
	}
	if out.TokensOut == 0 {
		out.TokensOut = estimateTokens(out.Text)
	}
	a.counters.record(out.TokensIn, out.TokensOut)
	return out, nil
}
