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
)

// OpenAI calls an OpenAI-style chat-completions endpoint.
type OpenAI struct {
	name       string
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	counters   counters
}

// OpenAIConfig configures an OpenAI adapter. Zero fields get defaults; the
// API key falls back to OPENAI_API_KEY.
type OpenAIConfig struct {
	Name      string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// NewOpenAI creates an adapter for a chat-completions endpoint.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAI{
		name:       cfg.Name,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *OpenAI) Name() string { return a.name }

func (a *OpenAI) Usage() Usage { return a.counters.usage() }

type openaiRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call POSTs to /v1/chat/completions and returns the first choice content.
func (a *OpenAI) Call(ctx context.Context, systemPrompt, userMessage string) (Response, error) {
	if a.apiKey == "" {
		return Response{}, &APIError{
			Model:     a.model,
			Retryable: false,
			Message:   "missing API key",
		}
	}

	reqBody, err := json.Marshal(openaiRequest{
		Model: a.model,
		Messages: []openaiMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return Response{}, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

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

	var result openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Response{}, &APIError{
			Model:     a.model,
			Status:    resp.StatusCode,
			Retryable: false,
			Message:   fmt.Sprintf("malformed response: %v", err),
		}
	}
	if len(result.Choices) == 0 {
		return Response{}, &APIError{
			Model:     a.model,
			Status:    resp.StatusCode,
			Retryable: false,
			Message:   "empty choices",
		}
	}

	out := Response{
		Text:      result.Choices[0].Message.Content,
		TokensIn:  result.Usage.PromptTokens,
		TokensOut: result.Usage.CompletionTokens,
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
