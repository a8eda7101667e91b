package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Ollama calls a local Ollama-compatible chat endpoint.
type Ollama struct {
	name        string
	model       string
	host        string
	temperature float64
	numCtx      int
	numPredict  int
	httpClient  *http.Client
	counters    counters
}

// OllamaConfig configures an Ollama adapter. Zero fields get defaults.
type OllamaConfig struct {
	Name        string
	Model       string
	Host        string
	Temperature float64
	NumCtx      int
	NumPredict  int
	Timeout     time.Duration
}

// NewOllama creates an adapter against a local Ollama server.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.Name == "" {
		cfg.Name = "local"
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OLLAMA_MODEL")
		if cfg.Model == "" {
			cfg.Model = "qwen2.5:7b"
		}
	}
	if cfg.Host == "" {
		cfg.Host = os.Getenv("OLLAMA_HOST")
		if cfg.Host == "" {
			cfg.Host = "http://localhost:11434"
		}
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Ollama{
		name:        cfg.Name,
		model:       cfg.Model,
		host:        strings.TrimRight(cfg.Host, "/"),
		temperature: cfg.Temperature,
		numCtx:      cfg.NumCtx,
		numPredict:  cfg.NumPredict,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the adapter name used in routing decisions.
func (a *Ollama) Name() string { return a.name }

// Usage returns cumulative token and call counters.
func (a *Ollama) Usage() Usage { return a.counters.usage() }

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Options  ollamaChatOptions   `json:"options"`
	Format   string              `json:"format,omitempty"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatOptions struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

// Call POSTs to /api/chat and returns the assistant content.
func (a *Ollama) Call(ctx context.Context, systemPrompt, userMessage string) (Response, error) {
	reqBody, err := json.Marshal(ollamaChatRequest{
		Model: a.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Options: ollamaChatOptions{
			NumCtx:      a.numCtx,
			NumPredict:  a.numPredict,
			Temperature: a.temperature,
		},
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return Response{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return Response{}, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Response{}, &APIError{
			Model:     a.model,
			Status:    resp.StatusCode,
			Retryable: false,
			Message:   fmt.Sprintf("malformed response: %v", err),
		}
	}

	out := Response{
		Text:      result.Message.Content,
		TokensIn:  result.PromptEvalCount,
		TokensOut: result.EvalCount,
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

// transportMessage classifies a transport-level error for the APIError message.
func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("timeout: %v", err)
	}
	return fmt.Sprintf("connection error: %v", err)
}
