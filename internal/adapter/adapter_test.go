package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaCallHarvestsCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message:         ollamaChatMessage{Role: "assistant", Content: `{"ok": true}`},
			PromptEvalCount: 42,
			EvalCount:       17,
		})
	}))
	defer srv.Close()

	a := NewOllama(OllamaConfig{Name: "local", Model: "test-model", Host: srv.URL})
	resp, err := a.Call(context.Background(), "be brief", "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, resp.Text)
	assert.Equal(t, 42, resp.TokensIn)
	assert.Equal(t, 17, resp.TokensOut)

	usage := a.Usage()
	assert.Equal(t, int64(42), usage.TokensIn)
	assert.Equal(t, int64(17), usage.TokensOut)
	assert.Equal(t, int64(1), usage.Calls)
}

func TestOllamaServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewOllama(OllamaConfig{Host: srv.URL})
	_, err := a.Call(context.Background(), "s", "u")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestOllamaClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad model", http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewOllama(OllamaConfig{Host: srv.URL})
	_, err := a.Call(context.Background(), "s", "u")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Retryable)
}

func TestOllamaConnectionRefusedIsRetryable(t *testing.T) {
	a := NewOllama(OllamaConfig{Host: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := a.Call(context.Background(), "s", "u")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)
}

func TestAnthropicCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)

		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "answer"}],
			"usage": {"input_tokens": 11, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{Model: "m", APIKey: "test-key", BaseURL: srv.URL})
	resp, err := a.Call(context.Background(), "sys", "user msg")
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Text)
	assert.Equal(t, 11, resp.TokensIn)
	assert.Equal(t, 7, resp.TokensOut)
}

func TestAnthropicMissingKey(t *testing.T) {
	a := NewAnthropic(AnthropicConfig{Model: "m", APIKey: ""})
	a.apiKey = "" // ensure no env leakage
	_, err := a.Call(context.Background(), "s", "u")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Retryable)
}

func TestAnthropicMinIntervalSpacesCalls(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}], "usage": {"input_tokens": 1, "output_tokens": 1}}`))
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{
		Model: "m", APIKey: "k", BaseURL: srv.URL,
		MinInterval: 80 * time.Millisecond,
	})

	start := time.Now()
	for range 3 {
		_, err := a.Call(context.Background(), "s", "u")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond,
		"three calls at an 80ms minimum interval take at least 160ms")
	assert.Equal(t, 3, calls)
}

func TestOpenAICall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer ok-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "done"}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3}
		}`))
	}))
	defer srv.Close()

	a := NewOpenAI(OpenAIConfig{Model: "m", APIKey: "ok-key", BaseURL: srv.URL})
	resp, err := a.Call(context.Background(), "sys", "usr")
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 9, resp.TokensIn)
	assert.Equal(t, 3, resp.TokensOut)
}

func TestStubFailsWithoutScript(t *testing.T) {
	s := NewStub("stub")
	_, err := s.Call(context.Background(), "a", "b")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Retryable)
}

func TestStubScriptedResponse(t *testing.T) {
	s := NewStub("stub")
	s.Respond = func(system, user string) (string, error) {
		return system + "|" + user, nil
	}
	resp, err := s.Call(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "a|b", resp.Text)
	assert.Equal(t, int64(1), s.Usage().Calls)
}

func TestDGXUsesOllamaProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: "assistant", Content: "big model says hi"},
		})
	}))
	defer srv.Close()

	a := NewDGX("dgx", "qwen2.5:72b", srv.URL)
	resp, err := a.Call(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "big model says hi", resp.Text)
	assert.Equal(t, "dgx", a.Name())
}
