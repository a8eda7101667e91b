package adapter

import (
	"context"
	"time"
)

// DGX calls a remote high-memory inference node. The node speaks the same
// chat protocol as a local Ollama server, so this wraps an Ollama client
// pointed at a different host with a longer default timeout.
type DGX struct {
	inner *Ollama
}

// NewDGX creates an adapter against a remote DGX-class inference host.
func NewDGX(name, model, host string) *DGX {
	if name == "" {
		name = "dgx"
	}
	return &DGX{inner: NewOllama(OllamaConfig{
		Name:    name,
		Model:   model,
		Host:    host,
		Timeout: 180 * time.Second,
	})}
}

func (a *DGX) Name() string { return a.inner.Name() }

func (a *DGX) Usage() Usage { return a.inner.Usage() }

func (a *DGX) Call(ctx context.Context, systemPrompt, userMessage string) (Response, error) {
	return a.inner.Call(ctx, systemPrompt, userMessage)
}
