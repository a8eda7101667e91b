package adapter

import "context"

// Stub is a test double. With no Respond function it fails every call so
// wiring mistakes surface immediately; tests install a Respond function to
// script replies.
type Stub struct {
	name     string
	Respond  func(systemPrompt, userMessage string) (string, error)
	counters counters
}

// NewStub creates a stub adapter.
func NewStub(name string) *Stub {
	if name == "" {
		name = "stub"
	}
	return &Stub{name: name}
}

func (a *Stub) Name() string { return a.name }

func (a *Stub) Usage() Usage { return a.counters.usage() }

func (a *Stub) Call(_ context.Context, systemPrompt, userMessage string) (Response, error) {
	if a.Respond == nil {
		return Response{}, &APIError{
			Model:     a.name,
			Retryable: false,
			Message:   "no model configured; provide a real adapter or a test Respond function",
		}
	}
	text, err := a.Respond(systemPrompt, userMessage)
	if err != nil {
		return Response{}, err
	}
	out := Response{
		Text:      text,
		TokensIn:  estimateTokens(systemPrompt + userMessage),
		TokensOut: estimateTokens(text),
	}
	a.counters.record(out.TokensIn, out.TokensOut)
	return out, nil
}
