package kumo

import "context"

// ModelAdapter is the public contract for plugging a custom model endpoint
// into the app via WithAdapter. Implementations report per-call token usage
// when the endpoint provides it; zero counts are estimated.
type ModelAdapter interface {
	Name() string
	Call(ctx context.Context, systemPrompt, userMessage string) (text string, tokensIn, tokensOut int, err error)
}

// RunHook observes run lifecycle events. Hook errors are logged and
// swallowed — they never affect the run.
type RunHook interface {
	RunStarted(ctx context.Context, runID string)
	RunFinished(ctx context.Context, outcome RunOutcome)
}
