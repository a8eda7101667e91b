package kumo

// DispatchResult is the public outcome of routing one request through the
// tier chain. No internal package imports — safe to use from outside the
// module.
type DispatchResult struct {
	Tier          int
	Action        string
	Target        string
	Args          map[string]any
	Confidence    float64
	Provider      string
	SafetyFlagged bool
	SafetyReason  string
}

// RunOutcome is the public summary of a graph run.
type RunOutcome struct {
	RunID       string
	GraphID     string
	Status      string
	State       map[string]any
	TokensIn    int
	TokensOut   int
	CostUSD     float64
	NeedsReview bool
}

// RunRequest describes a graph run to execute.
type RunRequest struct {
	GraphPath string
	ScopeType string
	ScopeID   string
	// Extra seeds additional initial state keys (e.g. seed sources).
	Extra map[string]any
	// MaxTokens / MaxCostUSD / MaxWallSeconds cap the run budget; zero
	// means unlimited.
	MaxTokens      int
	MaxCostUSD     float64
	MaxWallSeconds float64
	// ResumeRunID re-enters a checkpointed run instead of starting fresh.
	ResumeRunID string
}
