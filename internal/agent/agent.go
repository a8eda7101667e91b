// Package agent defines the agent contract — a prompted model interaction
// with a strict input/output schema — and the LLM runtime that enforces it:
// prompt assembly, response extraction, staged JSON recovery, and output
// validation.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/kumo/internal/adapter"
	"github.com/ashita-ai/kumo/internal/state"
)

// Call invokes a model with a system prompt and user message. The concrete
// callable is supplied per node by the router (or a fixed adapter).
type Call func(ctx context.Context, systemPrompt, userMessage string) (adapter.Response, error)

// Policy is the immutable routing, budget, and constraint policy of an agent.
type Policy struct {
	// PreferredTier is where invocations start (0 = deterministic, no model).
	PreferredTier int
	// MinTier bounds escalation from below: a routing decision never lands
	// under it.
	MinTier int
	// MaxTokensPerTier caps output tokens per tier; missing tiers fall back
	// to DefaultMaxTokens.
	MaxTokensPerTier map[int]int
	DefaultMaxTokens int
	AllowedLocal     []string
	AllowedFrontier  []string
	ConfidenceThreshold float64
	RequiredCitations   bool
}

// MaxTokens returns the output-token cap for tier.
func (p Policy) MaxTokens(tier int) int {
	if n, ok := p.MaxTokensPerTier[tier]; ok {
		return n
	}
	if p.DefaultMaxTokens > 0 {
		return p.DefaultMaxTokens
	}
	return 4096
}

// Agent is a graph-executable unit: identity, policy, and a run function
// producing a delta to merge into run state. Deterministic agents ignore
// call.
type Agent interface {
	ID() string
	Version() string
	Policy() Policy
	Run(ctx context.Context, st state.State, call Call) (state.Delta, error)
}

// ValidationError means an agent's output failed schema or business
// validation after the full recovery pipeline.
type ValidationError struct {
	AgentID string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("agent %q: validation failed: %s", e.AgentID, e.Reason)
}

// MissingStateError means required state keys were absent — a graph design
// error, not a transient failure.
type MissingStateError struct {
	AgentID string
	Keys    []string
}

func (e *MissingStateError) Error() string {
	return fmt.Sprintf("agent %q: missing state keys: %s", e.AgentID, strings.Join(e.Keys, ", "))
}

// Func is a deterministic agent implemented by a plain function. It
// satisfies Agent without ever invoking the model callable.
type Func struct {
	AgentID      string
	AgentVersion string
	Pol          Policy
	Fn           func(ctx context.Context, st state.State) (state.Delta, error)
}

func (f *Func) ID() string      { return f.AgentID }
func (f *Func) Version() string { return f.AgentVersion }
func (f *Func) Policy() Policy  { return f.Pol }

func (f *Func) Run(ctx context.Context, st state.State, _ Call) (state.Delta, error) {
	return f.Fn(ctx, st)
}
