// Package budget tracks token, cost, and wall-time spend for a run, with
// per-node caps, degradation hints near exhaustion, and human-review flags.
// A ledger is owned by a single run walker; no locking here.
package budget

import (
	"fmt"
	"strings"
	"time"
)

// degradeAtFraction is the budget fraction at which degradation activates.
const degradeAtFraction = 0.8

// ExceededError means a hard budget cap was reached.
type ExceededError struct {
	Scope   string
	Limit   float64
	Current float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for %s: %.2f >= %.2f", e.Scope, e.Current, e.Limit)
}

// Hint guides agents on how to reduce breadth when the budget nears
// exhaustion.
type Hint struct {
	MaxSources        int    `json:"max_sources"`
	MaxQuestions      int    `json:"max_questions"`
	SkipDeepSynthesis bool   `json:"skip_deep_synthesis"`
	Reason            string `json:"reason"`
}

// NodeCap limits a single node's spend; zero fields are uncapped.
type NodeCap struct {
	MaxTokens int
	MaxCost   float64
}

// nodeSpend is per-node accumulated cost.
type nodeSpend struct {
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// Ledger accumulates cost across a run and enforces caps.
type Ledger struct {
	TokensIn  int
	TokensOut int
	CostUSD   float64

	// Run-level caps; 0 means unlimited.
	MaxTokens      int
	MaxCostUSD     float64
	MaxWallSeconds float64

	DegradationActive bool
	NeedsHumanReview  bool

	start         time.Time
	hint          Hint
	reviewReasons []string
	nodes         map[string]*nodeSpend
}

// NewLedger creates a ledger with the given run-level caps (0 = unlimited).
func NewLedger(maxTokens int, maxCostUSD, maxWallSeconds float64) *Ledger {
	return &Ledger{
		MaxTokens:      maxTokens,
		MaxCostUSD:     maxCostUSD,
		MaxWallSeconds: maxWallSeconds,
		start:          time.Now(),
		nodes:          make(map[string]*nodeSpend),
	}
}

// Record adds the usage of one model call, attributed to nodeID when set.
func (l *Ledger) Record(tokensIn, tokensOut int, costUSD float64, nodeID string) {
	l.TokensIn += tokensIn
	l.TokensOut += tokensOut
	l.CostUSD += costUSD
	if nodeID != "" {
		n, ok := l.nodes[nodeID]
		if !ok {
			n = &nodeSpend{}
			l.nodes[nodeID] = n
		}
		n.TokensIn += tokensIn
		n.TokensOut += tokensOut
		n.CostUSD += costUSD
	}
}

// Check raises ExceededError when a run-level or node cap is breached, and
// updates the degradation state when approaching limits.
func (l *Ledger) Check(nodeCap *NodeCap) error {
	totalTokens := l.TokensIn + l.TokensOut
	elapsed := time.Since(l.start).Seconds()

	if l.MaxTokens > 0 && totalTokens >= l.MaxTokens {
		return &ExceededError{Scope: "tokens", Limit: float64(l.MaxTokens), Current: float64(totalTokens)}
	}
	if l.MaxCostUSD > 0 && l.CostUSD >= l.MaxCostUSD {
		return &ExceededError{Scope: "cost_usd", Limit: l.MaxCostUSD, Current: l.CostUSD}
	}
	if l.MaxWallSeconds > 0 && elapsed >= l.MaxWallSeconds {
		return &ExceededError{Scope: "wall_seconds", Limit: l.MaxWallSeconds, Current: elapsed}
	}

	if nodeCap != nil {
		if nodeCap.MaxTokens > 0 && totalTokens >= nodeCap.MaxTokens {
			return &ExceededError{Scope: "node_tokens", Limit: float64(nodeCap.MaxTokens), Current: float64(totalTokens)}
		}
		if nodeCap.MaxCost > 0 && l.CostUSD >= nodeCap.MaxCost {
			return &ExceededError{Scope: "node_cost", Limit: nodeCap.MaxCost, Current: l.CostUSD}
		}
	}

	l.updateDegradation(totalTokens, elapsed)
	return nil
}

// updateDegradation activates degradation mode past the threshold fraction
// of any run-level cap.
func (l *Ledger) updateDegradation(totalTokens int, elapsed float64) {
	var reasons []string
	if l.MaxTokens > 0 && float64(totalTokens) >= float64(l.MaxTokens)*degradeAtFraction {
		reasons = append(reasons, fmt.Sprintf("tokens at %d/%d", totalTokens, l.MaxTokens))
	}
	if l.MaxCostUSD > 0 && l.CostUSD >= l.MaxCostUSD*degradeAtFraction {
		reasons = append(reasons, fmt.Sprintf("cost at $%.4f/$%.2f", l.CostUSD, l.MaxCostUSD))
	}
	if l.MaxWallSeconds > 0 && elapsed >= l.MaxWallSeconds*degradeAtFraction {
		reasons = append(reasons, fmt.Sprintf("time at %.0fs/%.0fs", elapsed, l.MaxWallSeconds))
	}
	if len(reasons) > 0 {
		l.DegradationActive = true
		l.hint = Hint{
			MaxSources:        3,
			MaxQuestions:      5,
			SkipDeepSynthesis: true,
			Reason:            strings.Join(reasons, "; "),
		}
	}
}

// DegradationHint returns breadth-reduction guidance when degradation is
// active, else nil.
func (l *Ledger) DegradationHint() *Hint {
	if !l.DegradationActive {
		return nil
	}
	h := l.hint
	return &h
}

// FlagHumanReview marks the run for human attention.
func (l *Ledger) FlagHumanReview(reason string) {
	l.NeedsHumanReview = true
	l.reviewReasons = append(l.reviewReasons, reason)
}

// ReviewReasons returns the accumulated human-review reasons.
func (l *Ledger) ReviewReasons() []string {
	out := make([]string, len(l.reviewReasons))
	copy(out, l.reviewReasons)
	return out
}

// NodeSpend returns the cost breakdown for a node.
func (l *Ledger) NodeSpend(nodeID string) (tokensIn, tokensOut int, costUSD float64) {
	if n, ok := l.nodes[nodeID]; ok {
		return n.TokensIn, n.TokensOut, n.CostUSD
	}
	return 0, 0, 0
}

// Summary returns the ledger as a JSON-ready map for events and state.
func (l *Ledger) Summary() map[string]any {
	return map[string]any{
		"tokens_in":          l.TokensIn,
		"tokens_out":         l.TokensOut,
		"cost_usd":           l.CostUSD,
		"elapsed_seconds":    time.Since(l.start).Seconds(),
		"degradation_active": l.DegradationActive,
		"needs_human_review": l.NeedsHumanReview,
	}
}
