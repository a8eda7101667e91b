package model

import (
	"time"

	"github.com/google/uuid"
)

// RoutingDecision is the append-only record of the tier and provider chosen
// for one model invocation.
type RoutingDecision struct {
	ID               uuid.UUID `json:"id"`
	RunID            *uuid.UUID `json:"run_id,omitempty"`
	NodeID           string    `json:"node_id,omitempty"`
	AgentID          string    `json:"agent_id,omitempty"`
	RequestTier      int       `json:"request_tier"`
	ChosenTier       int       `json:"chosen_tier"`
	Provider         string    `json:"provider,omitempty"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
	Confidence       *float64  `json:"confidence,omitempty"`
	Complexity       *float64  `json:"complexity,omitempty"`
	Quality          *float64  `json:"quality,omitempty"`
	LatencyMS        float64   `json:"latency_ms"`
	TokensIn         int       `json:"tokens_in"`
	TokensOut        int       `json:"tokens_out"`
	CostUSD          float64   `json:"cost_usd"`
	CreatedAt        time.Time `json:"created_at"`
}

// Escalated reports whether the decision moved above its requested tier.
func (d RoutingDecision) Escalated() bool {
	return d.ChosenTier > d.RequestTier
}
