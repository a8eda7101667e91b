// Package tuner analyzes persisted routing decisions and suggests threshold
// adjustments: over-escalation (high-confidence requests sent up),
// under-escalation (low-quality results from low tiers), and provider cost
// concentration.
package tuner

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/kumo/internal/model"
	"github.com/ashita-ai/kumo/internal/storage"
)

// Issue is one flagged decision.
type Issue struct {
	DecisionID string  `json:"decision_id"`
	AgentID    string  `json:"agent_id,omitempty"`
	Value      float64 `json:"value"`
	Tier       int     `json:"tier"`
	Suggestion string  `json:"suggestion"`
}

// Report is the full analysis output.
type Report struct {
	Decisions       int                    `json:"decisions"`
	EscalationRate  float64                `json:"escalation_rate"`
	TierCounts      []storage.TierCount    `json:"tier_distribution"`
	CostByProvider  []storage.ProviderCost `json:"cost_by_provider"`
	OverEscalated   []Issue                `json:"over_escalated"`
	UnderEscalated  []Issue                `json:"under_escalated"`
	Recommendations []string               `json:"recommendations"`
}

// Thresholds carries the currently configured values the analysis compares
// against.
type Thresholds struct {
	Confidence float64
	Quality    float64
}

// Analyze builds a report over all persisted decisions.
func Analyze(ctx context.Context, store *storage.Store, th Thresholds) (Report, error) {
	decisions, err := store.ListDecisions(ctx, 10_000)
	if err != nil {
		return Report{}, fmt.Errorf("tuner: %w", err)
	}
	tiers, err := store.TierDistribution(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("tuner: %w", err)
	}
	costs, err := store.CostByProvider(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("tuner: %w", err)
	}

	report := Report{
		Decisions:      len(decisions),
		TierCounts:     tiers,
		CostByProvider: costs,
	}

	escalated := 0
	for _, d := range decisions {
		if d.Escalated() {
			escalated++
		}
		report.OverEscalated = append(report.OverEscalated, overEscalation(d, th.Confidence)...)
		report.UnderEscalated = append(report.UnderEscalated, underEscalation(d, th.Quality)...)
	}
	if len(decisions) > 0 {
		report.EscalationRate = float64(escalated) / float64(len(decisions))
	}
	report.Recommendations = recommend(report, th)
	return report, nil
}

// overEscalation flags a high-confidence request that was escalated anyway.
func overEscalation(d model.RoutingDecision, confidenceThreshold float64) []Issue {
	if d.Confidence == nil {
		return nil
	}
	if *d.Confidence >= confidenceThreshold && d.ChosenTier > d.RequestTier {
		return []Issue{{
			DecisionID: d.ID.String(),
			AgentID:    d.AgentID,
			Value:      *d.Confidence,
			Tier:       d.ChosenTier,
			Suggestion: fmt.Sprintf("confidence %.2f >= %.2f — could have stayed at tier %d",
				*d.Confidence, confidenceThreshold, d.RequestTier),
		}}
	}
	return nil
}

// underEscalation flags a low-quality result that stayed at or below its
// requested tier.
func underEscalation(d model.RoutingDecision, qualityThreshold float64) []Issue {
	if d.Quality == nil {
		return nil
	}
	if *d.Quality < qualityThreshold && d.ChosenTier <= d.RequestTier {
		return []Issue{{
			DecisionID: d.ID.String(),
			AgentID:    d.AgentID,
			Value:      *d.Quality,
			Tier:       d.ChosenTier,
			Suggestion: fmt.Sprintf("quality %.2f < %.2f — consider escalating from tier %d",
				*d.Quality, qualityThreshold, d.ChosenTier),
		}}
	}
	return nil
}

// recommend turns aggregate patterns into threshold suggestions.
func recommend(r Report, th Thresholds) []string {
	var out []string
	if r.Decisions == 0 {
		return []string{"no routing decisions recorded yet"}
	}
	overRate := float64(len(r.OverEscalated)) / float64(r.Decisions)
	underRate := float64(len(r.UnderEscalated)) / float64(r.Decisions)

	if overRate > 0.2 {
		out = append(out, fmt.Sprintf(
			"%.0f%% of decisions over-escalated: consider lowering min_confidence below %.2f",
			overRate*100, th.Confidence))
	}
	if underRate > 0.2 {
		out = append(out, fmt.Sprintf(
			"%.0f%% of decisions under-escalated: consider raising quality_threshold above %.2f",
			underRate*100, th.Quality))
	}
	if r.EscalationRate > 0.5 {
		out = append(out, fmt.Sprintf(
			"escalation rate %.0f%% is high: revisit composite score weights",
			r.EscalationRate*100))
	}
	if len(r.CostByProvider) > 0 && r.CostByProvider[0].CostUSD > 0 {
		top := r.CostByProvider[0]
		out = append(out, fmt.Sprintf(
			"provider %s carries $%.4f across %d calls: verify cheaper providers qualify",
			top.Provider, top.CostUSD, top.Calls))
	}
	if len(out) == 0 {
		out = append(out, "routing thresholds look healthy")
	}
	return out
}

// Format renders a human-readable report.
func Format(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "decisions analyzed: %d\n", r.Decisions)
	fmt.Fprintf(&b, "escalation rate:    %.1f%%\n", r.EscalationRate*100)
	b.WriteString("tier distribution:\n")
	for _, tc := range r.TierCounts {
		fmt.Fprintf(&b, "  tier %d: %d\n", tc.Tier, tc.Count)
	}
	if len(r.CostByProvider) > 0 {
		b.WriteString("cost by provider:\n")
		for _, pc := range r.CostByProvider {
			fmt.Fprintf(&b, "  %-16s $%.4f (%d calls)\n", pc.Provider, pc.CostUSD, pc.Calls)
		}
	}
	fmt.Fprintf(&b, "over-escalated:  %d\n", len(r.OverEscalated))
	fmt.Fprintf(&b, "under-escalated: %d\n", len(r.UnderEscalated))
	b.WriteString("recommendations:\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  - %s\n", rec)
	}
	return b.String()
}
