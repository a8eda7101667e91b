package agent

import (
	"context"
	"fmt"

	"github.com/ashita-ai/kumo/internal/state"
)

// NewQAValidator builds the QA gate agent. Validation is deterministic — no
// model call — so it runs at tier 0. It applies the global grounding rules
// to the run state and emits gate_status PASS/FAIL plus a violations list.
// The orchestrator treats a FAIL on a node with on_fail as a node failure
// so the fail path routes to the recovery node.
func NewQAValidator() *Func {
	return &Func{
		AgentID:      "qa_validator",
		AgentVersion: "0.2.0",
		Pol: Policy{
			PreferredTier:    0,
			DefaultMaxTokens: 2048,
			AllowedLocal:     []string{"local"},
		},
		Fn: runQAValidation,
	}
}

func runQAValidation(_ context.Context, st state.State) (state.Delta, error) {
	violations := qaViolations(st)

	gateStatus := "PASS"
	if len(violations) > 0 {
		gateStatus = "FAIL"
	}

	missingCitations := 0
	for _, v := range violations {
		if v["rule"] == "claim_requires_citations" || v["rule"] == "citation_unresolved" {
			missingCitations++
		}
	}

	return state.Delta{
		"gate_status":             gateStatus,
		"violations":              violations,
		state.KeyMissingCitations: missingCitations,
	}, nil
}

// qaViolations applies the global rules: claim citation grounding, metric
// integrity, and the publish gate.
func qaViolations(st state.State) []map[string]any {
	violations := []map[string]any{}
	violations = append(violations, citationViolations(st)...)
	violations = append(violations, metricViolations(st)...)
	violations = append(violations, publishViolations(st)...)
	return violations
}

// citationViolations checks that every claim carries citations and that
// each citation resolves to a known document segment. Story scopes relax
// these rules: uncited claims become beliefs or legends that may seed
// future plots.
func citationViolations(st state.State) []map[string]any {
	violations := []map[string]any{}
	if st.String("scope_type", "") == "story" {
		return violations
	}

	knownDocs := toSet(st.StringSlice("doc_ids"))
	knownSegments := toSet(st.StringSlice("segment_ids"))

	claims, _ := st["claims"].([]any)
	for _, item := range claims {
		claim, ok := item.(map[string]any)
		if !ok {
			continue
		}
		claimID, _ := claim["claim_id"].(string)
		citations, _ := claim["citations"].([]any)
		if len(citations) == 0 {
			violations = append(violations, map[string]any{
				"rule":     "claim_requires_citations",
				"claim_id": claimID,
				"message":  "Claim has no citations",
			})
			continue
		}
		for _, cit := range citations {
			m, ok := cit.(map[string]any)
			if !ok {
				continue
			}
			doc, _ := m["doc_id"].(string)
			seg, _ := m["segment_id"].(string)
			if (len(knownDocs) > 0 && !knownDocs[doc]) || (len(knownSegments) > 0 && !knownSegments[seg]) {
				violations = append(violations, map[string]any{
					"rule":     "citation_unresolved",
					"claim_id": claimID,
					"message":  fmt.Sprintf("Citation %s/%s does not resolve to a known document segment", doc, seg),
				})
			}
		}
	}
	return violations
}

// metricViolations checks that every metric point references a known metric
// and that every referenced metric carries a unit.
func metricViolations(st state.State) []map[string]any {
	violations := []map[string]any{}

	metrics, _ := st["metrics"].([]any)
	byID := make(map[string]map[string]any, len(metrics))
	for _, item := range metrics {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := m["metric_id"].(string); id != "" {
			byID[id] = m
		}
	}

	points, _ := st["metric_points"].([]any)
	for _, item := range points {
		pt, ok := item.(map[string]any)
		if !ok {
			continue
		}
		metricID, _ := pt["metric_id"].(string)
		metric, known := byID[metricID]
		if !known {
			violations = append(violations, map[string]any{
				"rule":      "metric_point_has_metric",
				"metric_id": metricID,
				"message":   "Metric point references unknown metric_id",
			})
			continue
		}
		if unit, _ := metric["unit"].(string); unit == "" {
			violations = append(violations, map[string]any{
				"rule":      "metric_has_unit",
				"metric_id": metricID,
				"message":   "Metric missing unit",
			})
		}
	}
	return violations
}

// publishViolations gates the publish path: a run asking for publication
// must carry both a snapshot and a delta.
func publishViolations(st state.State) []map[string]any {
	violations := []map[string]any{}
	if !st.Bool("_check_publish") {
		return violations
	}
	if st.String("snapshot_id", "") == "" {
		violations = append(violations, map[string]any{
			"rule":    "publish_requires_snapshot",
			"message": "Cannot publish without a snapshot",
		})
	}
	if st.String("delta_id", "") == "" {
		violations = append(violations, map[string]any{
			"rule":    "publish_requires_delta",
			"message": "Cannot publish without a delta",
		})
	}
	return violations
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}
