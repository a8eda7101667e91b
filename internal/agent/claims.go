package agent

import (
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kumo/internal/state"
)

// NewClaimExtractor builds the claim extraction agent: atomic, cited claims
// from normalized text segments. Citations are mandatory — the policy flag
// makes the runtime reject any claim without one.
func NewClaimExtractor() *LLM {
	return &LLM{
		AgentID:      "claim_extractor",
		AgentVersion: "0.2.0",
		SystemPrompt: "You are a claim extraction agent. Extract atomic, verifiable claims from text segments. " +
			"Each claim must be linked to at least one citation (doc_id + segment_id). " +
			"Assign evidence_strength (0-1) and confidence (0-1) scores. " +
			"Set status to 'active' for new claims. Output valid JSON only.",
		UserTemplate: "Extract claims from these segments:\n{normalized_segments}\n\n" +
			"Known entities: {entities}\n" +
			"Scope: {scope_type}/{scope_id}\n\n" +
			"Return JSON with:\n" +
			`- "claims": [{"claim_id": str, "statement": str, "claim_type": str, ` +
			`"entities": [str], "citations": [{"doc_id": str, "segment_id": str}], ` +
			`"evidence_strength": float, "confidence": float, "status": "active"}]`,
		SchemaHint: `{"claims": [{"claim_id": str, "statement": str, "claim_type": str, ` +
			`"entities": [str], "citations": [{"doc_id": str, "segment_id": str}], ` +
			`"evidence_strength": float, "confidence": float, "status": str}]}`,
		InputKeys: []string{"normalized_segments", "entities"},
		Pol: Policy{
			PreferredTier:       2,
			MinTier:             1,
			DefaultMaxTokens:    8192,
			AllowedLocal:        []string{"local"},
			AllowedFrontier:     []string{"frontier"},
			ConfidenceThreshold: 0.7,
			RequiredCitations:   true,
		},
		Parse:    parseClaims,
		Validate: validateClaims,
	}
}

func parseClaims(raw string) (state.Delta, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	claims, _ := data["claims"].([]any)
	return state.Delta{"claims": claims}, nil
}

func validateClaims(delta state.Delta) error {
	claims, ok := delta["claims"].([]any)
	if !ok {
		return fmt.Errorf("claims must be a list")
	}
	for _, item := range claims {
		c, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("each claim must be an object")
		}
		id, _ := c["claim_id"].(string)
		if id == "" {
			return fmt.Errorf("each claim must have a claim_id")
		}
		if s, _ := c["statement"].(string); s == "" {
			return fmt.Errorf("claim %s has no statement", id)
		}
		if t, _ := c["claim_type"].(string); t == "" {
			return fmt.Errorf("claim %s has no claim_type", id)
		}
		citations, _ := c["citations"].([]any)
		if len(citations) == 0 {
			return fmt.Errorf("claim %s has no citations — every claim requires at least one", id)
		}
		for _, cit := range citations {
			m, ok := cit.(map[string]any)
			if !ok {
				return fmt.Errorf("citation in claim %s must be an object", id)
			}
			doc, _ := m["doc_id"].(string)
			seg, _ := m["segment_id"].(string)
			if doc == "" || seg == "" {
				return fmt.Errorf("citation in claim %s missing doc_id or segment_id", id)
			}
		}
	}
	return nil
}
