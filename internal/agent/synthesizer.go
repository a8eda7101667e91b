package agent

import (
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kumo/internal/state"
)

// NewSynthesizer builds the synthesis agent: composes claims into a coherent
// narrative summary. The heaviest LLM step in most graphs, so it leaves the
// router room to escalate to the frontier pool.
func NewSynthesizer() *LLM {
	return &LLM{
		AgentID:      "synthesizer",
		AgentVersion: "0.2.0",
		SystemPrompt: "You are a synthesis agent. Compose the supplied claims into a structured " +
			"summary. Preserve claim IDs as references; do not invent facts beyond the claims. " +
			"Estimate how complex the synthesis was (0-1) and your confidence in it (0-1). " +
			"Output valid JSON only.",
		UserTemplate: "Synthesize these claims for {scope_type}/{scope_id}:\n{claims}\n\n" +
			"Return JSON with:\n" +
			`- "summary": str` + "\n" +
			`- "sections": [{"title": str, "body": str, "claim_refs": [str]}]` + "\n" +
			`- "synthesis_complexity": float` + "\n" +
			`- "confidence": float`,
		SchemaHint: `{"summary": str, "sections": [{"title": str, "body": str, "claim_refs": [str]}], ` +
			`"synthesis_complexity": float, "confidence": float}`,
		InputKeys: []string{"claims"},
		Pol: Policy{
			PreferredTier:       2,
			MinTier:             2,
			DefaultMaxTokens:    8192,
			MaxTokensPerTier:    map[int]int{3: 16384},
			AllowedLocal:        []string{"local"},
			AllowedFrontier:     []string{"frontier"},
			ConfidenceThreshold: 0.7,
		},
		Parse:    parseSynthesis,
		Validate: validateSynthesis,
	}
}

func parseSynthesis(raw string) (state.Delta, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	delta := state.Delta{
		"summary":  data["summary"],
		"sections": data["sections"],
	}
	// Router signals: confidence and complexity feed the next routing
	// decision through reserved state keys.
	if v, ok := data["confidence"]; ok {
		delta[state.KeyLastConfidence] = v
	}
	if v, ok := data["synthesis_complexity"]; ok {
		delta[state.KeySynthesisComplexity] = v
	}
	return delta, nil
}

func validateSynthesis(delta state.Delta) error {
	summary, _ := delta["summary"].(string)
	if summary == "" {
		return fmt.Errorf("summary must be a non-empty string")
	}
	if conf := delta.Float(state.KeyLastConfidence, 0); conf < 0 || conf > 1 {
		return fmt.Errorf("confidence must be in [0, 1]")
	}
	return nil
}
