// Package state manages the mutable key→value run state that flows between
// graph nodes. A single orchestrator walker owns one State for the lifetime
// of a run, so no locking happens here; reserved keys (underscore-prefixed)
// carry router signals and budget bookkeeping.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Reserved keys. Agents never declare these as outputs; the orchestrator,
// router, and budget ledger write them.
const (
	KeyCurrentAgentID       = "_current_agent_id"
	KeyLastConfidence       = "_last_confidence"
	KeyMissingCitations     = "_missing_citations_count"
	KeyContradictionAmbig   = "_contradiction_ambiguity"
	KeySynthesisComplexity  = "_synthesis_complexity"
	KeyBudgetUsedTokens     = "_budget_used_tokens"
	KeyBudgetUsedCost       = "_budget_used_cost"
	KeyDegradationActive    = "_degradation_active"
	KeyDegradation          = "_degradation"
	KeyEscalatedNodes       = "_escalated_nodes"
)

// requiredKeys must be present in the initial state of every run.
var requiredKeys = []string{"scope_type", "scope_id", "run_id", "graph_id"}

// RequiredKeys returns the keys every initial run state must contain.
func RequiredKeys() []string {
	out := make([]string, len(requiredKeys))
	copy(out, requiredKeys)
	return out
}

// State is the open key→value mapping accumulated across nodes.
// Values are JSON-compatible.
type State map[string]any

// Delta is the mapping an agent emits to be merged into run state.
type Delta map[string]any

// Float reads a numeric key from the delta; see State.Float.
func (d Delta) Float(key string, fallback float64) float64 { return State(d).Float(key, fallback) }

// Int reads an integer key from the delta; see State.Int.
func (d Delta) Int(key string, fallback int) int { return State(d).Int(key, fallback) }

// String reads a string key from the delta; see State.String.
func (d Delta) String(key, fallback string) string { return State(d).String(key, fallback) }

// Bool reads a boolean key from the delta; see State.Bool.
func (d Delta) Bool(key string) bool { return State(d).Bool(key) }

// New builds the initial state for a graph run.
func New(scopeType, scopeID, runID, graphID string, extra map[string]any) State {
	s := State{
		"scope_type": scopeType,
		"scope_id":   scopeID,
		"run_id":     runID,
		"graph_id":   graphID,
		"artifacts":  []any{},
	}
	for k, v := range extra {
		s[k] = v
	}
	return s
}

// Validate returns the required keys missing from s (empty slice if valid).
func (s State) Validate() []string {
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := s[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// Merge copies every key of delta into s (shallow merge).
func (s State) Merge(delta Delta) {
	for k, v := range delta {
		s[k] = v
	}
}

// Has returns the keys that do not exist in s (empty if all exist).
func (s State) Has(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := s[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// Float reads a numeric key, tolerating json.Number-style decoding.
// Returns fallback when the key is absent or not numeric.
func (s State) Float(key string, fallback float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

// Int reads an integer key. Returns fallback when absent or not numeric.
func (s State) Int(key string, fallback int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

// String reads a string key. Returns fallback when absent or not a string.
func (s State) String(key, fallback string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return fallback
}

// Bool reads a boolean key.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// StringSlice reads a []string key, converting from []any if needed.
func (s State) StringSlice(key string) []string {
	switch v := s[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Save persists the state as JSON at path, creating parent directories.
func (s State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("state: create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", path, err)
	}
	return nil
}

// Load reads a state JSON file written by Save.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state: unmarshal %s: %w", path, err)
	}
	return s, nil
}
