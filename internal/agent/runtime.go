package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/kumo/internal/state"
)

// defaultRecoveryAttempts bounds the repair-prompt retry loop (stage 3).
const defaultRecoveryAttempts = 2

// LLM is a model-backed agent. The runtime owns the full lifecycle:
//
//  1. prompt assembly from the user template and run state;
//  2. model call through the supplied callable;
//  3. JSON extraction (fences stripped, outermost balanced braces);
//  4. deterministic repair (see Repair);
//  5. parse + validate against the agent's output contract;
//  6. on failure, a same-model re-ask carrying the raw output, the schema
//     hint, and the parser error;
//  7. on failure, a bounded repair-prompt retry loop with escalating
//     sternness;
//  8. on final failure, ValidationError.
type LLM struct {
	AgentID      string
	AgentVersion string
	SystemPrompt string
	// UserTemplate carries {key} placeholders resolved from run state.
	UserTemplate string
	// SchemaHint is the JSON shape description included in recovery
	// prompts.
	SchemaHint string
	// InputKeys are state keys the template requires.
	InputKeys []string
	Pol       Policy

	// Parse converts an extracted JSON document into a delta. Required.
	Parse func(raw string) (state.Delta, error)
	// Validate checks the parsed delta against the output contract.
	// Optional; nil skips business validation.
	Validate func(delta state.Delta) error

	// RecoveryAttempts overrides the stage-3 retry bound; 0 means default.
	RecoveryAttempts int

	Logger *slog.Logger
}

func (a *LLM) ID() string      { return a.AgentID }
func (a *LLM) Version() string { return a.AgentVersion }
func (a *LLM) Policy() Policy  { return a.Pol }

// BuildPrompt returns (system, user) from current state.
func (a *LLM) BuildPrompt(st state.State) (string, string, error) {
	if missing := st.Has(a.InputKeys...); len(missing) > 0 {
		return "", "", &MissingStateError{AgentID: a.AgentID, Keys: missing}
	}
	user, unresolved := renderTemplate(a.UserTemplate, st)
	if len(unresolved) > 0 {
		return "", "", &MissingStateError{AgentID: a.AgentID, Keys: unresolved}
	}
	return a.SystemPrompt, user, nil
}

// Run executes the agent lifecycle and returns the delta to merge.
func (a *LLM) Run(ctx context.Context, st state.State, call Call) (state.Delta, error) {
	if call == nil {
		return nil, fmt.Errorf("agent %q: no model callable provided", a.AgentID)
	}
	system, user, err := a.BuildPrompt(st)
	if err != nil {
		return nil, err
	}

	resp, err := call(ctx, system, user)
	if err != nil {
		return nil, err
	}

	delta, parseErr := a.parseAndValidate(resp.Text)
	if parseErr == nil {
		return delta, nil
	}
	a.logf("deterministic repair insufficient, starting model recovery",
		"agent", a.AgentID, "error", parseErr.Error())

	// Stage 2: same-model re-ask with the raw output, schema, and error.
	raw := resp.Text
	recovery, err := call(ctx, a.SystemPrompt, recoveryPrompt(raw, a.SchemaHint, parseErr, 0))
	if err == nil {
		if delta, parseErr = a.parseAndValidate(recovery.Text); parseErr == nil {
			return delta, nil
		}
		raw = recovery.Text
	}

	// Stage 3: bounded repair-prompt retries with escalating sternness.
	attempts := a.RecoveryAttempts
	if attempts <= 0 {
		attempts = defaultRecoveryAttempts
	}
	for i := 1; i <= attempts; i++ {
		retry, callErr := call(ctx, a.SystemPrompt, recoveryPrompt(raw, a.SchemaHint, parseErr, i))
		if callErr != nil {
			continue
		}
		if delta, parseErr = a.parseAndValidate(retry.Text); parseErr == nil {
			return delta, nil
		}
		raw = retry.Text
	}

	return nil, &ValidationError{
		AgentID: a.AgentID,
		Reason:  fmt.Sprintf("output failed schema after recovery: %v", parseErr),
	}
}

// parseAndValidate runs extraction, deterministic repair, parsing, schema
// validation, and the citation invariant.
func (a *LLM) parseAndValidate(text string) (state.Delta, error) {
	candidate := ExtractJSON(text)

	delta, err := a.Parse(candidate)
	if err != nil {
		delta, err = a.Parse(Repair(candidate))
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}
	if a.Validate != nil {
		if err := a.Validate(delta); err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
	}
	if a.Pol.RequiredCitations {
		if err := checkCitations(delta); err != nil {
			return nil, fmt.Errorf("citations: %w", err)
		}
	}
	return delta, nil
}

// checkCitations enforces the citation invariant: every produced item with a
// statement must carry at least one citation.
func checkCitations(delta state.Delta) error {
	for key, v := range delta {
		items, ok := v.([]any)
		if !ok {
			continue
		}
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if _, hasStatement := m["statement"]; !hasStatement {
				continue
			}
			citations, _ := m["citations"].([]any)
			if len(citations) == 0 {
				return fmt.Errorf("%s[%d] has no citations", key, i)
			}
		}
	}
	return nil
}

// recoveryPrompt builds the stage-2/3 re-ask. Sternness escalates with the
// attempt number.
func recoveryPrompt(raw, schemaHint string, parseErr error, attempt int) string {
	var preamble string
	switch {
	case attempt == 0:
		preamble = "Your previous response could not be parsed."
	case attempt == 1:
		preamble = "Your response is still invalid JSON. This must be fixed."
	default:
		preamble = "FINAL ATTEMPT. Respond with the corrected JSON document and absolutely nothing else."
	}
	return fmt.Sprintf(
		"%s\n\nParser error: %v\n\nExpected JSON shape:\n%s\n\nPrevious output:\n%s\n\nReturn only the corrected JSON.",
		preamble, parseErr, schemaHint, raw,
	)
}

func (a *LLM) logf(msg string, args ...any) {
	if a.Logger != nil {
		a.Logger.Warn(msg, args...)
	}
}
