// Package command implements tier-0 dispatch: deterministic regex and
// JSON-payload matching of requests to actions, with no model call.
package command

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Pattern is a registered command pattern.
type Pattern struct {
	Regex       string
	Action      string
	Target      string
	Description string

	compiled *regexp.Regexp
}

// Match is the result of a successful command match. Confidence is always
// 1.0 for deterministic matches.
type Match struct {
	Action     string
	Target     string
	Args       map[string]any
	Confidence float64
}

// Registry holds command patterns, matched in registration order.
type Registry struct {
	patterns []*Pattern
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register compiles and adds a pattern. Returns an error on bad regex.
func (r *Registry) Register(p Pattern) error {
	compiled, err := regexp.Compile(p.Regex)
	if err != nil {
		return err
	}
	p.compiled = compiled
	r.patterns = append(r.patterns, &p)
	return nil
}

// Patterns returns the registered patterns in order.
func (r *Registry) Patterns() []Pattern {
	out := make([]Pattern, len(r.patterns))
	for i, p := range r.patterns {
		out[i] = *p
	}
	return out
}

// MatchText tries text against every registered pattern in order. It also
// detects JSON payloads carrying a "command" key. Returns nil if nothing
// matches.
func (r *Registry) MatchText(text string) *Match {
	text = strings.TrimSpace(text)

	if m := r.tryJSON(text); m != nil {
		return m
	}

	for _, p := range r.patterns {
		if m := p.match(text); m != nil {
			return m
		}
	}
	return nil
}

// match applies one compiled pattern, collecting named capture groups.
func (p *Pattern) match(text string) *Match {
	groups := p.compiled.FindStringSubmatch(text)
	if groups == nil {
		return nil
	}
	args := make(map[string]any)
	for i, name := range p.compiled.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		args[name] = groups[i]
	}
	return &Match{
		Action:     p.Action,
		Target:     p.Target,
		Args:       args,
		Confidence: 1.0,
	}
}

// tryJSON detects a JSON object payload with a "command" key. The command
// value is re-matched against the patterns; extra JSON keys merge into args.
// A command that matches no pattern yields an unknown_command match carrying
// the whole payload.
func (r *Registry) tryJSON(text string) *Match {
	if !strings.HasPrefix(text, "{") {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil
	}
	cmdValue, ok := data["command"].(string)
	if !ok {
		return nil
	}

	for _, p := range r.patterns {
		m := p.match(cmdValue)
		if m == nil {
			continue
		}
		for k, v := range data {
			if k == "command" {
				continue
			}
			if _, exists := m.Args[k]; !exists {
				m.Args[k] = v
			}
		}
		return m
	}

	return &Match{
		Action:     "unknown_command",
		Target:     "",
		Args:       data,
		Confidence: 1.0,
	}
}

// RegisterDefaults installs the standard slash-command patterns.
func RegisterDefaults(r *Registry) {
	defaults := []Pattern{
		{
			Regex:       `^/cert\s+(?P<cert_id>\S+)$`,
			Action:      "execute_graph",
			Target:      "run_cert",
			Description: "Run the certification graph",
		},
		{
			Regex:       `^/dossier\s+(?P<topic_id>\S+)$`,
			Action:      "execute_graph",
			Target:      "run_dossier",
			Description: "Run the dossier graph",
		},
		{
			Regex:       `^/story\s+(?P<world_id>\S+)$`,
			Action:      "execute_graph",
			Target:      "run_story",
			Description: "Run the story graph",
		},
		{
			Regex:       `^/lab\s+(?P<suite_id>\S+)$`,
			Action:      "execute_graph",
			Target:      "run_lab",
			Description: "Run the lab graph",
		},
		{
			Regex:       `^/status$`,
			Action:      "show_status",
			Target:      "",
			Description: "Show system status",
		},
		{
			Regex:       `^/help$`,
			Action:      "show_help",
			Target:      "",
			Description: "Show help information",
		},
	}
	for _, p := range defaults {
		// Patterns are static literals; compilation cannot fail.
		_ = r.Register(p)
	}
}
