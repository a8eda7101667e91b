package agent

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/ashita-ai/kumo/internal/state"
)

// placeholderRe matches {key} placeholders in user templates. Keys follow
// state-key naming: lowercase, digits, underscores, optional leading
// underscore for reserved keys.
var placeholderRe = regexp.MustCompile(`\{(_?[a-z][a-z0-9_]*)\}`)

// renderTemplate substitutes state values into a user template. Non-string
// values are JSON-encoded. Returns the unresolved keys alongside the result
// so the caller can raise MissingStateError.
func renderTemplate(tmpl string, st state.State) (string, []string) {
	var missing []string
	seen := map[string]bool{}
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := st[key]
		if !ok {
			if !seen[key] {
				seen[key] = true
				missing = append(missing, key)
			}
			return m
		}
		return stringify(v)
	})
	return out, missing
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
