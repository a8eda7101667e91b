package dispatch

import (
	"fmt"
	"regexp"
	"strings"
)

// defaultMaxInputLength bounds request size before any model sees it.
const defaultMaxInputLength = 10_000

// injectionPatterns flag prompt-injection attempts. A hit rejects the
// request at tier 0; it never reaches a model.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?prior\s+instructions`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s+`),
	regexp.MustCompile(`(?i)system\s*:\s*`),
	regexp.MustCompile(`(?i)<\s*/?\s*system\s*>`),
}

// DetectInjection returns a reason when text matches an injection pattern,
// else "".
func DetectInjection(text string) string {
	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			return fmt.Sprintf("injection pattern: %s", p.String())
		}
	}
	return ""
}

// sanitize enforces the max input length and injection screening. Returns
// the cleaned request and a rejection reason ("" when accepted).
func sanitize(request string, maxLength int) (string, string) {
	if maxLength <= 0 {
		maxLength = defaultMaxInputLength
	}
	if len(request) > maxLength {
		return "", fmt.Sprintf("input exceeds max length (%d > %d)", len(request), maxLength)
	}
	if reason := DetectInjection(request); reason != "" {
		return "", reason
	}
	return strings.TrimSpace(request), ""
}
