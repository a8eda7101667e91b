package agent

import "strings"

// Repair is the deterministic JSON repair stage: a single pass over text
// that fixes the malformations small models actually produce, while leaving
// valid JSON untouched (Repair(s) == s for any valid JSON s).
//
// Fixes applied:
//   - literal newlines, tabs, and carriage returns inside string tokens are
//     escaped;
//   - an unescaped quote inside a string is treated as structural (closing
//     the string) only when the next non-whitespace character is one of
//     ':', ',', '}', ']' or EOF; otherwise it is escaped as an embedded
//     quote;
//   - when EOF arrives mid-structure (output cap truncation), an open
//     string is closed and missing ']' and '}' are appended in nesting
//     order.
func Repair(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)

	var stack []byte // open containers, innermost last
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				b.WriteByte(c)
				escaped = false
			case c == '\\':
				b.WriteByte(c)
				escaped = true
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\t':
				b.WriteString(`\t`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '"':
				if structuralQuote(text, i+1) {
					b.WriteByte(c)
					inString = false
				} else {
					b.WriteString(`\"`)
				}
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if n := len(stack); n > 0 && stack[n-1] == '{' {
				stack = stack[:n-1]
			}
		case ']':
			if n := len(stack); n > 0 && stack[n-1] == '[' {
				stack = stack[:n-1]
			}
		}
		b.WriteByte(c)
	}

	// Truncation closure: terminate an open string, then close containers
	// innermost-first.
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// structuralQuote decides whether the quote ending at position pos-1 closes
// its string: true when the next non-whitespace character is structural
// (':', ',', '}', ']') or the input ends.
func structuralQuote(text string, pos int) bool {
	for i := pos; i < len(text); i++ {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case ':', ',', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}
