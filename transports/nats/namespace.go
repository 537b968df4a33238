package nats

import (
	"strings"
	"unicode"
)

// namespace joins values into a NATS subject under the cfx prefix. Empty
// values are skipped and each value is normalized with formatForNamespace.
func namespace(values ...string) string {
	parts := []string{"cfx"}
	for _, v := range values {
		if v == "" {
			continue
		}
		parts = append(parts, formatForNamespace(v))
	}
	return strings.Join(parts, ".")
}

// formatForNamespace converts camelCase boundaries and underscores to
// dashes and drops characters that are not valid in a subject token.
// Dots and wildcards pass through.
func formatForNamespace(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 4)
	var prev rune
	for _, r := range value {
		switch {
		case r == '_':
			b.WriteRune('-')
		case r == '-' || r == '.' || r == '*' || r == '>':
			b.WriteRune(r)
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			b.WriteRune('-')
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			continue
		}
		prev = r
	}
	return b.String()
}
