package mirror

import (
	"strings"
	"unicode"
)

// SanitizeTitle turns an arbitrary remote title into a name that is
// safe as a single path segment on every supported filesystem.
// Reserved characters become dashes, whitespace runs collapse to a
// single space, and surrounding whitespace is trimmed.
func SanitizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastWasSpace := false
	for _, r := range title {
		switch {
		case strings.ContainsRune(`\/:*?"<>|`, r):
			b.WriteByte('-')
			lastWasSpace = false
		case unicode.IsSpace(r):
			if !lastWasSpace {
				b.WriteByte(' ')
			}
			lastWasSpace = true
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// TagToken turns a property choice value into a tag token: anything
// outside [A-Za-z0-9_-] becomes an underscore, underscore runs
// collapse, and leading/trailing underscores are stripped.
func TagToken(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	lastWasUnderscore := false
	for _, r := range value {
		isSafe := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		switch {
		case isSafe:
			b.WriteRune(r)
			lastWasUnderscore = false
		default:
			if !lastWasUnderscore {
				b.WriteByte('_')
			}
			lastWasUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// CanonicalID normalizes a node ID for exclusion matching so that
// dashed and dashless spellings of the same ID compare equal.
func CanonicalID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r == '-' || r == '_' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
