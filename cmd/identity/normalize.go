package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName trims a profile name field. Unicode-aware rules (confusables)
// are out of scope for now.
func NormalizeName(s string) string {
	return strings.TrimSpace(s)
}
