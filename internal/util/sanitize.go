package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters from
// user-supplied text (credential keys, display tags).
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// DigitsOnly strips every non-digit rune. OTP inputs are filtered through
// this before validation so pasted codes with separators still verify.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskKey returns a log-safe form of an access key: first two runes plus
// length. Raw credentials never reach the logs.
func MaskKey(key string) string {
	runes := []rune(key)
	if len(runes) <= 2 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:2]) + strings.Repeat("*", len(runes)-2)
}
