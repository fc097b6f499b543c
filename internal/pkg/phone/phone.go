// Package phone converts user-entered phone numbers into the canonical
// +<countrycode><digits> form used as a deduplication key.
package phone

import (
	"regexp"
	"strings"
)

var (
	nonDigit = regexp.MustCompile(`\D`)
	loose    = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
)

// Normalize strips every non-digit and prefixes a country code.
// A leading '+' on raw means the digits already carry one. Otherwise the
// digits are taken as-is when they start with dialCode's digits, and
// prefixed with them when they don't. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw, dialCode string) string {
	raw = strings.TrimSpace(raw)
	digits := nonDigit.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(raw, "+") {
		return "+" + digits
	}
	dial := nonDigit.ReplaceAllString(dialCode, "")
	if strings.HasPrefix(digits, dial) {
		return "+" + digits
	}
	return "+" + dial + digits
}

// Valid reports whether raw looks like a phone number before normalization:
// 10 to 15 digits with an optional leading '+', ignoring spaces and dashes.
func Valid(raw string) bool {
	compact := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	return loose.MatchString(compact)
}

// Digits returns the canonical form without the leading '+', as expected by
// messaging APIs that take bare international numbers.
func Digits(canonical string) string {
	return strings.TrimPrefix(canonical, "+")
}
