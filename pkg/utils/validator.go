package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@\-]{0,127}$`)
	controlChars    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// MaxCommentLength caps free-text comments on decisions and stages.
const MaxCommentLength = 2000

// ValidateIdentifier checks a caller-supplied id such as a user, company or store id.
func ValidateIdentifier(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !identifierRegex.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

// ValidateAmount rejects negative amounts. Amounts are in minor units.
func ValidateAmount(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("amount must not be negative: %d", amount)
	}
	return nil
}

// SanitizeComment strips control characters other than tab and newline,
// trims surrounding space and caps the length.
func SanitizeComment(s string) string {
	s = strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
	if utf8.RuneCountInString(s) <= MaxCommentLength {
		return s
	}
	return string([]rune(s)[:MaxCommentLength])
}
