package sanitization

import (
	"regexp"
	"strings"
)

type (
	Sanitizer struct {
		rules     []Rule
		maxLength int
	}

	Rule struct {
		Pattern *regexp.Regexp
		// Lowercase lowercases the input before the pattern is applied.
		Lowercase   bool
		Replacement string
	}
)

// Apply runs every rule in order, then truncates the result to the sanitizer's maximum length (if any).
func (s *Sanitizer) Apply(input string) string {
	output := input
	for _, rule := range s.rules {
		if rule.Lowercase {
			output = strings.ToLower(output)
		}
		output = rule.Pattern.ReplaceAllString(output, rule.Replacement)
	}
	if s.maxLength > 0 && len(output) > s.maxLength {
		output = output[:s.maxLength]
	}
	return output
}

func (s *Sanitizer) MaxLength() int {
	return s.maxLength
}

// NewSanitizer creates a sanitizer from rules. A maxLength of 0 means no limit.
func NewSanitizer(rules []Rule, maxLength int) *Sanitizer {
	return &Sanitizer{rules: rules, maxLength: maxLength}
}
