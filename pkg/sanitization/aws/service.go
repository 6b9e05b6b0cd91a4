package aws

import (
	"regexp"

	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
)

var (
	// EcrRepositorySanitizer lowercases the name and keeps `-_/.` only between alphanumerics.
	EcrRepositorySanitizer = sanitization.NewSanitizer(
		[]sanitization.Rule{
			{Pattern: regexp.MustCompile(`\s+`), Replacement: "-"},
			{Pattern: regexp.MustCompile(`[^a-z0-9-_/.]`), Lowercase: true},
			{Pattern: regexp.MustCompile(`[/._\-]{2,}`), Replacement: "-"},
			{Pattern: regexp.MustCompile(`^[^a-z0-9]+|[^a-z0-9]+$`)},
		}, 256)

	CloudwatchLogGroupSanitizer = sanitization.NewSanitizer(
		[]sanitization.Rule{
			{Pattern: regexp.MustCompile(`[^-._/#A-Za-z\d]`), Replacement: "_"},
		}, 512)
)
