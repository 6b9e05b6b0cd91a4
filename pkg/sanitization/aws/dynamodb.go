package aws

import (
	"regexp"

	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
)

// DynamodbTableSanitizer returns a sanitized table (or index) name when applied.
var DynamodbTableSanitizer = sanitization.NewSanitizer(
	[]sanitization.Rule{
		{
			Pattern:     regexp.MustCompile(`[^\w.-]+`),
			Replacement: "-",
		},
	},
	255,
)
