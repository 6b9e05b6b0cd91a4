package sanitization

import (
	"regexp"
)

// LogicalIdSanitizer makes a template-safe logical id: alphanumeric only, at most 255 characters.
var LogicalIdSanitizer = NewSanitizer(
	[]Rule{
		{
			Pattern:     regexp.MustCompile(`[^a-zA-Z0-9]+`),
			Replacement: "",
		},
	}, 255)
