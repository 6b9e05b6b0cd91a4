package aws

import (
	"regexp"

	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
)

var iamNameRules = []sanitization.Rule{
	{
		Pattern:     regexp.MustCompile(`[^\w+=,.@-]`),
		Replacement: "_",
	},
}

// IamRoleSanitizer returns a sanitized IAM role name when applied.
var IamRoleSanitizer = sanitization.NewSanitizer(iamNameRules, 64)

// IamPolicySanitizer returns a sanitized IAM policy name when applied.
var IamPolicySanitizer = sanitization.NewSanitizer(iamNameRules, 128)

// InstanceProfileSanitizer returns a sanitized instance profile name when applied.
var InstanceProfileSanitizer = sanitization.NewSanitizer(iamNameRules, 128)
