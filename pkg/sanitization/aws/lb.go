package aws

import (
	"regexp"

	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
)

var lbNameRules = []sanitization.Rule{
	{
		Pattern:     regexp.MustCompile(`[^a-zA-Z\d-]+`),
		Replacement: "-",
	},
	{
		Pattern:     regexp.MustCompile(`^internal-`),
		Replacement: "",
	},
	{
		Pattern:     regexp.MustCompile(`^-+`),
		Replacement: "",
	},
	{
		Pattern:     regexp.MustCompile(`-+$`),
		Replacement: "",
	},
}

// LoadBalancerSanitizer returns a sanitized load balancer name when applied.
var LoadBalancerSanitizer = sanitization.NewSanitizer(lbNameRules, 32)

// TargetGroupSanitizer returns a sanitized target group name when applied.
var TargetGroupSanitizer = sanitization.NewSanitizer(lbNameRules, 32)
