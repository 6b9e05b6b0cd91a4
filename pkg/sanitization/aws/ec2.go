package aws

import (
	"regexp"

	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
)

// AutoScalingGroupSanitizer returns a sanitized auto scaling group name when applied.
var AutoScalingGroupSanitizer = sanitization.NewSanitizer(
	[]sanitization.Rule{
		{
			Pattern:     regexp.MustCompile(`[^\w.-]+`),
			Replacement: "-",
		},
	},
	255,
)

// LaunchTemplateSanitizer returns a sanitized launch template name when applied.
var LaunchTemplateSanitizer = sanitization.NewSanitizer(
	[]sanitization.Rule{
		{
			Pattern:     regexp.MustCompile(`[^\w().\/-]+`),
			Replacement: "-",
		},
	},
	128,
)

// SecurityGroupSanitizer returns a sanitized security group name when applied. `sg-` is a reserved prefix.
var SecurityGroupSanitizer = sanitization.NewSanitizer(
	[]sanitization.Rule{
		{
			Pattern:     regexp.MustCompile(`[^\w .:/()#,@\[\]+=&;{}!$*-]+`),
			Replacement: "-",
		},
		{
			Pattern:     regexp.MustCompile(`^sg-`),
			Replacement: "",
		},
	},
	255,
)
