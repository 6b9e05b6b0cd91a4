package aws

import (
	"regexp"

	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
)

// strip any characters not matching [a-zA-Z0-9-_]
var ecsNameRules = []sanitization.Rule{
	{
		Pattern:     regexp.MustCompile(`[^\w-]+`),
		Replacement: "",
	},
}

// EcsTaskDefinitionSanitizer returns a sanitized ECS task definition family when applied.
var EcsTaskDefinitionSanitizer = sanitization.NewSanitizer(ecsNameRules, 255)

// EcsClusterSanitizer returns a sanitized ECS Cluster name when applied.
var EcsClusterSanitizer = sanitization.NewSanitizer(ecsNameRules, 255)

// EcsServiceSanitizer returns a sanitized ECS Service name when applied.
var EcsServiceSanitizer = sanitization.NewSanitizer(ecsNameRules, 255)

// EcsCapacityProviderSanitizer returns a sanitized capacity provider name when applied. Names
// starting with `aws`, `ecs` or `fargate` are reserved.
var EcsCapacityProviderSanitizer = sanitization.NewSanitizer(
	append([]sanitization.Rule{
		{
			Pattern:     regexp.MustCompile(`^(?i)(aws|ecs|fargate)`),
			Replacement: "cp-$1",
		},
	}, ecsNameRules...), 255)
