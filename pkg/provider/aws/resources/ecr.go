package resources

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/coreos/go-semver/semver"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization/aws"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

const NonProductionTagPrefix = "non-production"

var imageTagPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]{0,127}$`)

type (
	EcrRepository struct {
		ID   construct.ResourceId
		Name string
	}

	// LifecycleRule expires images by age. Rules are evaluated by ascending priority.
	LifecycleRule struct {
		Priority      int
		Description   string
		TagStatus     string
		TagPrefixList []string
		MaxAgeDays    int
	}

	RepositoryCreateParams struct {
		Name      string
		Lifecycle []LifecycleRule
		// ScanOnPush enables image scanning when an image is pushed.
		ScanOnPush bool
	}

	lifecyclePolicy struct {
		Rules []lifecyclePolicyRule `json:"rules"`
	}

	lifecyclePolicyRule struct {
		RulePriority int                   `json:"rulePriority"`
		Description  string                `json:"description,omitempty"`
		Selection    lifecyclePolicySelect `json:"selection"`
		Action       map[string]string     `json:"action"`
	}

	lifecyclePolicySelect struct {
		TagStatus     string   `json:"tagStatus"`
		TagPrefixList []string `json:"tagPrefixList,omitempty"`
		CountType     string   `json:"countType"`
		CountUnit     string   `json:"countUnit"`
		CountNumber   int      `json:"countNumber"`
	}
)

// NonProductionRule expires images tagged with the non-production prefix after `days`.
func NonProductionRule(days int) LifecycleRule {
	return LifecycleRule{
		Priority:      1,
		Description:   fmt.Sprintf("expire %s images after %d days", NonProductionTagPrefix, days),
		TagStatus:     "tagged",
		TagPrefixList: []string{NonProductionTagPrefix},
		MaxAgeDays:    days,
	}
}

func (repo *EcrRepository) Ref() construct.Ref {
	return construct.RefOf(repo.ID)
}

func (repo *EcrRepository) Arn() construct.Ref {
	return construct.AttrOf(repo.ID, "Arn")
}

func (repo *EcrRepository) Uri() construct.Ref {
	return construct.AttrOf(repo.ID, "RepositoryUri")
}

// ValidateImageTag checks `tag` against the image tag grammar ECR accepts.
func ValidateImageTag(tag string) error {
	if !imageTagPattern.MatchString(tag) {
		return fmt.Errorf("%q is not a valid image tag: must match %s", tag, imageTagPattern)
	}
	return nil
}

// ImageTagVersion returns the semantic version a release tag such as `1.0.3` or `v1.0.3` names, or nil for
// other tags.
func ImageTagVersion(tag string) *semver.Version {
	v, err := semver.NewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return nil
	}
	return v
}

// ImageUri is the repository URI qualified with `tag`.
func (repo *EcrRepository) ImageUri(tag string) (construct.Join, error) {
	if err := ValidateImageTag(tag); err != nil {
		return construct.Join{}, engine_errs.ValidationError{Resource: repo.ID, Attribute: "ImageTag", Reason: err.Error()}
	}
	return construct.Join{Parts: []any{repo.Uri(), ":" + tag}}, nil
}

func CreateRepository(b *stack.Builder, params RepositoryCreateParams) (*EcrRepository, error) {
	repo := &EcrRepository{
		ID:   id(ECR_REPO_TYPE, params.Name),
		Name: b.PhysicalName(aws.EcrRepositorySanitizer, params.Name),
	}
	r := construct.CreateResource(repo.ID)
	r.Properties = construct.Properties{
		"RepositoryName":             repo.Name,
		"ImageScanningConfiguration": map[string]any{"ScanOnPush": params.ScanOnPush},
		"Tags":                       b.Tags(repo.Name),
	}
	if len(params.Lifecycle) > 0 {
		text, err := LifecyclePolicyText(params.Lifecycle)
		if err != nil {
			return nil, engine_errs.ValidationError{Resource: repo.ID, Attribute: "LifecyclePolicy", Reason: err.Error()}
		}
		r.Properties["LifecyclePolicy"] = map[string]any{"LifecyclePolicyText": text}
	}
	return repo, b.Add(r)
}

// LifecyclePolicyText renders the rules as the JSON document ECR expects.
func LifecyclePolicyText(rules []LifecycleRule) (string, error) {
	policy := lifecyclePolicy{}
	seen := make(map[int]bool)
	for _, rule := range rules {
		if seen[rule.Priority] {
			return "", fmt.Errorf("duplicate rule priority %d", rule.Priority)
		}
		seen[rule.Priority] = true
		if rule.MaxAgeDays < 1 {
			return "", fmt.Errorf("rule %d must expire images after at least one day", rule.Priority)
		}
		if rule.TagStatus == "tagged" && len(rule.TagPrefixList) == 0 {
			return "", fmt.Errorf("rule %d selects tagged images but has no tag prefix", rule.Priority)
		}
		policy.Rules = append(policy.Rules, lifecyclePolicyRule{
			RulePriority: rule.Priority,
			Description:  rule.Description,
			Selection: lifecyclePolicySelect{
				TagStatus:     rule.TagStatus,
				TagPrefixList: rule.TagPrefixList,
				CountType:     "sinceImagePushed",
				CountUnit:     "days",
				CountNumber:   rule.MaxAgeDays,
			},
			Action: map[string]string{"type": "expire"},
		})
	}
	text, err := json.Marshal(policy)
	return string(text), err
}

// NormalizeLifecyclePolicy re-renders a lifecycle policy document so it compares equal to the output of
// [LifecyclePolicyText] for the same rules.
func NormalizeLifecyclePolicy(text string) (string, error) {
	var policy lifecyclePolicy
	if err := json.Unmarshal([]byte(text), &policy); err != nil {
		return "", err
	}
	out, err := json.Marshal(policy)
	return string(out), err
}
