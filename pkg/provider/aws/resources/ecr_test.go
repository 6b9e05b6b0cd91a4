package resources

import (
	"strings"
	"testing"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRepository(t *testing.T) {
	b := newBuilder(t, "")
	repo, err := CreateRepository(b, RepositoryCreateParams{
		Name:      "courses-service",
		Lifecycle: []LifecycleRule{NonProductionRule(7)},
	})
	require.NoError(t, err)

	r := mustResource(t, b, repo.ID)
	assert.Equal(t, "courses-service", r.Properties["RepositoryName"])
	assert.JSONEq(t, `{"rules":[{
		"rulePriority": 1,
		"description": "expire non-production images after 7 days",
		"selection": {
			"tagStatus": "tagged",
			"tagPrefixList": ["non-production"],
			"countType": "sinceImagePushed",
			"countUnit": "days",
			"countNumber": 7
		},
		"action": {"type": "expire"}
	}]}`, r.Properties["LifecyclePolicy"].(map[string]any)["LifecyclePolicyText"].(string))
}

func TestLifecyclePolicyText_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		rules []LifecycleRule
	}{
		{name: "duplicate priority", rules: []LifecycleRule{NonProductionRule(7), NonProductionRule(14)}},
		{name: "zero days", rules: []LifecycleRule{NonProductionRule(0)}},
		{name: "tagged without prefix", rules: []LifecycleRule{{Priority: 1, TagStatus: "tagged", MaxAgeDays: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LifecyclePolicyText(tt.rules)
			assert.Error(t, err)
		})
	}
}

func TestEcrRepository_ImageUri(t *testing.T) {
	b := newBuilder(t, "")
	repo, err := CreateRepository(b, RepositoryCreateParams{Name: "courses-service"})
	require.NoError(t, err)

	uri, err := repo.ImageUri("1.0.3")
	require.NoError(t, err)
	assert.Equal(t, construct.Join{Parts: []any{construct.AttrOf(repo.ID, "RepositoryUri"), ":1.0.3"}}, uri)

	_, err = repo.ImageUri("-latest")
	assert.Error(t, err)
}

func TestValidateImageTag(t *testing.T) {
	tests := []struct {
		tag     string
		wantErr bool
		version string
	}{
		{tag: "1.0.3", version: "1.0.3"},
		{tag: "v1.0.3", version: "1.0.3"},
		{tag: "non-production-1.0.3"},
		{tag: "latest"},
		{tag: "build_42"},
		{tag: "", wantErr: true},
		{tag: "-rc1", wantErr: true},
		{tag: "1.0/3", wantErr: true},
		{tag: strings.Repeat("a", 129), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			err := ValidateImageTag(tt.tag)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			v := ImageTagVersion(tt.tag)
			if tt.version == "" {
				assert.Nil(t, v)
			} else {
				require.NotNil(t, v)
				assert.Equal(t, tt.version, v.String())
			}
		})
	}
}

func TestNormalizeLifecyclePolicy(t *testing.T) {
	want, err := LifecyclePolicyText([]LifecycleRule{NonProductionRule(7)})
	require.NoError(t, err)

	stored := `{
		"rules": [{
			"action": {"type": "expire"},
			"selection": {"countNumber": 7, "countUnit": "days", "countType": "sinceImagePushed",
				"tagPrefixList": ["non-production"], "tagStatus": "tagged"},
			"description": "expire non-production images after 7 days",
			"rulePriority": 1
		}]
	}`
	got, err := NormalizeLifecyclePolicy(stored)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NormalizeLifecyclePolicy("{")
	assert.Error(t, err)
}
