package config

import (
	"fmt"
	"os"
	"strconv"

	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
)

// EnvVar represents an environment variable, specified by its key name. Use GetOr to get its value, or a
// default if the value isn't set.
type EnvVar string

const (
	EnvEnvironment    EnvVar = "COURSESTACK_ENVIRONMENT"
	EnvRegion         EnvVar = "COURSESTACK_REGION"
	EnvProfile        EnvVar = "COURSESTACK_PROFILE"
	EnvServiceVersion EnvVar = "COURSESTACK_SERVICE_VERSION"
	EnvVariant        EnvVar = "COURSESTACK_VARIANT"
	EnvState          EnvVar = "COURSESTACK_STATE"
	EnvOutput         EnvVar = "COURSESTACK_OUTPUT"
	EnvEndpoint       EnvVar = "COURSESTACK_ENDPOINT"
	EnvDesiredCount   EnvVar = "COURSESTACK_DESIRED_COUNT"
	EnvTableRetention EnvVar = "COURSESTACK_TABLE_RETENTION"
)

// GetOr returns the value of the variable, or `defaultValue` if it is unset or empty.
func (s EnvVar) GetOr(defaultValue string) string {
	value := os.Getenv(string(s))
	if value == "" {
		return defaultValue
	}
	return value
}

// FromEnv reads the configuration set through `COURSESTACK_*` variables. Merge it over a file configuration
// to apply it.
func FromEnv() (StackConfig, error) {
	cfg := StackConfig{
		Environment:    EnvEnvironment.GetOr(""),
		Region:         EnvRegion.GetOr(""),
		Profile:        EnvProfile.GetOr(""),
		ServiceVersion: EnvServiceVersion.GetOr(""),
		Variant:        EnvVariant.GetOr(""),
		State:          EnvState.GetOr(""),
		Output:         EnvOutput.GetOr(""),
		Endpoint:       EnvEndpoint.GetOr(""),
		Data:           DataConfig{TableRetention: EnvTableRetention.GetOr("")},
	}
	if v := EnvDesiredCount.GetOr(""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, engine_errs.ConfigError{Key: string(EnvDesiredCount), Err: fmt.Errorf("%q is not a count", v)}
		}
		cfg.Service.DesiredCount = &n
	}
	return cfg, nil
}
