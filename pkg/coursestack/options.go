package coursestack

import (
	"errors"
	"fmt"

	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
)

// Variant is a named preset of [Flags].
type Variant string

const (
	VariantFull     Variant = "full"
	VariantNoEdge   Variant = "no-edge"
	VariantDataOnly Variant = "data-only"
)

type (
	// Flags select which resource groups are part of the stack. The network, trust chain, table and image
	// repository are always present.
	Flags struct {
		WithCompute          bool `yaml:"withCompute" toml:"withCompute"`
		WithLoadBalancer     bool `yaml:"withLoadBalancer" toml:"withLoadBalancer"`
		WithCapacityProvider bool `yaml:"withCapacityProvider" toml:"withCapacityProvider"`
	}

	Options struct {
		Environment  string
		NameTemplate string
		Tags         map[string]string

		// ServiceVersion is the image tag deployed.
		ServiceVersion string

		VpcCidr        string
		AzCount        int
		SubnetMask     int
		ExtraEndpoints []string

		InstanceType      string
		PoolMin           int
		PoolMax           int
		PoolDesired       int
		ScaleInProtection bool

		DesiredCount   int
		TaskCpu        int
		TaskMemory     int
		ContainerPort  int
		ListenerPort   int
		HealthPath     string
		ListenerRules  []resources.ListenerRule
		LogRetention   int
		TableRetention resources.RetentionPolicy
		// ImageRetentionDays expires non-production images after this many days.
		ImageRetentionDays int

		Flags Flags
	}
)

// Flags returns the flags of the preset.
func (v Variant) Flags() (Flags, error) {
	switch v {
	case VariantFull, "":
		return Flags{WithCompute: true, WithLoadBalancer: true, WithCapacityProvider: true}, nil
	case VariantNoEdge:
		return Flags{WithCompute: true, WithCapacityProvider: true}, nil
	case VariantDataOnly:
		return Flags{}, nil
	}
	return Flags{}, engine_errs.ConfigError{Key: "variant", Err: fmt.Errorf("unknown variant %q", v)}
}

func (f Flags) Validate() error {
	var errs error
	if f.WithLoadBalancer && !f.WithCompute {
		errs = errors.Join(errs, engine_errs.ConfigError{Key: "withLoadBalancer", Err: errors.New("requires withCompute")})
	}
	if f.WithCapacityProvider && !f.WithCompute {
		errs = errors.Join(errs, engine_errs.ConfigError{Key: "withCapacityProvider", Err: errors.New("requires withCompute")})
	}
	return errs
}

// DefaultOptions is the reference deployment: two availability zones in a /26, one to two t2.nano hosts, and the
// service listening on 8080 behind port 80.
func DefaultOptions() Options {
	flags, _ := VariantFull.Flags()
	return Options{
		VpcCidr:            "10.0.0.0/26",
		AzCount:            2,
		SubnetMask:         28,
		InstanceType:       "t2.nano",
		PoolMin:            1,
		PoolMax:            2,
		PoolDesired:        1,
		DesiredCount:       1,
		TaskCpu:            1024,
		TaskMemory:         2048,
		ContainerPort:      8080,
		ListenerPort:       80,
		HealthPath:         "/actuator/health",
		LogRetention:       30,
		TableRetention:     resources.RetainOnDelete,
		ImageRetentionDays: 7,
		Flags:              flags,
	}
}

func (o Options) Validate() error {
	errs := o.Flags.Validate()
	if o.Flags.WithCompute {
		if o.ServiceVersion == "" {
			errs = errors.Join(errs, engine_errs.ConfigError{Key: "serviceVersion", Err: errors.New("is required")})
		} else if err := resources.ValidateImageTag(o.ServiceVersion); err != nil {
			errs = errors.Join(errs, engine_errs.ConfigError{Key: "serviceVersion", Err: err})
		}
	}
	ports := []struct {
		key  string
		port int
	}{{"containerPort", o.ContainerPort}, {"listenerPort", o.ListenerPort}}
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			errs = errors.Join(errs, engine_errs.ConfigError{Key: p.key, Err: fmt.Errorf("%d is not a valid port", p.port)})
		}
	}
	if o.DesiredCount < 0 {
		errs = errors.Join(errs, engine_errs.ConfigError{Key: "desiredCount", Err: errors.New("must not be negative")})
	}
	return errs
}
