package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klothoplatform/free-courses-infra/pkg/coursestack"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type (
	StackConfig struct {
		Environment  string            `json:"environment,omitempty" yaml:"environment,omitempty" toml:"environment,omitempty"`
		Region       string            `json:"region,omitempty" yaml:"region,omitempty" toml:"region,omitempty"`
		Profile      string            `json:"profile,omitempty" yaml:"profile,omitempty" toml:"profile,omitempty"`
		NameTemplate string            `json:"nameTemplate,omitempty" yaml:"nameTemplate,omitempty" toml:"nameTemplate,omitempty"`
		Tags         map[string]string `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`

		ServiceVersion string `json:"serviceVersion,omitempty" yaml:"serviceVersion,omitempty" toml:"serviceVersion,omitempty"`
		// Variant is one of `full`, `no-edge` or `data-only`. Explicit flags override the variant's.
		Variant string      `json:"variant,omitempty" yaml:"variant,omitempty" toml:"variant,omitempty"`
		Flags   FlagsConfig `json:"flags,omitempty" yaml:"flags,omitempty" toml:"flags,omitempty"`

		Network  NetworkConfig  `json:"network,omitempty" yaml:"network,omitempty" toml:"network,omitempty"`
		Capacity CapacityConfig `json:"capacity,omitempty" yaml:"capacity,omitempty" toml:"capacity,omitempty"`
		Service  ServiceConfig  `json:"service,omitempty" yaml:"service,omitempty" toml:"service,omitempty"`
		Data     DataConfig     `json:"data,omitempty" yaml:"data,omitempty" toml:"data,omitempty"`

		// State is where the recorded state lives, a file path or `s3://bucket/key`.
		State string `json:"state,omitempty" yaml:"state,omitempty" toml:"state,omitempty"`
		// Output is where templates are published, a directory or `s3://bucket/prefix`.
		Output string `json:"output,omitempty" yaml:"output,omitempty" toml:"output,omitempty"`
		// Endpoint overrides the AWS endpoint, for local emulators.
		Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`

		// Format is what format the file was originally in.
		Format string `json:"-" yaml:"-" toml:"-"`
	}

	FlagsConfig struct {
		WithCompute          *bool `json:"withCompute,omitempty" yaml:"withCompute,omitempty" toml:"withCompute,omitempty"`
		WithLoadBalancer     *bool `json:"withLoadBalancer,omitempty" yaml:"withLoadBalancer,omitempty" toml:"withLoadBalancer,omitempty"`
		WithCapacityProvider *bool `json:"withCapacityProvider,omitempty" yaml:"withCapacityProvider,omitempty" toml:"withCapacityProvider,omitempty"`
	}

	NetworkConfig struct {
		VpcCidr        string   `json:"vpcCidr,omitempty" yaml:"vpcCidr,omitempty" toml:"vpcCidr,omitempty"`
		AzCount        int      `json:"azCount,omitempty" yaml:"azCount,omitempty" toml:"azCount,omitempty"`
		SubnetMask     int      `json:"subnetMask,omitempty" yaml:"subnetMask,omitempty" toml:"subnetMask,omitempty"`
		ExtraEndpoints []string `json:"extraEndpoints,omitempty" yaml:"extraEndpoints,omitempty" toml:"extraEndpoints,omitempty"`
	}

	CapacityConfig struct {
		InstanceType      string `json:"instanceType,omitempty" yaml:"instanceType,omitempty" toml:"instanceType,omitempty"`
		Min               *int   `json:"min,omitempty" yaml:"min,omitempty" toml:"min,omitempty"`
		Max               int    `json:"max,omitempty" yaml:"max,omitempty" toml:"max,omitempty"`
		Desired           *int   `json:"desired,omitempty" yaml:"desired,omitempty" toml:"desired,omitempty"`
		ScaleInProtection *bool  `json:"scaleInProtection,omitempty" yaml:"scaleInProtection,omitempty" toml:"scaleInProtection,omitempty"`
	}

	ServiceConfig struct {
		DesiredCount     *int   `json:"desiredCount,omitempty" yaml:"desiredCount,omitempty" toml:"desiredCount,omitempty"`
		Cpu              int    `json:"cpu,omitempty" yaml:"cpu,omitempty" toml:"cpu,omitempty"`
		Memory           int    `json:"memory,omitempty" yaml:"memory,omitempty" toml:"memory,omitempty"`
		ContainerPort    int    `json:"containerPort,omitempty" yaml:"containerPort,omitempty" toml:"containerPort,omitempty"`
		ListenerPort     int    `json:"listenerPort,omitempty" yaml:"listenerPort,omitempty" toml:"listenerPort,omitempty"`
		HealthPath       string `json:"healthPath,omitempty" yaml:"healthPath,omitempty" toml:"healthPath,omitempty"`
		LogRetentionDays int    `json:"logRetentionDays,omitempty" yaml:"logRetentionDays,omitempty" toml:"logRetentionDays,omitempty"`
	}

	DataConfig struct {
		// TableRetention is `retain` (the default) or `delete`.
		TableRetention     string `json:"tableRetention,omitempty" yaml:"tableRetention,omitempty" toml:"tableRetention,omitempty"`
		ImageRetentionDays *int   `json:"imageRetentionDays,omitempty" yaml:"imageRetentionDays,omitempty" toml:"imageRetentionDays,omitempty"`
	}
)

// ReadConfig reads and validates the stack configuration at `fpath`. The format follows the extension.
func ReadConfig(fpath string) (StackConfig, error) {
	content, err := os.ReadFile(fpath)
	if err != nil {
		return StackConfig{}, err
	}
	return Parse(filepath.Ext(fpath), content)
}

// Parse validates `content` against the configuration schema and decodes it. `ext` is the file extension
// naming the format.
func Parse(ext string, content []byte) (StackConfig, error) {
	var cfg StackConfig
	var decode func(io.Reader) error
	switch ext {
	case ".json":
		cfg.Format = "json"
		decode = func(r io.Reader) error {
			dec := json.NewDecoder(r)
			dec.DisallowUnknownFields()
			return dec.Decode(&cfg)
		}

	case ".yaml", ".yml":
		cfg.Format = "yaml"
		decode = func(r io.Reader) error {
			dec := yaml.NewDecoder(r)
			dec.KnownFields(true)
			return dec.Decode(&cfg)
		}

	case ".toml":
		cfg.Format = "toml"
		decode = func(r io.Reader) error {
			return toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg)
		}

	default:
		return cfg, engine_errs.ConfigError{Key: "file", Err: fmt.Errorf("unsupported config format %q", ext)}
	}

	if err := validateSchema(cfg.Format, content); err != nil {
		return cfg, err
	}
	if err := decode(bytes.NewReader(content)); err != nil && err != io.EOF {
		return cfg, engine_errs.ConfigError{Key: "file", Err: err}
	}
	zap.S().Named("config").Debugf("read %s config (env=%q variant=%q)", cfg.Format, cfg.Environment, cfg.Variant)
	return cfg, nil
}

// Merge overrides the set fields of `cfg` with the set fields of `other`.
func (cfg *StackConfig) Merge(other StackConfig) {
	mergeString(&cfg.Environment, other.Environment)
	mergeString(&cfg.Region, other.Region)
	mergeString(&cfg.Profile, other.Profile)
	mergeString(&cfg.NameTemplate, other.NameTemplate)
	mergeString(&cfg.ServiceVersion, other.ServiceVersion)
	mergeString(&cfg.Variant, other.Variant)
	mergeString(&cfg.State, other.State)
	mergeString(&cfg.Output, other.Output)
	mergeString(&cfg.Endpoint, other.Endpoint)
	if len(other.Tags) > 0 {
		if cfg.Tags == nil {
			cfg.Tags = make(map[string]string, len(other.Tags))
		}
		for k, v := range other.Tags {
			cfg.Tags[k] = v
		}
	}
	cfg.Flags.Merge(other.Flags)
	cfg.Network.Merge(other.Network)
	cfg.Capacity.Merge(other.Capacity)
	cfg.Service.Merge(other.Service)
	cfg.Data.Merge(other.Data)
}

func (cfg *FlagsConfig) Merge(other FlagsConfig) {
	mergePtr(&cfg.WithCompute, other.WithCompute)
	mergePtr(&cfg.WithLoadBalancer, other.WithLoadBalancer)
	mergePtr(&cfg.WithCapacityProvider, other.WithCapacityProvider)
}

func (cfg *NetworkConfig) Merge(other NetworkConfig) {
	mergeString(&cfg.VpcCidr, other.VpcCidr)
	mergeInt(&cfg.AzCount, other.AzCount)
	mergeInt(&cfg.SubnetMask, other.SubnetMask)
	if len(other.ExtraEndpoints) > 0 {
		cfg.ExtraEndpoints = other.ExtraEndpoints
	}
}

func (cfg *CapacityConfig) Merge(other CapacityConfig) {
	mergeString(&cfg.InstanceType, other.InstanceType)
	mergePtr(&cfg.Min, other.Min)
	mergeInt(&cfg.Max, other.Max)
	mergePtr(&cfg.Desired, other.Desired)
	mergePtr(&cfg.ScaleInProtection, other.ScaleInProtection)
}

func (cfg *ServiceConfig) Merge(other ServiceConfig) {
	mergePtr(&cfg.DesiredCount, other.DesiredCount)
	mergeInt(&cfg.Cpu, other.Cpu)
	mergeInt(&cfg.Memory, other.Memory)
	mergeInt(&cfg.ContainerPort, other.ContainerPort)
	mergeInt(&cfg.ListenerPort, other.ListenerPort)
	mergeString(&cfg.HealthPath, other.HealthPath)
	mergeInt(&cfg.LogRetentionDays, other.LogRetentionDays)
}

func (cfg *DataConfig) Merge(other DataConfig) {
	mergeString(&cfg.TableRetention, other.TableRetention)
	mergePtr(&cfg.ImageRetentionDays, other.ImageRetentionDays)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergePtr[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

// ToOptions resolves the configuration onto [coursestack.DefaultOptions].
func (cfg StackConfig) ToOptions() (coursestack.Options, error) {
	opts := coursestack.DefaultOptions()
	flags, err := coursestack.Variant(cfg.Variant).Flags()
	if err != nil {
		return opts, err
	}
	setPtr(&flags.WithCompute, cfg.Flags.WithCompute)
	setPtr(&flags.WithLoadBalancer, cfg.Flags.WithLoadBalancer)
	setPtr(&flags.WithCapacityProvider, cfg.Flags.WithCapacityProvider)
	opts.Flags = flags

	opts.Environment = cfg.Environment
	opts.NameTemplate = cfg.NameTemplate
	opts.Tags = cfg.Tags
	opts.ServiceVersion = cfg.ServiceVersion

	mergeString(&opts.VpcCidr, cfg.Network.VpcCidr)
	mergeInt(&opts.AzCount, cfg.Network.AzCount)
	mergeInt(&opts.SubnetMask, cfg.Network.SubnetMask)
	opts.ExtraEndpoints = cfg.Network.ExtraEndpoints

	mergeString(&opts.InstanceType, cfg.Capacity.InstanceType)
	setPtr(&opts.PoolMin, cfg.Capacity.Min)
	mergeInt(&opts.PoolMax, cfg.Capacity.Max)
	setPtr(&opts.PoolDesired, cfg.Capacity.Desired)
	setPtr(&opts.ScaleInProtection, cfg.Capacity.ScaleInProtection)

	setPtr(&opts.DesiredCount, cfg.Service.DesiredCount)
	mergeInt(&opts.TaskCpu, cfg.Service.Cpu)
	mergeInt(&opts.TaskMemory, cfg.Service.Memory)
	mergeInt(&opts.ContainerPort, cfg.Service.ContainerPort)
	mergeInt(&opts.ListenerPort, cfg.Service.ListenerPort)
	mergeString(&opts.HealthPath, cfg.Service.HealthPath)
	mergeInt(&opts.LogRetention, cfg.Service.LogRetentionDays)

	switch retention := resources.RetentionPolicy(cfg.Data.TableRetention); retention {
	case "":
	case resources.RetainOnDelete, resources.DestroyOnDelete:
		opts.TableRetention = retention
	default:
		return opts, engine_errs.ConfigError{
			Key: "data.tableRetention",
			Err: fmt.Errorf("%q is not one of %q or %q", retention, resources.RetainOnDelete, resources.DestroyOnDelete),
		}
	}
	setPtr(&opts.ImageRetentionDays, cfg.Data.ImageRetentionDays)
	return opts, opts.Validate()
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
