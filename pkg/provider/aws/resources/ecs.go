package resources

import (
	"fmt"
	"sort"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization/aws"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
)

const (
	LAUNCH_TYPE_EC2     = "EC2"
	LAUNCH_TYPE_FARGATE = "FARGATE"
	NETWORK_MODE_AWSVPC = "awsvpc"
)

type (
	EcsCluster struct {
		ID   construct.ResourceId
		Name string
	}

	CapacityProvider struct {
		ID   construct.ResourceId
		Name string
		Pool *ElasticPool
	}

	EcsTaskDefinition struct {
		ID            construct.ResourceId
		Family        string
		Compatibility string
		Container     ContainerSpec
	}

	EcsService struct {
		ID      construct.ResourceId
		Name    string
		Cluster *EcsCluster
		Task    *EcsTaskDefinition
	}

	// HealthProbe is a container health check. Durations are in seconds.
	HealthProbe struct {
		Command     []string
		Interval    int
		Timeout     int
		Retries     int
		StartPeriod int
	}

	PortMapping struct {
		ContainerPort int
		HostPort      int
		Protocol      string
	}

	ContainerSpec struct {
		Name              string
		Image             any
		HealthProbe       *HealthProbe
		Environment       map[string]any
		Cpu               int
		MemoryReservation int
		LogGroup          *LogGroup
		StreamPrefix      string
		PortMappings      []PortMapping
	}

	ClusterCreateParams struct {
		Name              string
		ContainerInsights bool
	}

	TaskCreateParams struct {
		Name string
		// ExecutionIdentity is the role the application runs as (the task role).
		ExecutionIdentity *IamRole
		// ImagePullIdentity is the role the agent uses to pull the image and ship logs.
		ImagePullIdentity *IamRole
		// Compatibility is LAUNCH_TYPE_EC2 or LAUNCH_TYPE_FARGATE.
		Compatibility string
		Cpu           int
		Memory        int
		Container     ContainerSpec
	}

	StrategyItem struct {
		Provider *CapacityProvider
		Weight   int
		Base     int
	}

	LoadBalancerTarget struct {
		TargetGroup   *TargetGroup
		ContainerName string
		ContainerPort int
	}

	ServiceCreateParams struct {
		Name    string
		Cluster *EcsCluster
		Task    *EcsTaskDefinition
		// Strategy places tasks on capacity providers. When empty, tasks run on Fargate.
		Strategy []StrategyItem
		// DesiredCount of 0 means 1.
		DesiredCount   int
		Subnets        []*Subnet
		SecurityGroups []*SecurityGroup
		Targets        []LoadBalancerTarget
	}
)

func (c *EcsCluster) Ref() construct.Ref {
	return construct.RefOf(c.ID)
}

func (cp *CapacityProvider) Ref() construct.Ref {
	return construct.RefOf(cp.ID)
}

// DefaultHealthProbe checks the actuator health endpoint on `port`.
func DefaultHealthProbe(port int) *HealthProbe {
	return &HealthProbe{
		Command:     []string{"CMD-SHELL", fmt.Sprintf("curl -f http://localhost:%d/actuator/health || exit 1", port)},
		Interval:    30,
		Timeout:     3,
		Retries:     5,
		StartPeriod: 180,
	}
}

// Validate checks the probe can ever report healthy.
func (p *HealthProbe) Validate(task construct.ResourceId) error {
	var err error
	fail := func(attr, reason string) {
		err = engine_errs.ValidationError{Resource: task, Attribute: "HealthCheck." + attr, Reason: reason}
	}
	switch {
	case len(p.Command) == 0:
		fail("Command", "is required")
	case p.Retries < 1:
		fail("Retries", "must be at least 1")
	case p.StartPeriod <= 0:
		fail("StartPeriod", "must be positive")
	case p.Interval <= p.Timeout:
		fail("Interval", fmt.Sprintf("%ds must be longer than the timeout %ds", p.Interval, p.Timeout))
	}
	return err
}

func (p *HealthProbe) properties() map[string]any {
	command := make([]any, len(p.Command))
	for i, c := range p.Command {
		command[i] = c
	}
	return map[string]any{
		"Command":     command,
		"Interval":    p.Interval,
		"Timeout":     p.Timeout,
		"Retries":     p.Retries,
		"StartPeriod": p.StartPeriod,
	}
}

// CreateCluster declares a cluster. Capacity is bound to it when a service is placed.
func CreateCluster(b *stack.Builder, params ClusterCreateParams) (*EcsCluster, error) {
	cluster := &EcsCluster{
		ID:   id(ECS_CLUSTER_TYPE, params.Name),
		Name: b.PhysicalName(aws.EcsClusterSanitizer, params.Name),
	}
	insights := "disabled"
	if params.ContainerInsights {
		insights = "enabled"
	}
	r := construct.CreateResource(cluster.ID)
	r.Properties = construct.Properties{
		"ClusterName":     cluster.Name,
		"ClusterSettings": []any{map[string]any{"Name": "containerInsights", "Value": insights}},
		"Tags":            b.Tags(cluster.Name),
	}
	return cluster, b.Add(r)
}

// BindCapacityProvider declares a capacity provider that scales `pool` to fit the tasks placed on it.
func BindCapacityProvider(b *stack.Builder, name string, pool *ElasticPool) (*CapacityProvider, error) {
	if pool == nil {
		return nil, undeclared(id(ECS_CAPACITY_PROVIDER_TYPE, name), "AutoScalingGroupProvider", "pool")
	}
	cp := &CapacityProvider{
		ID:   id(ECS_CAPACITY_PROVIDER_TYPE, name),
		Name: b.PhysicalName(aws.EcsCapacityProviderSanitizer, name),
		Pool: pool,
	}
	// termination protection requires scale-in protection on the group
	termination := "DISABLED"
	if pool.ScaleInProtection {
		termination = "ENABLED"
	}
	r := construct.CreateResource(cp.ID)
	r.Properties = construct.Properties{
		"Name": cp.Name,
		"AutoScalingGroupProvider": map[string]any{
			"AutoScalingGroupArn": pool.Group.Ref(),
			"ManagedScaling": map[string]any{
				"Status":         "ENABLED",
				"TargetCapacity": 100,
			},
			"ManagedTerminationProtection": termination,
		},
		"Tags": b.Tags(cp.Name),
	}
	return cp, b.Add(r)
}

// DefineTask declares a single-container task definition using awsvpc networking.
func DefineTask(b *stack.Builder, params TaskCreateParams) (*EcsTaskDefinition, error) {
	task := &EcsTaskDefinition{
		ID:            id(ECS_TASK_DEFINITION_TYPE, params.Name),
		Family:        b.PhysicalName(aws.EcsTaskDefinitionSanitizer, params.Name),
		Compatibility: params.Compatibility,
		Container:     params.Container,
	}
	if task.Compatibility == "" {
		task.Compatibility = LAUNCH_TYPE_EC2
	}
	if params.ExecutionIdentity == nil || params.ExecutionIdentity.Kind != ExecutionIdentity {
		return nil, engine_errs.ValidationError{Resource: task.ID, Attribute: "TaskRoleArn", Reason: "must be an execution identity"}
	}
	if params.Container.Image == nil {
		return nil, engine_errs.ValidationError{Resource: task.ID, Attribute: "ContainerDefinitions.Image", Reason: "is required"}
	}
	if probe := params.Container.HealthProbe; probe != nil {
		if err := probe.Validate(task.ID); err != nil {
			return nil, err
		}
	}

	r := construct.CreateResource(task.ID)
	r.Properties = construct.Properties{
		"Family":                  task.Family,
		"NetworkMode":             NETWORK_MODE_AWSVPC,
		"RequiresCompatibilities": []any{task.Compatibility},
		"TaskRoleArn":             params.ExecutionIdentity.Arn(),
		"ContainerDefinitions":    []any{containerDefinition(params.Container)},
		"Tags":                    b.Tags(task.Family),
	}
	if params.ImagePullIdentity != nil {
		r.Properties["ExecutionRoleArn"] = params.ImagePullIdentity.Arn()
	}
	if params.Cpu > 0 {
		r.Properties["Cpu"] = fmt.Sprint(params.Cpu)
	}
	if params.Memory > 0 {
		r.Properties["Memory"] = fmt.Sprint(params.Memory)
	}
	return task, b.Add(r)
}

func containerDefinition(c ContainerSpec) map[string]any {
	def := map[string]any{
		"Name":      c.Name,
		"Image":     c.Image,
		"Essential": true,
	}
	if c.Cpu > 0 {
		def["Cpu"] = c.Cpu
	}
	if c.MemoryReservation > 0 {
		def["MemoryReservation"] = c.MemoryReservation
	}
	if c.HealthProbe != nil {
		def["HealthCheck"] = c.HealthProbe.properties()
	}
	if len(c.Environment) > 0 {
		values := make(map[string]any, len(c.Environment))
		keys := make([]string, 0, len(c.Environment))
		for k, v := range c.Environment {
			key := sanitization.EnvVarKeySanitizer.Apply(k)
			keys = append(keys, key)
			values[key] = v
		}
		sort.Strings(keys)
		env := make([]any, len(keys))
		for i, k := range keys {
			env[i] = map[string]any{"Name": k, "Value": values[k]}
		}
		def["Environment"] = env
	}
	if len(c.PortMappings) > 0 {
		mappings := make([]any, len(c.PortMappings))
		for i, pm := range c.PortMappings {
			protocol := pm.Protocol
			if protocol == "" {
				protocol = "tcp"
			}
			mappings[i] = map[string]any{
				"ContainerPort": pm.ContainerPort,
				"HostPort":      pm.HostPort,
				"Protocol":      protocol,
			}
		}
		def["PortMappings"] = mappings
	}
	if c.LogGroup != nil {
		def["LogConfiguration"] = map[string]any{
			"LogDriver": "awslogs",
			"Options": map[string]any{
				"awslogs-group":         c.LogGroup.Ref(),
				"awslogs-region":        construct.Pseudo{Name: construct.PseudoRegion},
				"awslogs-stream-prefix": c.StreamPrefix,
			},
		}
	}
	return def
}

// PlaceService declares a service running `Task` in `Cluster`. Every capacity provider in the strategy is
// associated with the cluster, and its pool is bootstrapped to join the cluster.
func PlaceService(b *stack.Builder, params ServiceCreateParams) (*EcsService, error) {
	svc := &EcsService{
		ID:      id(ECS_SERVICE_TYPE, params.Name),
		Name:    b.PhysicalName(aws.EcsServiceSanitizer, params.Name),
		Cluster: params.Cluster,
		Task:    params.Task,
	}
	switch {
	case params.Cluster == nil:
		return nil, undeclared(svc.ID, "Cluster", "cluster")
	case params.Task == nil:
		return nil, undeclared(svc.ID, "TaskDefinition", "task definition")
	case len(params.Subnets) == 0:
		return nil, engine_errs.ValidationError{Resource: svc.ID, Attribute: "NetworkConfiguration", Reason: "requires at least one subnet"}
	}
	for _, target := range params.Targets {
		if target.TargetGroup == nil {
			return nil, undeclared(svc.ID, "LoadBalancers", "target group")
		}
	}
	desired := params.DesiredCount
	if desired == 0 {
		desired = 1
	}

	r := construct.CreateResource(svc.ID)
	r.Properties = construct.Properties{
		"ServiceName":    svc.Name,
		"Cluster":        params.Cluster.Ref(),
		"TaskDefinition": construct.RefOf(params.Task.ID),
		"DesiredCount":   desired,
		"NetworkConfiguration": map[string]any{
			"AwsvpcConfiguration": map[string]any{
				"AssignPublicIp": "DISABLED",
				"Subnets":        refs(params.Subnets),
				"SecurityGroups": refs(params.SecurityGroups),
			},
		},
		"Tags": b.Tags(svc.Name),
	}
	dependOnEndpoints(r, params.Subnets)

	if len(params.Strategy) == 0 {
		r.Properties["LaunchType"] = LAUNCH_TYPE_FARGATE
	} else {
		associations, err := associateCapacityProviders(b, params.Cluster, params.Strategy)
		if err != nil {
			return nil, err
		}
		strategy := make([]any, len(params.Strategy))
		for i, item := range params.Strategy {
			entry := map[string]any{
				"CapacityProvider": item.Provider.Ref(),
				"Weight":           item.Weight,
			}
			if item.Base > 0 {
				entry["Base"] = item.Base
			}
			strategy[i] = entry
		}
		r.Properties["CapacityProviderStrategy"] = strategy
		// the cluster must know the providers before the service uses them
		r.AddExplicitDependency(associations)
	}

	for _, target := range params.Targets {
		if err := r.AppendProperty("LoadBalancers", map[string]any{
			"ContainerName":  target.ContainerName,
			"ContainerPort":  target.ContainerPort,
			"TargetGroupArn": target.TargetGroup.Ref(),
		}); err != nil {
			return nil, err
		}
	}
	if len(params.Targets) > 0 && params.Task.Container.HealthProbe != nil {
		r.Properties["HealthCheckGracePeriodSeconds"] = params.Task.Container.HealthProbe.StartPeriod
	}
	return svc, b.Add(r)
}

// associateCapacityProviders creates or extends the cluster's provider associations and returns their id.
func associateCapacityProviders(b *stack.Builder, cluster *EcsCluster, strategy []StrategyItem) (construct.ResourceId, error) {
	assocId := id(ECS_CLUSTER_ASSOCIATIONS_TYPE, cluster.ID.Name)
	if _, ok := b.Resource(assocId); !ok {
		r := construct.CreateResource(assocId)
		r.Properties = construct.Properties{
			"Cluster":                         cluster.Ref(),
			"CapacityProviders":               []any{},
			"DefaultCapacityProviderStrategy": []any{},
		}
		if err := b.Add(r); err != nil {
			return assocId, err
		}
	}
	for _, item := range strategy {
		if item.Provider == nil {
			return assocId, engine_errs.ValidationError{Resource: assocId, Attribute: "CapacityProviders", Reason: "strategy item has no provider"}
		}
		err := b.Update(assocId, func(r *construct.Resource) error {
			ref := item.Provider.Ref()
			current, _ := r.Properties["CapacityProviders"].([]any)
			for _, existing := range current {
				if existing == ref {
					return nil
				}
			}
			if err := r.AppendProperty("CapacityProviders", ref); err != nil {
				return err
			}
			return r.AppendProperty("DefaultCapacityProviderStrategy", map[string]any{
				"CapacityProvider": ref,
				"Weight":           item.Weight,
			})
		})
		if err != nil {
			return assocId, err
		}
		if err := item.Provider.Pool.joinCluster(b, cluster); err != nil {
			return assocId, err
		}
	}
	return assocId, nil
}
