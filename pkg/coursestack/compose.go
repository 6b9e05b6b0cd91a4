package coursestack

import (
	"fmt"
	"strings"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/klothoplatform/free-courses-infra/pkg/stack"
	"go.uber.org/zap"
)

// Logical names of the stack's resources. Physical names add the environment prefix.
const (
	NetworkName          = "free-courses-vpc"
	TableName            = "courses-table"
	IndexName            = "category-subcategory-index"
	ExecutionRoleName    = "service-execution-role"
	DataRoleName         = "courses-table-access-role"
	ImagePullRoleName    = "free-courses-image-pull-role"
	InstanceRoleName     = "free-courses-instance-role"
	RepositoryName       = "courses-service"
	LogGroupName         = "free-courses-service"
	PoolName             = "free-courses-cluster-asg"
	CapacityProviderName = "free-courses-capacity-provider"
	ClusterName          = "free-courses-cluster"
	TaskName             = "free-courses-task-definition"
	ContainerName        = "free-courses-container"
	ServiceName          = "free-courses-service"
	TargetGroupName      = "free-courses-target-group"
	LoadBalancerName     = "free-courses-alb"

	// DataRoleEnvVar tells the service which role to assume for table access.
	DataRoleEnvVar = "DYNAMO_DB_ACCESS_ROLE"
	streamPrefix   = "free-courses"
)

type (
	Output struct {
		Name        string
		Description string
		Value       any
	}

	// Stack is the composed resource graph along with handles to its main resources.
	Stack struct {
		Graph   construct.Graph
		Outputs []Output

		Network           *resources.Network
		Table             *resources.DynamodbTable
		Repository        *resources.EcrRepository
		ExecutionIdentity *resources.IamRole
		DataIdentity      *resources.IamRole
		Cluster           *resources.EcsCluster
		Service           *resources.EcsService
		LoadBalancer      *resources.LoadBalancer
	}
)

// Compose builds the free-courses stack for `opts`. Validation of the resulting graph beyond what the
// factories check is left to the caller.
func Compose(opts Options) (*Stack, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	b, err := stack.NewBuilder(stack.Options{
		Environment:  opts.Environment,
		NameTemplate: opts.NameTemplate,
		Tags:         opts.Tags,
	})
	if err != nil {
		return nil, err
	}
	log := zap.S().Named("coursestack")
	log.Debugf("composing stack (env=%q compute=%t lb=%t capacity=%t)",
		opts.Environment, opts.Flags.WithCompute, opts.Flags.WithLoadBalancer, opts.Flags.WithCapacityProvider)

	s := &Stack{}
	if err := s.composeData(b, opts); err != nil {
		return nil, err
	}
	if opts.Flags.WithCompute {
		if err := s.composeCompute(b, opts); err != nil {
			return nil, err
		}
	}

	s.Graph, err = b.Build()
	if err != nil {
		return nil, err
	}
	s.Outputs = s.outputs()
	return s, nil
}

// composeData declares the network, the trust chain, the table and the image repository.
func (s *Stack) composeData(b *stack.Builder, opts Options) (err error) {
	s.Network, err = resources.CreateNetwork(b, resources.NetworkCreateParams{
		Name:           NetworkName,
		CidrBlock:      opts.VpcCidr,
		AzCount:        opts.AzCount,
		SubnetMask:     opts.SubnetMask,
		ExtraEndpoints: opts.ExtraEndpoints,
	})
	if err != nil {
		return err
	}

	s.ExecutionIdentity, err = resources.DefineExecutionIdentity(b, ExecutionRoleName, "ecs-tasks.amazonaws.com")
	if err != nil {
		return err
	}
	s.DataIdentity, err = resources.DefineDataIdentity(b, DataRoleName, s.ExecutionIdentity)
	if err != nil {
		return err
	}

	s.Table, err = resources.CreateTable(b, resources.TableCreateParams{
		Name:         TableName,
		PartitionKey: "id",
		SortKey:      "sortKey",
		Retention:    opts.TableRetention,
	})
	if err != nil {
		return err
	}
	_, err = resources.AddSecondaryIndex(b, s.Table, resources.IndexCreateParams{
		Name:         IndexName,
		PartitionKey: "sortKey",
		SortKey:      "csGsiSk",
	})
	if err != nil {
		return err
	}
	if _, err = resources.GrantTableAccess(b, s.DataIdentity, s.Table); err != nil {
		return err
	}

	var lifecycle []resources.LifecycleRule
	if opts.ImageRetentionDays > 0 {
		lifecycle = append(lifecycle, resources.NonProductionRule(opts.ImageRetentionDays))
	}
	s.Repository, err = resources.CreateRepository(b, resources.RepositoryCreateParams{
		Name:      RepositoryName,
		Lifecycle: lifecycle,
	})
	return err
}

// composeCompute declares the cluster, its capacity, the service and (optionally) the load balancer in front
// of it.
func (s *Stack) composeCompute(b *stack.Builder, opts Options) error {
	logs, err := resources.CreateLogGroup(b, resources.LogGroupCreateParams{
		Name:            LogGroupName,
		RetentionInDays: opts.LogRetention,
	})
	if err != nil {
		return err
	}
	pullRole, err := resources.DefineImagePullIdentity(b, ImagePullRoleName, s.Repository, logs)
	if err != nil {
		return err
	}

	s.Cluster, err = resources.CreateCluster(b, resources.ClusterCreateParams{Name: ClusterName, ContainerInsights: true})
	if err != nil {
		return err
	}

	serviceSg, err := resources.CreateSecurityGroup(b, resources.SecurityGroupCreateParams{
		Name:        ServiceName,
		Description: "Free courses service tasks",
		Network:     s.Network,
	})
	if err != nil {
		return err
	}

	var strategy []resources.StrategyItem
	compatibility, taskMemory := resources.LAUNCH_TYPE_FARGATE, opts.TaskMemory
	if opts.Flags.WithCapacityProvider {
		// on EC2 the container's memory reservation sizes the task
		compatibility, taskMemory = resources.LAUNCH_TYPE_EC2, 0
		profile, err := resources.DefineInstanceIdentity(b, InstanceRoleName)
		if err != nil {
			return err
		}
		pool, err := resources.CreateElasticPool(b, resources.PoolCreateParams{
			Name:              PoolName,
			Subnets:           s.Network.Isolated,
			SecurityGroups:    []*resources.SecurityGroup{serviceSg},
			InstanceType:      opts.InstanceType,
			InstanceProfile:   profile,
			Min:               opts.PoolMin,
			Max:               opts.PoolMax,
			Desired:           opts.PoolDesired,
			ScaleInProtection: opts.ScaleInProtection,
		})
		if err != nil {
			return err
		}
		provider, err := resources.BindCapacityProvider(b, CapacityProviderName, pool)
		if err != nil {
			return err
		}
		strategy = append(strategy, resources.StrategyItem{Provider: provider, Weight: 1})
	}

	image, err := s.Repository.ImageUri(opts.ServiceVersion)
	if err != nil {
		return err
	}
	if v := resources.ImageTagVersion(opts.ServiceVersion); v != nil {
		zap.S().Named("coursestack").Debugf("deploying release %s", v)
	} else if strings.HasPrefix(opts.ServiceVersion, resources.NonProductionTagPrefix) && opts.ImageRetentionDays > 0 {
		zap.S().Named("coursestack").Infof("deploying %s, which expires after %d days", opts.ServiceVersion, opts.ImageRetentionDays)
	}
	task, err := resources.DefineTask(b, resources.TaskCreateParams{
		Name:              TaskName,
		ExecutionIdentity: s.ExecutionIdentity,
		ImagePullIdentity: pullRole,
		Compatibility:     compatibility,
		Cpu:               opts.TaskCpu,
		Memory:            taskMemory,
		Container: resources.ContainerSpec{
			Name:        ContainerName,
			Image:       image,
			HealthProbe: resources.DefaultHealthProbe(opts.ContainerPort),
			Environment: map[string]any{
				DataRoleEnvVar: s.DataIdentity.Arn(),
				"AWS_REGION":   construct.Pseudo{Name: construct.PseudoRegion},
			},
			Cpu:               opts.TaskCpu,
			MemoryReservation: 512,
			LogGroup:          logs,
			StreamPrefix:      streamPrefix,
			PortMappings: []resources.PortMapping{
				{ContainerPort: opts.ContainerPort, HostPort: opts.ContainerPort, Protocol: "tcp"},
			},
		},
	})
	if err != nil {
		return err
	}

	var targets []resources.LoadBalancerTarget
	var tg *resources.TargetGroup
	if opts.Flags.WithLoadBalancer {
		tg, err = resources.CreateTargetGroup(b, resources.TargetGroupCreateParams{
			Name:       TargetGroupName,
			Network:    s.Network,
			Port:       opts.ContainerPort,
			HealthPath: opts.HealthPath,
		})
		if err != nil {
			return err
		}
		targets = append(targets, resources.LoadBalancerTarget{
			TargetGroup:   tg,
			ContainerName: ContainerName,
			ContainerPort: opts.ContainerPort,
		})
	}

	s.Service, err = resources.PlaceService(b, resources.ServiceCreateParams{
		Name:           ServiceName,
		Cluster:        s.Cluster,
		Task:           task,
		Strategy:       strategy,
		DesiredCount:   opts.DesiredCount,
		Subnets:        s.Network.Isolated,
		SecurityGroups: []*resources.SecurityGroup{serviceSg},
		Targets:        targets,
	})
	if err != nil {
		return err
	}

	if !opts.Flags.WithLoadBalancer {
		return nil
	}
	s.LoadBalancer, err = resources.CreateLoadBalancer(b, resources.LoadBalancerCreateParams{
		Name:    LoadBalancerName,
		Network: s.Network,
		Subnets: s.Network.Public,
	})
	if err != nil {
		return err
	}
	_, err = resources.AddListener(b, s.LoadBalancer, resources.ListenerCreateParams{
		Port:                opts.ListenerPort,
		Protocol:            "HTTP",
		DefaultTargetGroups: []*resources.TargetGroup{tg},
		Rules:               opts.ListenerRules,
	})
	if err != nil {
		return err
	}
	return resources.AllowIngress(b, serviceSg, resources.IngressRule{
		FromPort:    opts.ContainerPort,
		ToPort:      opts.ContainerPort,
		Source:      s.LoadBalancer.SecurityGroup,
		Description: fmt.Sprintf("port %d from the load balancer", opts.ContainerPort),
	})
}

func (s *Stack) outputs() []Output {
	outputs := []Output{
		{Name: "TableName", Description: "courses table", Value: s.Table.Ref()},
		{Name: "DataRoleArn", Description: "role holding table access", Value: s.DataIdentity.Arn()},
		{Name: "RepositoryUri", Description: "service image repository", Value: s.Repository.Uri()},
	}
	if s.LoadBalancer != nil {
		outputs = append(outputs, Output{
			Name:        "LoadBalancerDns",
			Description: "public entry point",
			Value:       s.LoadBalancer.DnsName(),
		})
	}
	return outputs
}
