package coursestack

import (
	"errors"
	"testing"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullOptions() Options {
	opts := DefaultOptions()
	opts.ServiceVersion = "1.0.3"
	return opts
}

func vertex(t *testing.T, g construct.Graph, typ, name string) *construct.Resource {
	t.Helper()
	r, err := g.Vertex(construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: typ, Name: name})
	require.NoError(t, err, "%s %s", typ, name)
	return r
}

func TestCompose_Full(t *testing.T) {
	assert := assert.New(t)
	s, err := Compose(fullOptions())
	require.NoError(t, err)
	g := s.Graph

	task := vertex(t, g, resources.ECS_TASK_DEFINITION_TYPE, TaskName)
	container := task.Properties["ContainerDefinitions"].([]any)[0].(map[string]any)
	assert.Equal(construct.Join{Parts: []any{s.Repository.Uri(), ":1.0.3"}}, container["Image"])
	assert.Equal([]any{map[string]any{"ContainerPort": 8080, "HostPort": 8080, "Protocol": "tcp"}}, container["PortMappings"])
	assert.Contains(container["Environment"], map[string]any{"Name": DataRoleEnvVar, "Value": s.DataIdentity.Arn()})

	repo := vertex(t, g, resources.ECR_REPO_TYPE, RepositoryName)
	assert.Equal("courses-service", repo.Properties["RepositoryName"])

	tg := vertex(t, g, resources.TARGET_GROUP_TYPE, TargetGroupName)
	assert.Equal(8080, tg.Properties["Port"])

	listener, err := g.Vertex(construct.ResourceId{
		Provider:  resources.AWS_PROVIDER,
		Type:      resources.LISTENER_TYPE,
		Namespace: LoadBalancerName,
		Name:      "80",
	})
	require.NoError(t, err)
	assert.Equal(80, listener.Properties["Port"])

	svc := vertex(t, g, resources.ECS_SERVICE_TYPE, ServiceName)
	assert.Equal(1, svc.Properties["DesiredCount"])
	assert.Len(svc.Properties["CapacityProviderStrategy"], 1)

	sg := vertex(t, g, resources.SECURITY_GROUP_TYPE, ServiceName)
	assert.Equal([]any{map[string]any{
		"IpProtocol":            "tcp",
		"FromPort":              8080,
		"ToPort":                8080,
		"SourceSecurityGroupId": s.LoadBalancer.SecurityGroup.Ref(),
		"Description":           "port 8080 from the load balancer",
	}}, sg.Properties["SecurityGroupIngress"])

	asg := vertex(t, g, resources.AUTO_SCALING_GROUP_TYPE, PoolName)
	assert.Equal("1", asg.Properties["MinSize"])
	assert.Equal("2", asg.Properties["MaxSize"])

	// hosts and tasks land in isolated subnets only after their endpoints exist
	for _, placed := range []construct.ResourceId{asg.ID, svc.ID} {
		deps, err := construct.AllDependencies(g, placed)
		require.NoError(t, err)
		for _, svcName := range resources.RequiredEndpoints {
			assert.Contains(deps, construct.ResourceId{
				Provider:  resources.AWS_PROVIDER,
				Type:      resources.VPC_ENDPOINT_TYPE,
				Namespace: NetworkName,
				Name:      svcName,
			}, "%s", placed)
		}
	}

	roles, err := construct.ResourcesOfType(g, construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: resources.IAM_ROLE_TYPE})
	require.NoError(t, err)
	assert.Len(roles, 4)

	var outputs []string
	for _, o := range s.Outputs {
		outputs = append(outputs, o.Name)
	}
	assert.Equal([]string{"TableName", "DataRoleArn", "RepositoryUri", "LoadBalancerDns"}, outputs)
}

func TestCompose_Variants(t *testing.T) {
	tests := []struct {
		variant Variant
		present []string
		absent  []string
		roles   int
	}{
		{
			variant: VariantFull,
			present: []string{resources.LOAD_BALANCER_TYPE, resources.ECS_CAPACITY_PROVIDER_TYPE, resources.ECS_SERVICE_TYPE},
			roles:   4,
		},
		{
			variant: VariantNoEdge,
			present: []string{resources.ECS_CAPACITY_PROVIDER_TYPE, resources.ECS_SERVICE_TYPE},
			absent:  []string{resources.LOAD_BALANCER_TYPE, resources.TARGET_GROUP_TYPE, resources.LISTENER_TYPE},
			roles:   4,
		},
		{
			variant: VariantDataOnly,
			present: []string{resources.DYNAMODB_TABLE_TYPE, resources.VPC_ENDPOINT_TYPE},
			absent:  []string{resources.ECS_CLUSTER_TYPE, resources.ECS_SERVICE_TYPE, resources.AUTO_SCALING_GROUP_TYPE},
			roles:   2,
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.variant), func(t *testing.T) {
			opts := fullOptions()
			flags, err := tt.variant.Flags()
			require.NoError(t, err)
			opts.Flags = flags

			s, err := Compose(opts)
			require.NoError(t, err)
			for _, typ := range tt.present {
				rs, err := construct.ResourcesOfType(s.Graph, construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: typ})
				require.NoError(t, err)
				assert.NotEmpty(t, rs, typ)
			}
			for _, typ := range tt.absent {
				rs, err := construct.ResourcesOfType(s.Graph, construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: typ})
				require.NoError(t, err)
				assert.Empty(t, rs, typ)
			}
			roles, err := construct.ResourcesOfType(s.Graph, construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: resources.IAM_ROLE_TYPE})
			require.NoError(t, err)
			assert.Len(t, roles, tt.roles)
		})
	}
}

func TestCompose_FargateWithoutCapacityProvider(t *testing.T) {
	opts := fullOptions()
	opts.Flags.WithCapacityProvider = false
	s, err := Compose(opts)
	require.NoError(t, err)

	svc := vertex(t, s.Graph, resources.ECS_SERVICE_TYPE, ServiceName)
	assert.Equal(t, resources.LAUNCH_TYPE_FARGATE, svc.Properties["LaunchType"])
	task := vertex(t, s.Graph, resources.ECS_TASK_DEFINITION_TYPE, TaskName)
	assert.Equal(t, "2048", task.Properties["Memory"])
}

func TestCompose_EnvironmentPrefix(t *testing.T) {
	opts := fullOptions()
	opts.Environment = "staging"
	s, err := Compose(opts)
	require.NoError(t, err)

	rs, err := construct.ListResources(s.Graph)
	require.NoError(t, err)
	for _, r := range rs {
		name, ok := resources.PhysicalName(r)
		if !ok {
			continue
		}
		assert.Regexp(t, "^staging-", name, "resource %s", r.ID)
	}
}

func TestCompose_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *Options)
		key    string
	}{
		{name: "load balancer without compute", modify: func(o *Options) { o.Flags.WithCompute = false }, key: "withLoadBalancer"},
		{name: "bad version", modify: func(o *Options) { o.ServiceVersion = "v latest" }, key: "serviceVersion"},
		{name: "missing version", modify: func(o *Options) { o.ServiceVersion = "" }, key: "serviceVersion"},
		{name: "bad port", modify: func(o *Options) { o.ContainerPort = 0 }, key: "containerPort"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := fullOptions()
			tt.modify(&opts)
			_, err := Compose(opts)
			var cerr engine_errs.ConfigError
			require.True(t, errors.As(err, &cerr), "expected config error, got %v", err)
			assert.Equal(t, tt.key, cerr.Key)
		})
	}
}

func TestCompose_SubnetExhaustion(t *testing.T) {
	opts := fullOptions()
	opts.AzCount = 3
	_, err := Compose(opts)
	var verr engine_errs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "CidrBlock", verr.Attribute)
}

func TestVariant_Unknown(t *testing.T) {
	_, err := Variant("minimal").Flags()
	assert.Error(t, err)
}
