package plan

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/klothoplatform/free-courses-infra/pkg/coursestack"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compose(t *testing.T, modify func(o *coursestack.Options)) construct.Graph {
	t.Helper()
	opts := coursestack.DefaultOptions()
	opts.ServiceVersion = "1.0.3"
	if modify != nil {
		modify(&opts)
	}
	s, err := coursestack.Compose(opts)
	require.NoError(t, err)
	return s.Graph
}

func roundTrip(t *testing.T, g construct.Graph) construct.Graph {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, construct.GraphToYAML(g, buf))
	out := construct.NewGraph()
	require.NoError(t, construct.AddFromYAML(out, buf))
	return out
}

func indexOf(p *Plan, id construct.ResourceId) int {
	for i, c := range p.Changes {
		if c.Resource == id {
			return i
		}
	}
	return -1
}

func awsId(typ, ns, name string) construct.ResourceId {
	return construct.ResourceId{Provider: resources.AWS_PROVIDER, Type: typ, Namespace: ns, Name: name}
}

func TestCompute_FirstApply(t *testing.T) {
	g := compose(t, nil)
	p, err := Compute(g, nil)
	require.NoError(t, err)

	n, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, n, p.Count(ActionCreate))
	assert.Equal(t, n, len(p.Changes))

	vpc := indexOf(p, awsId(resources.VPC_TYPE, "", coursestack.NetworkName))
	subnet := indexOf(p, awsId(resources.SUBNET_TYPE, coursestack.NetworkName, "isolated-0"))
	service := indexOf(p, awsId(resources.ECS_SERVICE_TYPE, "", coursestack.ServiceName))
	listener := indexOf(p, awsId(resources.LISTENER_TYPE, coursestack.LoadBalancerName, "80"))
	assert.Less(t, vpc, subnet)
	assert.Less(t, subnet, service)
	assert.Less(t, listener, service, "service waits for the listener")
}

func TestCompute_Idempotent(t *testing.T) {
	tests := []struct {
		name    string
		variant coursestack.Variant
	}{
		{name: "full", variant: coursestack.VariantFull},
		{name: "no edge", variant: coursestack.VariantNoEdge},
		{name: "data only", variant: coursestack.VariantDataOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modify := func(o *coursestack.Options) {
				o.Flags, _ = tt.variant.Flags()
			}
			recorded := roundTrip(t, compose(t, modify))
			p, err := Compute(compose(t, modify), recorded)
			require.NoError(t, err)
			assert.True(t, p.Empty(), "unexpected changes: %+v", p.Changes)
		})
	}
}

func TestCompute_Update(t *testing.T) {
	recorded := roundTrip(t, compose(t, nil))
	desired := compose(t, func(o *coursestack.Options) { o.DesiredCount = 2 })

	p, err := Compute(desired, recorded)
	require.NoError(t, err)
	require.Len(t, p.Changes, 1)
	c := p.Changes[0]
	assert.Equal(t, ActionUpdate, c.Action)
	assert.Equal(t, awsId(resources.ECS_SERVICE_TYPE, "", coursestack.ServiceName), c.Resource)
	assert.Equal(t, []AttributeChange{{Path: "DesiredCount", From: 1, To: 2}}, c.Attributes)
}

func TestCompute_RemovesDisabledGroups(t *testing.T) {
	recorded := roundTrip(t, compose(t, nil))
	desired := compose(t, func(o *coursestack.Options) { o.Flags, _ = coursestack.VariantDataOnly.Flags() })

	p, err := Compute(desired, recorded)
	require.NoError(t, err)
	assert.Zero(t, p.Count(ActionCreate))
	assert.Positive(t, p.Count(ActionDelete))

	service := indexOf(p, awsId(resources.ECS_SERVICE_TYPE, "", coursestack.ServiceName))
	cluster := indexOf(p, awsId(resources.ECS_CLUSTER_TYPE, "", coursestack.ClusterName))
	require.NotEqual(t, -1, service)
	assert.Less(t, service, cluster, "dependents are deleted first")
	assert.Equal(t, -1, indexOf(p, awsId(resources.DYNAMODB_TABLE_TYPE, "", coursestack.TableName)))
}

func TestDestroy(t *testing.T) {
	tests := []struct {
		name      string
		retention resources.RetentionPolicy
		want      Action
	}{
		{name: "retained table", retention: resources.RetainOnDelete, want: ActionRetain},
		{name: "deleted table", retention: resources.DestroyOnDelete, want: ActionDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorded := roundTrip(t, compose(t, func(o *coursestack.Options) { o.TableRetention = tt.retention }))
			p, err := Destroy(recorded)
			require.NoError(t, err)

			n, err := recorded.Order()
			require.NoError(t, err)
			assert.Len(t, p.Changes, n)

			table := indexOf(p, awsId(resources.DYNAMODB_TABLE_TYPE, "", coursestack.TableName))
			require.NotEqual(t, -1, table)
			assert.Equal(t, tt.want, p.Changes[table].Action)

			for _, role := range []string{
				coursestack.ExecutionRoleName,
				coursestack.DataRoleName,
				coursestack.ImagePullRoleName,
				coursestack.InstanceRoleName,
			} {
				i := indexOf(p, awsId(resources.IAM_ROLE_TYPE, "", role))
				require.NotEqual(t, -1, i, role)
				assert.Equal(t, ActionDelete, p.Changes[i].Action, role)
			}
		})
	}
}

func TestDestroy_Empty(t *testing.T) {
	p, err := Destroy(nil)
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestPlan_Render(t *testing.T) {
	color.NoColor = true
	table := awsId(resources.DYNAMODB_TABLE_TYPE, "", "courses-table")
	svc := awsId(resources.ECS_SERVICE_TYPE, "", "svc")
	p := &Plan{Changes: []Change{
		{Resource: svc, Action: ActionUpdate, Attributes: []AttributeChange{{Path: "DesiredCount", From: 1, To: 2}}},
		{Resource: table, Action: ActionRetain},
	}}

	buf := new(strings.Builder)
	require.NoError(t, p.Render(buf))
	assert.Equal(t, strings.Join([]string{
		"~ aws:ecs_service:svc",
		"    DesiredCount: 1 -> 2",
		"= aws:dynamodb_table:courses-table (retained, not deleted)",
		"",
		"0 to create, 1 to update, 0 to delete, 1 to retain",
		"",
	}, "\n"), buf.String())

	buf.Reset()
	require.NoError(t, (&Plan{}).Render(buf))
	assert.Equal(t, "No changes.\n", buf.String())
}
