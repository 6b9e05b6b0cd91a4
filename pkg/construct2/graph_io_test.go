package construct2

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphToYAML(t *testing.T) {
	g := NewGraph()
	role := CreateResource(testRole)
	role.SetProperty("RoleName", "exec")
	require.NoError(t, g.AddVertex(role))

	task := CreateResource(testTask)
	task.SetProperty("TaskRoleArn", AttrOf(testRole, "Arn"))
	require.NoError(t, g.AddVertex(task))
	_, err := LinkReferences(g, task)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, GraphToYAML(g, buf))

	assert.Equal(t, strings.TrimPrefix(dedent.Dedent(`
		resources:
		  aws:ecs_task_definition:task:
		    properties:
		      TaskRoleArn: !ref aws:iam_role:exec#Arn
		  aws:iam_role:exec:
		    properties:
		      RoleName: exec
		edges:
		  - aws:ecs_task_definition:task -> aws:iam_role:exec
		`), "\n"), buf.String())
}

func TestGraphYAMLRoundTrip(t *testing.T) {
	table := ResourceId{Provider: "aws", Type: "dynamodb_table", Name: "courses"}
	template := ResourceId{Provider: "aws", Type: "launch_template", Name: "pool"}

	g := NewGraph()
	tbl := CreateResource(table)
	tbl.Properties = Properties{
		"TableName": "dev-courses-table",
		"KeySchema": []any{
			map[string]any{"AttributeName": "id", "KeyType": "HASH"},
		},
	}
	tbl.Meta = Properties{MetaDeletionPolicy: "Retain"}
	require.NoError(t, g.AddVertex(tbl))
	require.NoError(t, g.AddVertex(CreateResource(testCluster)))

	lt := CreateResource(template)
	lt.Properties = Properties{
		"Port":             8080,
		"AvailabilityZone": AZ{Index: 1},
		"Region":           Pseudo{Name: PseudoRegion},
		"UserData": Base64{Value: Join{
			Delimiter: "",
			Parts:     []any{"ECS_CLUSTER=", RefOf(testCluster), "\n"},
		}},
		"Resources": []any{AttrOf(table, "Arn")},
	}
	lt.AddExplicitDependency(table)
	require.NoError(t, g.AddVertex(lt))
	_, err := LinkReferences(g, lt)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, GraphToYAML(g, buf))

	read := NewGraph()
	require.NoError(t, AddFromYAML(read, buf))

	want, err := String(g)
	require.NoError(t, err)
	got, err := String(read)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	for _, id := range []ResourceId{table, template, testCluster} {
		expect, err := g.Vertex(id)
		require.NoError(t, err)
		actual, err := read.Vertex(id)
		require.NoError(t, err)
		assert.Equal(t, expect.Properties, actual.Properties, id.String())
		assert.Equal(t, expect.Meta, actual.Meta, id.String())
	}

	h1, err := Hash(g)
	require.NoError(t, err)
	h2, err := Hash(read)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestAddFromYAML_Empty(t *testing.T) {
	g := NewGraph()
	require.NoError(t, AddFromYAML(g, strings.NewReader("")))
	order, err := g.Order()
	require.NoError(t, err)
	assert.Zero(t, order)
}

func TestAddFromYAML_BadEdge(t *testing.T) {
	g := NewGraph()
	err := AddFromYAML(g, strings.NewReader(dedent.Dedent(`
		resources:
		  aws:vpc:network:
		edges:
		  - aws:vpc:network => aws:subnet:a
		`)))
	assert.Error(t, err)
}
