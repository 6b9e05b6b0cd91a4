package dot

import (
	"bytes"
	"strings"
	"testing"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteGraph(t *testing.T) {
	g := construct.NewGraph()
	vpc := &construct.Resource{ID: construct.ResourceId{Provider: "aws", Type: "vpc", Name: "net"}}
	subnet := &construct.Resource{ID: construct.ResourceId{Provider: "aws", Type: "subnet", Namespace: "net", Name: "private-0"}}
	table := &construct.Resource{
		ID:   construct.ResourceId{Provider: "aws", Type: "dynamodb_table", Name: "courses"},
		Meta: construct.Properties{construct.MetaDeletionPolicy: "Retain"},
	}
	for _, r := range []*construct.Resource{vpc, subnet, table} {
		require.NoError(t, g.AddVertex(r))
	}
	require.NoError(t, g.AddEdge(subnet.ID, vpc.ID))

	buf := new(bytes.Buffer)
	require.NoError(t, WriteGraph(g, buf))

	want := strings.TrimPrefix(dedent.Dedent(`
		digraph {
		  rankdir = BT
		  "aws:dynamodb_table:courses" [color="#3f822b", label="aws:dynamodb_table\ncourses", shape="box", style="bold"]
		  "aws:vpc:net" [color="#4a6fa5", label="aws:vpc\nnet", shape="box"]
		  subgraph cluster_1 {
		    label = "net"
		    "aws:subnet:net:private-0" [color="#4a6fa5", label="aws:subnet\nprivate-0", shape="box"]
		  }
		  "aws:subnet:net:private-0" -> "aws:vpc:net"
		}
	`), "\n")
	assert.Equal(t, want, buf.String())
}

func TestPannable(t *testing.T) {
	svg := `<svg width="62pt" height="44pt" viewBox="0.00 0.00 62.00 44.00"><g id="graph0" class="graph"><title>a &; b</title></g></svg>`

	got := pannable(svg)
	assert.True(t, strings.HasPrefix(got, `<svg width="100%" height="100%"><script type="text/ecmascript">`))
	assert.Contains(t, got, `<g id="viewport" transform="scale(0.5,0.5) translate(0,0)"><g id="graph0" class="graph">`)
	assert.Contains(t, got, "a &amp;; b")
	assert.True(t, strings.HasSuffix(got, `</g></g></svg>`))

	assert.Equal(t, "<svg></svg>", pannable("<svg></svg>"))
}
