package dot

import (
	"errors"
	"fmt"
	"io"
	"sort"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
)

const (
	retainedColour = "#3f822b"
	defaultColour  = "#4a6fa5"
)

func resourceAttributes(r *construct.Resource) map[string]string {
	a := map[string]string{
		"label": fmt.Sprintf(`%s\n%s`, r.ID.QualifiedTypeName(), r.ID.Name),
		"shape": "box",
		"color": defaultColour,
	}
	if r.Retained() {
		a["color"] = retainedColour
		a["style"] = "bold"
	}
	return a
}

// WriteGraph writes `g` in DOT format. Resources sharing a namespace are drawn in one cluster and edges point
// from a resource to what it depends on.
func WriteGraph(g construct.Graph, out io.Writer) error {
	var errs error
	printf := func(s string, args ...any) {
		_, err := fmt.Fprintf(out, s, args...)
		errs = errors.Join(errs, err)
	}

	adj, err := g.AdjacencyMap()
	if err != nil {
		return err
	}
	byNamespace := make(map[string][]construct.ResourceId)
	for id := range adj {
		byNamespace[id.Namespace] = append(byNamespace[id.Namespace], id)
	}
	namespaces := make([]string, 0, len(byNamespace))
	for ns, ids := range byNamespace {
		namespaces = append(namespaces, ns)
		sort.Slice(ids, func(i, j int) bool { return construct.ResourceIdLess(ids[i], ids[j]) })
	}
	sort.Strings(namespaces)

	printf("digraph {\n  rankdir = BT\n")
	for i, ns := range namespaces {
		indent := "  "
		if ns != "" {
			printf("  subgraph cluster_%d {\n    label = %q\n", i, ns)
			indent = "    "
		}
		for _, id := range byNamespace[ns] {
			r, err := g.Vertex(id)
			if err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			printf("%s%q%s\n", indent, id.String(), AttributesToString(resourceAttributes(r)))
		}
		if ns != "" {
			printf("  }\n")
		}
	}

	sources := make([]construct.ResourceId, 0, len(adj))
	for src := range adj {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return construct.ResourceIdLess(sources[i], sources[j]) })
	for _, src := range sources {
		targets := make([]construct.ResourceId, 0, len(adj[src]))
		for tgt := range adj[src] {
			targets = append(targets, tgt)
		}
		sort.Slice(targets, func(i, j int) bool { return construct.ResourceIdLess(targets[i], targets[j]) })
		for _, tgt := range targets {
			printf("  %q -> %q\n", src.String(), tgt.String())
		}
	}
	printf("}\n")
	return errs
}
