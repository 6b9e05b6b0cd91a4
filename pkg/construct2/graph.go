package construct2

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"
)

type (
	Graph = graph.Graph[ResourceId, *Resource]
	Edge  = graph.Edge[ResourceId]
)

func NewGraph() Graph {
	return Graph(graph.New(
		func(r *Resource) ResourceId {
			return r.ID
		},
		graph.Directed(),
		graph.Acyclic(),
		graph.PreventCycles(),
	))
}

// AddDependency adds `source -> target` (source depends on target), ignoring edges that already exist.
func AddDependency(g Graph, source, target ResourceId) error {
	err := g.AddEdge(source, target)
	if errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not add dependency %s -> %s: %w", source, target, err)
	}
	return nil
}

// LinkReferences adds an edge from `r` to every resource referenced by its properties or explicit
// dependencies. Returns the references whose targets are missing from the graph.
func LinkReferences(g Graph, r *Resource) (dangling []Ref, err error) {
	targets := make(map[ResourceId]Ref)
	for _, ref := range r.References() {
		if _, ok := targets[ref.Resource]; !ok {
			targets[ref.Resource] = ref
		}
	}
	explicit, err := r.ExplicitDependencies()
	if err != nil {
		return nil, err
	}
	for _, id := range explicit {
		if _, ok := targets[id]; !ok {
			targets[id] = Ref{Resource: id}
		}
	}

	ids := make([]ResourceId, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Sort(sortedIds(ids))

	for _, id := range ids {
		if id == r.ID {
			err = errors.Join(err, fmt.Errorf("resource %s references itself", r.ID))
			continue
		}
		if _, verr := g.Vertex(id); errors.Is(verr, graph.ErrVertexNotFound) {
			dangling = append(dangling, targets[id])
			continue
		}
		err = errors.Join(err, AddDependency(g, r.ID, id))
	}
	return dangling, err
}

func Hash(g Graph) ([]byte, error) {
	sum := sha256.New()
	err := GraphToYAML(g, sum)
	return sum.Sum(nil), err
}

func String(g Graph) (string, error) {
	w := new(strings.Builder)
	err := stringTo(g, w)
	return w.String(), err
}

func stringTo(g Graph, w io.Writer) error {
	topo, err := TopologicalSort(g)
	if err != nil {
		return err
	}
	adjacent, err := g.AdjacencyMap()
	if err != nil {
		return err
	}

	for _, id := range topo {
		_, err := fmt.Fprintf(w, "%s\n", id)
		if err != nil {
			return err
		}

		targets := make([]ResourceId, 0, len(adjacent[id]))
		for t := range adjacent[id] {
			targets = append(targets, t)
		}
		sort.Sort(sortedIds(targets))

		for _, t := range targets {
			// Adjacent edges always have `id` as the source, so just write the target.
			_, err := fmt.Fprintf(w, "-> %s\n", t)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ListResources returns all resources in the graph in topological order (dependents first).
func ListResources(g Graph) ([]*Resource, error) {
	topo, err := TopologicalSort(g)
	if err != nil {
		return nil, err
	}
	resources := make([]*Resource, 0, len(topo))
	for _, id := range topo {
		r, err := g.Vertex(id)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, nil
}

// ResourcesOfType returns the resources matching `selector` (see [ResourceId.Matches]) in topological order.
func ResourcesOfType(g Graph, selector ResourceId) ([]*Resource, error) {
	all, err := ListResources(g)
	if err != nil {
		return nil, err
	}
	var matched []*Resource
	for _, r := range all {
		if selector.Matches(r.ID) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}
