package construct2

import (
	"sort"
)

// Dependencies returns the resources `r` directly depends on (its downstream neighbours).
// For A -> B -> C the dependencies of B are [C].
func Dependencies(g Graph, r ResourceId) ([]ResourceId, error) {
	adj, err := g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	return sortedKeys(adj[r]), nil
}

// Dependents returns the resources that directly depend on `r` (its upstream neighbours).
// For A -> B -> C the dependents of B are [A].
func Dependents(g Graph, r ResourceId) ([]ResourceId, error) {
	pred, err := g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	return sortedKeys(pred[r]), nil
}

// AllDependents returns every resource that transitively depends on `r`, nearest first.
// For A -> B -> C -> D the dependents of C are [B, A].
func AllDependents(g Graph, r ResourceId) ([]ResourceId, error) {
	pred, err := g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	return allDependencies(pred, r), nil
}

// AllDependencies returns every resource `r` transitively depends on, nearest first.
func AllDependencies(g Graph, r ResourceId) ([]ResourceId, error) {
	adj, err := g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	return allDependencies(adj, r), nil
}

func sortedKeys(edges map[ResourceId]Edge) []ResourceId {
	ids := make([]ResourceId, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Sort(sortedIds(ids))
	return ids
}

func allDependencies(deps map[ResourceId]map[ResourceId]Edge, r ResourceId) []ResourceId {
	visited := map[ResourceId]struct{}{r: {}}
	queue := sortedKeys(deps[r])
	for _, id := range queue {
		visited[id] = struct{}{}
	}

	var ids []ResourceId
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ids = append(ids, id)

		for _, d := range sortedKeys(deps[id]) {
			if _, ok := visited[d]; ok {
				continue
			}
			visited[d] = struct{}{}
			queue = append(queue, d)
		}
	}
	return ids
}
