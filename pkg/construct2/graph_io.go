package construct2

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type ioEdge struct {
	Source ResourceId
	Target ResourceId
}

func (e ioEdge) String() string {
	return fmt.Sprintf("%s -> %s", e.Source, e.Target)
}

func (e ioEdge) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *ioEdge) UnmarshalText(data []byte) error {
	s := string(data)

	source, target, found := strings.Cut(s, " -> ")
	if !found {
		target, source, found = strings.Cut(s, " <- ")
		if !found {
			return errors.New("invalid edge format, expected either `source -> target` or `target <- source`")
		}
	}

	srcErr := e.Source.UnmarshalText([]byte(source))
	tgtErr := e.Target.UnmarshalText([]byte(target))
	return errors.Join(srcErr, tgtErr)
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}

// GraphToNode encodes the graph as a YAML mapping with `resources` (in topological order) and `edges`.
// Intrinsic values are encoded with their own tags so that [GraphFromNode] restores them.
func GraphToNode(g Graph) (*yaml.Node, error) {
	topo, err := TopologicalSort(g)
	if err != nil {
		return nil, err
	}
	adj, err := g.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	resources := &yaml.Node{Kind: yaml.MappingNode}
	var errs error
	for _, rid := range topo {
		r, err := g.Vertex(rid)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		rnode := &yaml.Node{Kind: yaml.MappingNode}

		props := &yaml.Node{}
		if err := props.Encode(map[string]any(r.Properties)); err != nil {
			errs = errors.Join(errs, fmt.Errorf("could not encode properties of %s: %w", rid, err))
			continue
		}
		rnode.Content = append(rnode.Content, scalar("properties"), props)

		if len(r.Meta) > 0 {
			meta := &yaml.Node{}
			if err := meta.Encode(map[string]any(r.Meta)); err != nil {
				errs = errors.Join(errs, fmt.Errorf("could not encode meta of %s: %w", rid, err))
				continue
			}
			rnode.Content = append(rnode.Content, scalar("meta"), meta)
		}
		resources.Content = append(resources.Content, scalar(rid.String()), rnode)
	}

	edges := &yaml.Node{Kind: yaml.SequenceNode}
	for _, source := range topo {
		targets := make([]ResourceId, 0, len(adj[source]))
		for t := range adj[source] {
			targets = append(targets, t)
		}
		SortIds(targets)
		for _, target := range targets {
			edges.Content = append(edges.Content, scalar(ioEdge{Source: source, Target: target}.String()))
		}
	}

	return &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			scalar("resources"), resources,
			scalar("edges"), edges,
		},
	}, errs
}

// GraphToYAML renders the graph `g` as YAML to `w`.
func GraphToYAML(g Graph, w io.Writer) error {
	n, err := GraphToNode(g)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return err
	}
	return enc.Close()
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func decodeProperties(n *yaml.Node) (Properties, error) {
	if n == nil {
		return make(Properties), nil
	}
	v, err := decodeValue(n)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case nil:
		return make(Properties), nil
	case map[string]any:
		return Properties(v), nil
	}
	return nil, fmt.Errorf("expected a mapping at line %d", n.Line)
}

// GraphFromNode adds the resources and edges encoded by [GraphToNode] to `g`.
func GraphFromNode(g Graph, n *yaml.Node) error {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("expected graph mapping at line %d", n.Line)
	}

	var errs error
	if resources := mappingValue(n, "resources"); resources != nil {
		for i := 0; i+1 < len(resources.Content); i += 2 {
			rid, err := ParseResourceId(resources.Content[i].Value)
			if err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			rnode := resources.Content[i+1]
			props, err := decodeProperties(mappingValue(rnode, "properties"))
			if err != nil {
				errs = errors.Join(errs, fmt.Errorf("could not decode properties of %s: %w", rid, err))
				continue
			}
			r := &Resource{ID: rid, Properties: props}
			if meta := mappingValue(rnode, "meta"); meta != nil {
				r.Meta, err = decodeProperties(meta)
				if err != nil {
					errs = errors.Join(errs, fmt.Errorf("could not decode meta of %s: %w", rid, err))
					continue
				}
			}
			errs = errors.Join(errs, g.AddVertex(r))
		}
	}

	if edges := mappingValue(n, "edges"); edges != nil {
		for _, en := range edges.Content {
			var e ioEdge
			if err := e.UnmarshalText([]byte(en.Value)); err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			errs = errors.Join(errs, g.AddEdge(e.Source, e.Target))
		}
	}
	return errs
}

func AddFromYAML(g Graph, r io.Reader) error {
	var n yaml.Node
	if err := yaml.NewDecoder(r).Decode(&n); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return GraphFromNode(g, &n)
}
