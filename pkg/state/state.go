package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"gopkg.in/yaml.v3"
)

const SchemaVersion = 1

type (
	// State is what was last applied for an environment. Lineage identifies the environment's history and never
	// changes; Serial increases by one on every apply that changed something.
	State struct {
		SchemaVersion int
		Lineage       string
		Serial        int
		Environment   string
		Region        string
		// Outputs are the stack outputs as of the apply, keyed by name. Values may be intrinsic.
		Outputs map[string]any
		Graph   construct.Graph
	}

	// Backend stores a single [State]. Load returns (nil, nil) when nothing has been recorded yet.
	Backend interface {
		Load(ctx context.Context) (*State, error)
		Save(ctx context.Context, s *State) error
		Delete(ctx context.Context) error
		Location() string
	}

	header struct {
		SchemaVersion int    `yaml:"schemaVersion"`
		Lineage       string `yaml:"lineage"`
		Serial        int    `yaml:"serial"`
		Environment   string `yaml:"environment,omitempty"`
		Region        string `yaml:"region,omitempty"`
	}
)

var ErrLineageMismatch = errors.New("state lineage mismatch")

// New starts the history of an environment.
func New(environment, region string) *State {
	return &State{
		SchemaVersion: SchemaVersion,
		Lineage:       uuid.NewString(),
		Environment:   environment,
		Region:        region,
		Graph:         construct.NewGraph(),
	}
}

// Next returns the state that follows `s` once `g` has been applied.
func (s *State) Next(g construct.Graph, outputs map[string]any) *State {
	return &State{
		SchemaVersion: SchemaVersion,
		Lineage:       s.Lineage,
		Serial:        s.Serial + 1,
		Environment:   s.Environment,
		Region:        s.Region,
		Outputs:       outputs,
		Graph:         g,
	}
}

// CheckSuccessor errors if `next` does not directly follow `s`.
func (s *State) CheckSuccessor(next *State) error {
	if s.Lineage != next.Lineage {
		return fmt.Errorf("%w: %s is not %s", ErrLineageMismatch, next.Lineage, s.Lineage)
	}
	if next.Serial != s.Serial+1 {
		return fmt.Errorf("serial %d does not follow %d", next.Serial, s.Serial)
	}
	return nil
}

func (s *State) MarshalYAML() (any, error) {
	n := &yaml.Node{}
	if err := n.Encode(header{
		SchemaVersion: s.SchemaVersion,
		Lineage:       s.Lineage,
		Serial:        s.Serial,
		Environment:   s.Environment,
		Region:        s.Region,
	}); err != nil {
		return nil, err
	}
	if len(s.Outputs) > 0 {
		outputs := &yaml.Node{}
		if err := outputs.Encode(s.Outputs); err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "outputs"}, outputs)
	}
	g := s.Graph
	if g == nil {
		g = construct.NewGraph()
	}
	graphNode, err := construct.GraphToNode(g)
	if err != nil {
		return nil, err
	}
	n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "graph"}, graphNode)
	return n, nil
}

func (s *State) UnmarshalYAML(n *yaml.Node) error {
	var h header
	if err := n.Decode(&h); err != nil {
		return err
	}
	if h.SchemaVersion > SchemaVersion {
		return fmt.Errorf("state schema version %d is newer than supported (%d)", h.SchemaVersion, SchemaVersion)
	}
	*s = State{
		SchemaVersion: SchemaVersion,
		Lineage:       h.Lineage,
		Serial:        h.Serial,
		Environment:   h.Environment,
		Region:        h.Region,
		Graph:         construct.NewGraph(),
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		switch n.Content[i].Value {
		case "graph":
			if err := construct.GraphFromNode(s.Graph, n.Content[i+1]); err != nil {
				return fmt.Errorf("could not decode graph: %w", err)
			}
		case "outputs":
			outputs, err := construct.DecodeValue(n.Content[i+1])
			if err != nil {
				return fmt.Errorf("could not decode outputs: %w", err)
			}
			s.Outputs, _ = outputs.(map[string]any)
		}
	}
	if s.Lineage == "" {
		return errors.New("state has no lineage")
	}
	return nil
}

func Encode(s *State, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

func Decode(r io.Reader) (*State, error) {
	s := &State{}
	if err := yaml.NewDecoder(r).Decode(s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func encodeBytes(s *State) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := Encode(s, buf)
	return buf.Bytes(), err
}
