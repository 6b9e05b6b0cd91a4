package stack

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/dominikbraun/graph"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
	"go.uber.org/zap"
)

// DefaultNameTemplate prefixes names with the environment when one is set.
const DefaultNameTemplate = `{{ if .Env }}{{ .Env }}-{{ end }}{{ .Name }}`

type (
	Options struct {
		// Environment namespaces every physical name so that stacks of different environments can share an
		// account. Empty means no prefix.
		Environment string
		// NameTemplate renders physical names from `.Env` and `.Name`, with the sprig function set available.
		NameTemplate string
		// Tags are added to every resource that supports tags.
		Tags map[string]string
	}

	// Builder collects resource declarations into a dependency graph. Every factory function takes the
	// builder explicitly; there is no ambient registration.
	Builder struct {
		opts     Options
		nameTmpl *template.Template
		graph    construct.Graph
		// dangling references are retried at Build, so declarations may reference resources added later
		dangling map[construct.ResourceId][]construct.Ref
		errs     error
	}

	nameData struct {
		Env  string
		Name string
	}
)

func NewBuilder(opts Options) (*Builder, error) {
	if opts.NameTemplate == "" {
		opts.NameTemplate = DefaultNameTemplate
	}
	tmpl, err := template.New("name").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(opts.NameTemplate)
	if err != nil {
		return nil, engine_errs.ConfigError{Key: "nameTemplate", Err: err}
	}
	return &Builder{
		opts:     opts,
		nameTmpl: tmpl,
		graph:    construct.NewGraph(),
		dangling: make(map[construct.ResourceId][]construct.Ref),
	}, nil
}

func (b *Builder) Environment() string {
	return b.opts.Environment
}

// PhysicalName renders the environment-specific name for the logical `name`, then applies `sanitizer`
// (if not nil) so the name is valid for the resource type.
func (b *Builder) PhysicalName(sanitizer *sanitization.Sanitizer, name string) string {
	sb := new(strings.Builder)
	if err := b.nameTmpl.Execute(sb, nameData{Env: b.opts.Environment, Name: name}); err != nil {
		b.errs = errors.Join(b.errs, engine_errs.ConfigError{Key: "nameTemplate", Err: err})
		return name
	}
	if sanitizer == nil {
		return sb.String()
	}
	return sanitizer.Apply(sb.String())
}

// Tags returns the CloudFormation tag list for a resource named `name`.
func (b *Builder) Tags(name string) []any {
	tags := []any{map[string]any{"Key": "Name", "Value": name}}
	keys := make([]string, 0, len(b.opts.Tags)+1)
	values := make(map[string]string, len(b.opts.Tags)+1)
	for k, v := range b.opts.Tags {
		keys = append(keys, k)
		values[k] = v
	}
	if b.opts.Environment != "" {
		if _, ok := values["environment"]; !ok {
			keys = append(keys, "environment")
		}
		values["environment"] = b.opts.Environment
	}
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, map[string]any{"Key": k, "Value": values[k]})
	}
	return tags
}

// Add declares `r` and links it to every resource it references.
func (b *Builder) Add(r *construct.Resource) error {
	if err := b.graph.AddVertex(r); err != nil {
		if errors.Is(err, graph.ErrVertexAlreadyExists) {
			err = engine_errs.ValidationError{Resource: r.ID, Reason: "declared more than once"}
		}
		b.errs = errors.Join(b.errs, err)
		return err
	}
	zap.S().Named("stack").Debugf("added %s", r.ID)
	return b.link(r)
}

func (b *Builder) link(r *construct.Resource) error {
	dangling, err := construct.LinkReferences(b.graph, r)
	if err != nil {
		err = engine_errs.ValidationError{Resource: r.ID, Reason: err.Error()}
		b.errs = errors.Join(b.errs, err)
		return err
	}
	if len(dangling) > 0 {
		b.dangling[r.ID] = dangling
	} else {
		delete(b.dangling, r.ID)
	}
	return nil
}

// Resource returns the declared resource with `id`.
func (b *Builder) Resource(id construct.ResourceId) (*construct.Resource, bool) {
	r, err := b.graph.Vertex(id)
	if err != nil {
		return nil, false
	}
	return r, true
}

// Dependents returns the declared resources that depend on `id`.
func (b *Builder) Dependents(id construct.ResourceId) ([]construct.ResourceId, error) {
	return construct.Dependents(b.graph, id)
}

// Update applies `fn` to the declared resource `id` and relinks its references.
func (b *Builder) Update(id construct.ResourceId, fn func(r *construct.Resource) error) error {
	r, ok := b.Resource(id)
	if !ok {
		err := engine_errs.ValidationError{Resource: id, Reason: "updated before it was declared"}
		b.errs = errors.Join(b.errs, err)
		return err
	}
	if err := fn(r); err != nil {
		err = fmt.Errorf("could not update %s: %w", id, err)
		b.errs = errors.Join(b.errs, err)
		return err
	}
	return b.link(r)
}

// DependsOn records that `id` must be created after `deps` even though it does not reference them.
func (b *Builder) DependsOn(id construct.ResourceId, deps ...construct.ResourceId) error {
	return b.Update(id, func(r *construct.Resource) error {
		for _, d := range deps {
			r.AddExplicitDependency(d)
		}
		return nil
	})
}

// Build returns the graph, along with every error recorded during construction. References that are
// still dangling are reported as validation errors.
func (b *Builder) Build() (construct.Graph, error) {
	errs := b.errs

	ids := make([]construct.ResourceId, 0, len(b.dangling))
	for id := range b.dangling {
		ids = append(ids, id)
	}
	construct.SortIds(ids)
	for _, id := range ids {
		r, _ := b.Resource(id)
		// errors other than dangling references were recorded when the resource was added
		dangling, _ := construct.LinkReferences(b.graph, r)
		for _, ref := range dangling {
			errs = errors.Join(errs, engine_errs.ValidationError{
				Resource:  id,
				Attribute: ref.String(),
				Reason:    "references an undeclared resource",
			})
		}
	}
	return b.graph, errs
}
