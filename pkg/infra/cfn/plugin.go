package cfn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/iancoleman/strcase"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	kio "github.com/klothoplatform/free-courses-infra/pkg/io"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/klothoplatform/free-courses-infra/pkg/sanitization"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

const FormatVersion = "2010-09-09"

type (
	Format string

	// Plugin renders a resource graph as a CloudFormation template.
	Plugin struct {
		Description string
		Format      Format
		// FileName defaults to `template.yaml` or `template.json` depending on the format.
		FileName string
	}

	Output struct {
		Name        string
		Description string
		Value       any
	}

	Template struct {
		AWSTemplateFormatVersion string                      `json:"AWSTemplateFormatVersion"`
		Description              string                      `json:"Description,omitempty"`
		Resources                map[string]TemplateResource `json:"Resources"`
		Outputs                  map[string]TemplateOutput   `json:"Outputs,omitempty"`
	}

	TemplateResource struct {
		Type                string         `json:"Type"`
		DependsOn           []string       `json:"DependsOn,omitempty"`
		DeletionPolicy      string         `json:"DeletionPolicy,omitempty"`
		UpdateReplacePolicy string         `json:"UpdateReplacePolicy,omitempty"`
		Properties          map[string]any `json:"Properties,omitempty"`
	}

	TemplateOutput struct {
		Description string `json:"Description,omitempty"`
		Value       any    `json:"Value"`
	}
)

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var bufPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func (p Plugin) Name() string {
	return "cloudformation"
}

// LogicalId is the template key for `id`: the camel-cased type, namespace and name, stripped of anything that is
// not alphanumeric.
func LogicalId(id construct.ResourceId) string {
	return sanitization.LogicalIdSanitizer.Apply(
		strcase.ToCamel(id.Type) + strcase.ToCamel(id.Namespace) + strcase.ToCamel(id.Name),
	)
}

// Render builds the template for `g`. An empty graph renders a template without resources, which deletes every
// non-retained resource of an existing stack.
func (p Plugin) Render(g construct.Graph, outputs []Output) (*Template, error) {
	ids, err := construct.ReverseTopologicalSort(g)
	if err != nil {
		return nil, err
	}
	log := zap.S().Named("cfn")

	logical := make(map[construct.ResourceId]string, len(ids))
	owners := make(map[string]construct.ResourceId, len(ids))
	var errs error
	for _, id := range ids {
		lid := LogicalId(id)
		if other, ok := owners[lid]; ok {
			errs = errors.Join(errs, engine_errs.ValidationError{
				Resource: id,
				Reason:   fmt.Sprintf("logical id %s collides with %s", lid, other),
			})
			continue
		}
		owners[lid] = id
		logical[id] = lid
	}
	if errs != nil {
		return nil, errs
	}

	t := &Template{
		AWSTemplateFormatVersion: FormatVersion,
		Description:              p.Description,
		Resources:                make(map[string]TemplateResource, len(ids)),
	}
	conv := converter{logical: logical}
	for _, id := range ids {
		r, err := g.Vertex(id)
		if err != nil {
			return nil, err
		}
		tr, err := conv.resource(r)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		log.Debugf("rendered %s as %s (%s)", id, logical[id], tr.Type)
		t.Resources[logical[id]] = tr
	}

	for _, o := range outputs {
		v, err := conv.value(o.Value)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("output %s: %w", o.Name, err))
			continue
		}
		if t.Outputs == nil {
			t.Outputs = make(map[string]TemplateOutput, len(outputs))
		}
		t.Outputs[o.Name] = TemplateOutput{Description: o.Description, Value: v}
	}
	return t, errs
}

// Translate renders the template into a single file.
func (p Plugin) Translate(g construct.Graph, outputs []Output) ([]kio.File, error) {
	t, err := p.Render(g, outputs)
	if err != nil {
		return nil, err
	}
	content, err := p.Marshal(t)
	if err != nil {
		return nil, err
	}
	name := p.FileName
	if name == "" {
		name = "template." + string(p.format())
	}
	return []kio.File{{Path: name, Content: content}}, nil
}

func (p Plugin) format() Format {
	if p.Format == "" {
		return FormatYAML
	}
	return p.Format
}

func (p Plugin) Marshal(t *Template) ([]byte, error) {
	switch p.format() {
	case FormatYAML:
		return yaml.Marshal(t)
	case FormatJSON:
		buf := bufPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer bufPool.Put(buf)
		enc := json.NewEncoder(buf)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return nil, err
		}
		return bytes.Clone(buf.Bytes()), nil
	}
	return nil, engine_errs.ConfigError{Key: "templateFormat", Err: fmt.Errorf("unsupported format %q", p.Format)}
}

type converter struct {
	logical map[construct.ResourceId]string
}

func (c converter) resource(r *construct.Resource) (TemplateResource, error) {
	typ, ok := resources.CloudFormationTypes[r.ID.Type]
	if !ok {
		return TemplateResource{}, engine_errs.ValidationError{
			Resource: r.ID,
			Reason:   "has no CloudFormation type",
		}
	}
	tr := TemplateResource{Type: typ}

	deps, err := r.ExplicitDependencies()
	if err != nil {
		return tr, err
	}
	for _, dep := range deps {
		lid, ok := c.logical[dep]
		if !ok {
			return tr, engine_errs.ValidationError{Resource: r.ID, Attribute: construct.MetaDependsOn, Reason: fmt.Sprintf("depends on undeclared %s", dep)}
		}
		tr.DependsOn = append(tr.DependsOn, lid)
	}
	sort.Strings(tr.DependsOn)

	if r.Meta != nil {
		tr.DeletionPolicy, _ = r.Meta[construct.MetaDeletionPolicy].(string)
		tr.UpdateReplacePolicy, _ = r.Meta[construct.MetaUpdateReplacePolicy].(string)
	}

	if len(r.Properties) > 0 {
		props, err := c.value(map[string]any(r.Properties))
		if err != nil {
			return tr, engine_errs.ValidationError{Resource: r.ID, Reason: err.Error()}
		}
		tr.Properties = props.(map[string]any)
	}
	return tr, nil
}

// value converts intrinsic values into CloudFormation intrinsic functions.
func (c converter) value(v any) (any, error) {
	switch v := construct.Plain(v).(type) {
	case construct.Ref:
		lid, ok := c.logical[v.Resource]
		if !ok {
			return nil, fmt.Errorf("reference to undeclared %s", v.Resource)
		}
		if v.Attribute == "" {
			return map[string]any{"Ref": lid}, nil
		}
		return map[string]any{"Fn::GetAtt": []any{lid, v.Attribute}}, nil

	case construct.Join:
		parts := make([]any, len(v.Parts))
		for i, p := range v.Parts {
			cp, err := c.value(p)
			if err != nil {
				return nil, err
			}
			parts[i] = cp
		}
		return map[string]any{"Fn::Join": []any{v.Delimiter, parts}}, nil

	case construct.AZ:
		return map[string]any{"Fn::Select": []any{v.Index, map[string]any{"Fn::GetAZs": ""}}}, nil

	case construct.Pseudo:
		return map[string]any{"Ref": v.Name}, nil

	case construct.Base64:
		inner, err := c.value(v.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"Fn::Base64": inner}, nil

	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			ce, err := c.value(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = ce
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			ce, err := c.value(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ce
		}
		return out, nil

	default:
		return v, nil
	}
}
