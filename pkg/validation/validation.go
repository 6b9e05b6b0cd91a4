package validation

import (
	"errors"
	"fmt"
	"strings"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/klothoplatform/free-courses-infra/pkg/provider/aws/resources"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

type (
	// GraphValidation statically checks a desired graph before anything is rendered or applied.
	GraphValidation struct {
		// NamePrefix, when set, must start every physical name.
		NamePrefix string
		// RequiredEndpoints are the interface endpoint services every isolated subnet needs.
		RequiredEndpoints []string
	}

	rule struct {
		name  string
		check func(v GraphValidation, g construct.Graph, rs []*construct.Resource) error
	}
)

var rules = []rule{
	{name: "references", check: checkReferences},
	{name: "trust chain", check: checkTrustChain},
	{name: "table grants", check: checkTableGrants},
	{name: "endpoints", check: checkEndpoints},
	{name: "endpoint ordering", check: checkEndpointOrdering},
	{name: "table keys", check: checkTableKeys},
	{name: "health probes", check: checkHealthProbes},
	{name: "service ingress", check: checkServiceIngress},
	{name: "names", check: checkNames},
}

func (v GraphValidation) Name() string { return "Validation" }

// Run returns every violation found, joined. Each is an [engine_errs.ValidationError].
func (v GraphValidation) Run(g construct.Graph) error {
	if v.RequiredEndpoints == nil {
		v.RequiredEndpoints = resources.RequiredEndpoints
	}
	rs, err := construct.ListResources(g)
	if err != nil {
		return err
	}
	var errs error
	for _, r := range rules {
		if err := r.check(v, g, rs); err != nil {
			zap.S().Named("validation").Debugf("%s: %v", r.name, err)
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func invalid(id construct.ResourceId, attr, reason string, args ...any) error {
	return engine_errs.ValidationError{Resource: id, Attribute: attr, Reason: fmt.Sprintf(reason, args...)}
}

func checkReferences(_ GraphValidation, g construct.Graph, rs []*construct.Resource) error {
	var errs error
	for _, r := range rs {
		for _, ref := range r.References() {
			if _, err := g.Vertex(ref.Resource); err != nil {
				errs = errors.Join(errs, invalid(r.ID, ref.String(), "references an undeclared resource"))
			}
		}
		deps, err := r.ExplicitDependencies()
		if err != nil {
			errs = errors.Join(errs, invalid(r.ID, construct.MetaDependsOn, "%v", err))
			continue
		}
		for _, dep := range deps {
			if _, err := g.Vertex(dep); err != nil {
				errs = errors.Join(errs, invalid(r.ID, construct.MetaDependsOn, "depends on undeclared %s", dep))
			}
		}
	}
	return errs
}

type (
	policyView struct {
		Statement []statementView `mapstructure:"Statement"`
	}

	statementView struct {
		Effect    string         `mapstructure:"Effect"`
		Action    []string       `mapstructure:"Action"`
		Resource  []any          `mapstructure:"Resource"`
		Principal map[string]any `mapstructure:"Principal"`
	}
)

func decodePolicy(r *construct.Resource, property string) (policyView, error) {
	raw, ok := r.Properties[property]
	if !ok {
		return policyView{}, invalid(r.ID, property, "is required")
	}
	return decodeDocument(r.ID, property, raw)
}

// decodeDocument reads a policy document, accepting a single action or resource in place of a list.
func decodeDocument(id construct.ResourceId, attr string, raw any) (policyView, error) {
	var view policyView
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &view})
	if err != nil {
		return view, err
	}
	if err := dec.Decode(raw); err != nil {
		return view, invalid(id, attr, "is malformed: %v", err)
	}
	return view, nil
}

func identityOf(r *construct.Resource) resources.IdentityKind {
	if r == nil || r.Meta == nil {
		return ""
	}
	kind, _ := r.Meta[resources.META_IDENTITY].(string)
	return resources.IdentityKind(kind)
}

func rolesOfKind(rs []*construct.Resource, kind resources.IdentityKind) map[construct.ResourceId]*construct.Resource {
	roles := make(map[construct.ResourceId]*construct.Resource)
	for _, r := range rs {
		if r.ID.Type == resources.IAM_ROLE_TYPE && identityOf(r) == kind {
			roles[r.ID] = r
		}
	}
	return roles
}

// policyRoles returns the roles a policy is attached to.
func policyRoles(r *construct.Resource) []construct.ResourceId {
	list, _ := r.Properties["Roles"].([]any)
	var ids []construct.ResourceId
	for _, v := range list {
		if ref, ok := v.(construct.Ref); ok {
			ids = append(ids, ref.Resource)
		}
	}
	return ids
}

func hasAction(s statementView, action string) bool {
	for _, a := range s.Action {
		if a == action || a == "*" || a == strings.SplitN(action, ":", 2)[0]+":*" {
			return true
		}
	}
	return false
}

// hasServiceAction reports whether the statement allows any action of `service`, eg `dynamodb`.
func hasServiceAction(s statementView, service string) bool {
	for _, a := range s.Action {
		if a == "*" || strings.HasPrefix(strings.ToLower(a), service+":") {
			return true
		}
	}
	return false
}

func checkNames(v GraphValidation, _ construct.Graph, rs []*construct.Resource) error {
	if v.NamePrefix == "" {
		return nil
	}
	var errs error
	for _, r := range rs {
		name, ok := resources.PhysicalName(r)
		if !ok {
			continue
		}
		if !strings.HasPrefix(name, v.NamePrefix) {
			errs = errors.Join(errs, invalid(r.ID, resources.NameProperties[r.ID.Type], "%q lacks the environment prefix %q", name, v.NamePrefix))
		}
	}
	return errs
}
