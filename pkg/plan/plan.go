package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"github.com/r3labs/diff"
	"go.uber.org/zap"
)

type (
	Action string

	// AttributeChange is a difference in one attribute. Path is dotted, From is empty on creation and To is empty
	// on removal. Intrinsic values are shown in their string form.
	AttributeChange struct {
		Path string
		From any
		To   any
	}

	Change struct {
		Resource   construct.ResourceId
		Action     Action
		Attributes []AttributeChange
	}

	// Plan is the ordered list of changes that takes the recorded graph to the desired one. Creates and updates
	// come in dependency order, then deletions with dependents first.
	Plan struct {
		Changes []Change
	}
)

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionRetain removes a resource from the stack but leaves it, and its data, in the account.
	ActionRetain Action = "retain"
)

func (p *Plan) Empty() bool {
	return len(p.Changes) == 0
}

// Count returns the number of changes with the given action.
func (p *Plan) Count(a Action) int {
	n := 0
	for _, c := range p.Changes {
		if c.Action == a {
			n++
		}
	}
	return n
}

func (p *Plan) Summary() string {
	return fmt.Sprintf("%d to create, %d to update, %d to delete, %d to retain",
		p.Count(ActionCreate), p.Count(ActionUpdate), p.Count(ActionDelete), p.Count(ActionRetain))
}

// Compute plans the changes from `recorded` (nil for a first apply) to `desired`. Applying the same desired graph
// twice yields an empty plan the second time.
func Compute(desired, recorded construct.Graph) (*Plan, error) {
	if recorded == nil {
		recorded = construct.NewGraph()
	}
	log := zap.S().Named("plan")
	p := &Plan{}

	creationOrder, err := construct.ReverseTopologicalSort(desired)
	if err != nil {
		return nil, err
	}
	var errs error
	for _, id := range creationOrder {
		want, err := desired.Vertex(id)
		if err != nil {
			return nil, err
		}
		have, err := recorded.Vertex(id)
		if err != nil {
			log.Debugf("%s: create", id)
			attrs, err := attributeChanges(nil, want)
			errs = errors.Join(errs, err)
			p.Changes = append(p.Changes, Change{Resource: id, Action: ActionCreate, Attributes: attrs})
			continue
		}
		attrs, err := attributeChanges(have, want)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if len(attrs) > 0 {
			log.Debugf("%s: update %d attribute(s)", id, len(attrs))
			p.Changes = append(p.Changes, Change{Resource: id, Action: ActionUpdate, Attributes: attrs})
		}
	}

	deletionOrder, err := construct.TopologicalSort(recorded)
	if err != nil {
		return nil, err
	}
	for _, id := range deletionOrder {
		if _, err := desired.Vertex(id); err == nil {
			continue
		}
		r, err := recorded.Vertex(id)
		if err != nil {
			return nil, err
		}
		p.Changes = append(p.Changes, removal(r))
	}
	return p, errs
}

// Destroy plans removing every recorded resource. Retained resources are reported as [ActionRetain].
func Destroy(recorded construct.Graph) (*Plan, error) {
	p := &Plan{}
	if recorded == nil {
		return p, nil
	}
	order, err := construct.TopologicalSort(recorded)
	if err != nil {
		return nil, err
	}
	for _, id := range order {
		r, err := recorded.Vertex(id)
		if err != nil {
			return nil, err
		}
		p.Changes = append(p.Changes, removal(r))
	}
	return p, nil
}

// Retained lists the resources the plan leaves in the account.
func (p *Plan) Retained() []construct.ResourceId {
	var ids []construct.ResourceId
	for _, c := range p.Changes {
		if c.Action == ActionRetain {
			ids = append(ids, c.Resource)
		}
	}
	return ids
}

func removal(r *construct.Resource) Change {
	zap.S().Named("plan").Debugf("%s: remove (retained=%t)", r.ID, r.Retained())
	if r.Retained() {
		return Change{Resource: r.ID, Action: ActionRetain}
	}
	return Change{Resource: r.ID, Action: ActionDelete}
}

// settings returns the properties and resource settings of `r` in a form that compares equal when the rendered
// resource would be the same.
func settings(r *construct.Resource) map[string]any {
	if r == nil {
		return map[string]any{}
	}
	m := construct.StringifyIntrinsics(map[string]any(r.Properties)).(map[string]any)
	for k, v := range construct.StringifyIntrinsics(map[string]any(r.Meta)).(map[string]any) {
		m["@"+k] = v
	}
	return m
}

func attributeChanges(from, to *construct.Resource) ([]AttributeChange, error) {
	a, b := settings(from), settings(to)
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	differ, err := diff.NewDiffer(diff.SliceOrdering(true))
	if err != nil {
		return nil, err
	}
	var changes []AttributeChange
	for _, k := range sorted {
		av, aok := a[k]
		bv, bok := b[k]
		if !aok || !bok {
			changes = append(changes, AttributeChange{Path: k, From: av, To: bv})
			continue
		}
		changelog, err := differ.Diff(av, bv)
		if err != nil {
			// shapes differ (eg a scalar became a list), report the whole attribute
			changes = append(changes, AttributeChange{Path: k, From: av, To: bv})
			continue
		}
		for _, c := range changelog {
			changes = append(changes, AttributeChange{
				Path: strings.Join(append([]string{k}, c.Path...), "."),
				From: c.From,
				To:   c.To,
			})
		}
	}
	return changes, nil
}
