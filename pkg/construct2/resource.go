package construct2

type (
	// Properties are the provider-shaped attributes of a resource. Values are plain data (strings, numbers,
	// booleans, maps and slices thereof) or one of the intrinsic values (see [Ref]).
	Properties map[string]any

	Resource struct {
		ID         ResourceId
		Properties Properties
		// Meta holds resource-level settings that are not properties of the resource itself, such as
		// the deletion policy.
		Meta Properties
	}
)

const (
	MetaDeletionPolicy      = "DeletionPolicy"
	MetaUpdateReplacePolicy = "UpdateReplacePolicy"
	// MetaDependsOn lists ids (as strings) of resources that must exist first but are not referenced
	// by any property.
	MetaDependsOn = "DependsOn"
)

func CreateResource(id ResourceId) *Resource {
	return &Resource{
		ID:         id,
		Properties: make(Properties),
	}
}

// References returns every [Ref] found in the resource's properties, in a stable order.
func (r *Resource) References() []Ref {
	var refs []Ref
	seen := make(map[Ref]struct{})
	walkValue(r.Properties, func(v any) {
		if ref, ok := v.(Ref); ok {
			if _, dup := seen[ref]; !dup {
				seen[ref] = struct{}{}
				refs = append(refs, ref)
			}
		}
	})
	return refs
}

func (r *Resource) DeletionPolicy() string {
	if r.Meta == nil {
		return ""
	}
	s, _ := r.Meta[MetaDeletionPolicy].(string)
	return s
}

// Retained reports whether deleting the resource from the stack leaves the underlying cloud resource
// (and its data) in place.
func (r *Resource) Retained() bool {
	return r.DeletionPolicy() == "Retain"
}

// ExplicitDependencies returns the ids recorded in [MetaDependsOn].
func (r *Resource) ExplicitDependencies() ([]ResourceId, error) {
	if r.Meta == nil {
		return nil, nil
	}
	raw, ok := r.Meta[MetaDependsOn]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, &PropertyTypeError{Path: []string{MetaDependsOn}, Cause: errNotList}
	}
	ids := make([]ResourceId, 0, len(list))
	for _, v := range list {
		s, _ := v.(string)
		id, err := ParseResourceId(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Resource) AddExplicitDependency(id ResourceId) {
	if r.Meta == nil {
		r.Meta = make(Properties)
	}
	list, _ := r.Meta[MetaDependsOn].([]any)
	for _, v := range list {
		if v == id.String() {
			return
		}
	}
	r.Meta[MetaDependsOn] = append(list, id.String())
}
