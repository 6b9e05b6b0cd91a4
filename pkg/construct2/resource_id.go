package construct2

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type ResourceId struct {
	Provider string `yaml:"provider" toml:"provider"`
	Type     string `yaml:"type" toml:"type"`
	// Namespace is optional and is used to disambiguate resources that share a name,
	// such as the public and isolated subnet of the same availability zone.
	Namespace string `yaml:"namespace" toml:"namespace"`
	// Name is the logical (environment independent) name of the resource. The physical name,
	// which carries the environment prefix, lives in the resource's properties.
	Name string `yaml:"name" toml:"name"`
}

var zeroId = ResourceId{}

func (id ResourceId) IsZero() bool {
	return id == zeroId
}

// String formats the id as `provider:type[:namespace]:name`. The namespace slot is kept, even when empty,
// if the name itself contains a colon.
func (id ResourceId) String() string {
	if id.IsZero() {
		return ""
	}
	parts := []string{id.Provider, id.Type}
	if id.Namespace != "" || strings.Contains(id.Name, ":") {
		parts = append(parts, id.Namespace)
	}
	if id.Name != "" {
		parts = append(parts, id.Name)
	}
	return strings.Join(parts, ":")
}

func (id ResourceId) QualifiedTypeName() string {
	return id.Provider + ":" + id.Type
}

func (id ResourceId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// Matches uses `id` (the receiver) as a filter for `other` (the argument) and returns true if all the non-empty fields from
// `id` match the corresponding fields in `other`.
func (id ResourceId) Matches(other ResourceId) bool {
	if id.Provider != "" && id.Provider != other.Provider {
		return false
	}
	if id.Type != "" && id.Type != other.Type {
		return false
	}
	if id.Namespace != "" && id.Namespace != other.Namespace {
		return false
	}
	if id.Name != "" && id.Name != other.Name {
		return false
	}
	return true
}

func SelectIds(ids []ResourceId, selector ResourceId) []ResourceId {
	result := make([]ResourceId, 0, len(ids))
	for _, id := range ids {
		if selector.Matches(id) {
			result = append(result, id)
		}
	}
	return result
}

var (
	resourceProviderPattern  = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	resourceTypePattern      = regexp.MustCompile(`^[a-zA-Z0-9_]*$`)
	resourceNamespacePattern = regexp.MustCompile(`^[a-zA-Z0-9_./\-\[\]]*$`)
	resourceNamePattern      = regexp.MustCompile(`^[a-zA-Z0-9_./\-:\[\]]*$`)
)

// UnmarshalText parses `provider:type`, `provider:type:name` or `provider:type:namespace:name`. Only the
// name may contain further colons.
func (id *ResourceId) UnmarshalText(data []byte) error {
	*id = ResourceId{}
	text := string(data)
	parts := strings.SplitN(text, ":", 4)
	switch len(parts) {
	case 1:
		if text != "" {
			return fmt.Errorf("must have trailing ':' for provider-only ID")
		}
		return nil
	case 2:
		id.Provider, id.Type = parts[0], parts[1]
	case 3:
		id.Provider, id.Type, id.Name = parts[0], parts[1], parts[2]
	case 4:
		id.Provider, id.Type, id.Namespace, id.Name = parts[0], parts[1], parts[2], parts[3]
	}
	if id.IsZero() {
		return nil
	}

	var err error
	for _, field := range []struct {
		name    string
		value   string
		pattern *regexp.Regexp
	}{
		{"provider", id.Provider, resourceProviderPattern},
		{"type", id.Type, resourceTypePattern},
		{"namespace", id.Namespace, resourceNamespacePattern},
		{"name", id.Name, resourceNamePattern},
	} {
		if !field.pattern.MatchString(field.value) {
			err = errors.Join(err, fmt.Errorf("invalid %s '%s' (must match %s)", field.name, field.value, field.pattern))
		}
	}
	if err != nil {
		return fmt.Errorf("invalid resource id '%s': %w", text, err)
	}
	return nil
}

// ParseResourceId is a convenience around [ResourceId.UnmarshalText].
func ParseResourceId(s string) (ResourceId, error) {
	var id ResourceId
	err := id.UnmarshalText([]byte(s))
	return id, err
}
