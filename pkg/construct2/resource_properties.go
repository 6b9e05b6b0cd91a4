package construct2

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errNotList = errors.New("expected a list")

type PropertyTypeError struct {
	Path  []string
	Cause error
}

func (e *PropertyTypeError) Error() string {
	return fmt.Sprintf("error in path %s: %v", strings.Join(e.Path, ""), e.Cause)
}

func (e *PropertyTypeError) Unwrap() error {
	return e.Cause
}

func splitPath(path string) []string {
	var parts []string
	var delim string
	for path != "" {
		partIdx := strings.IndexAny(path, ".[")
		var part string
		if partIdx == -1 {
			part = delim + path
			path = ""
		} else {
			part = delim + path[:partIdx]
			delim = path[partIdx : partIdx+1]
			path = path[partIdx+1:]
		}
		parts = append(parts, part)
	}
	return parts
}

// GetProperty returns the value at `path` (eg `KeySchema[0].AttributeName`), or nil if any map key
// along the path is absent.
func (r *Resource) GetProperty(path string) (any, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	var value any = Plain(r.Properties)
	for i, part := range parts {
		if value == nil {
			return nil, nil
		}
		switch part[0] {
		case '[':
			list, ok := value.([]any)
			if !ok {
				return nil, &PropertyTypeError{Path: parts[:i], Cause: fmt.Errorf("expected list, got %T", value)}
			}
			idx, err := strconv.Atoi(strings.TrimSuffix(part[1:], "]"))
			if err != nil {
				return nil, &PropertyTypeError{Path: parts[:i+1], Cause: err}
			}
			if idx < 0 || idx >= len(list) {
				return nil, &PropertyTypeError{
					Path:  parts[:i+1],
					Cause: fmt.Errorf("array index out of bounds: %d (length %d)", idx, len(list)),
				}
			}
			value = list[idx]

		default:
			m, ok := value.(map[string]any)
			if !ok {
				return nil, &PropertyTypeError{Path: parts[:i], Cause: fmt.Errorf("expected map, got %T", value)}
			}
			value = m[strings.TrimPrefix(part, ".")]
		}
	}
	return value, nil
}

// SetProperty sets a top-level property.
func (r *Resource) SetProperty(key string, value any) {
	if r.Properties == nil {
		r.Properties = make(Properties)
	}
	r.Properties[key] = value
}

// AppendProperty appends `values` to the top-level list property `key`, creating it if needed.
func (r *Resource) AppendProperty(key string, values ...any) error {
	if r.Properties == nil {
		r.Properties = make(Properties)
	}
	current, ok := r.Properties[key]
	if !ok || current == nil {
		r.Properties[key] = append([]any{}, values...)
		return nil
	}
	list, ok := current.([]any)
	if !ok {
		return &PropertyTypeError{Path: []string{key}, Cause: errNotList}
	}
	r.Properties[key] = append(list, values...)
	return nil
}
