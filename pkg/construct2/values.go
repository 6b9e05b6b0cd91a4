package construct2

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// Intrinsic is a value that is only known once the stack is applied, such as the ARN of a role.
	Intrinsic interface {
		fmt.Stringer
		intrinsic()
	}

	// Ref refers to another resource in the same graph. An empty Attribute refers to the resource's
	// primary identifier, otherwise to the named attribute (eg `Arn`).
	Ref struct {
		Resource  ResourceId
		Attribute string
	}

	// Join concatenates its parts with Delimiter once all parts are known.
	Join struct {
		Delimiter string
		Parts     []any
	}

	// AZ selects the Index-th availability zone of the deployment region.
	AZ struct {
		Index int
	}

	// Pseudo is a value supplied by the deployment target, such as `AWS::Region`.
	Pseudo struct {
		Name string
	}

	// Base64 encodes its (possibly intrinsic) value.
	Base64 struct {
		Value any
	}
)

const (
	PseudoRegion    = "AWS::Region"
	PseudoAccountId = "AWS::AccountId"
	PseudoPartition = "AWS::Partition"

	yamlRefTag    = "!ref"
	yamlJoinTag   = "!join"
	yamlAZTag     = "!az"
	yamlPseudoTag = "!pseudo"
	yamlBase64Tag = "!base64"
)

func (Ref) intrinsic()    {}
func (Join) intrinsic()   {}
func (AZ) intrinsic()     {}
func (Pseudo) intrinsic() {}
func (Base64) intrinsic() {}

func RefOf(id ResourceId) Ref {
	return Ref{Resource: id}
}

func AttrOf(id ResourceId, attribute string) Ref {
	return Ref{Resource: id, Attribute: attribute}
}

func (v Ref) String() string {
	if v.Attribute == "" {
		return v.Resource.String()
	}
	return v.Resource.String() + "#" + v.Attribute
}

func ParseRef(s string) (Ref, error) {
	idStr, attr, _ := strings.Cut(s, "#")
	id, err := ParseResourceId(idStr)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Resource: id, Attribute: attr}, nil
}

func (v Ref) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: yamlRefTag, Value: v.String()}, nil
}

func (v Join) String() string {
	parts := make([]string, len(v.Parts))
	for i, p := range v.Parts {
		parts[i] = fmt.Sprint(StringifyIntrinsics(p))
	}
	return strings.Join(parts, v.Delimiter)
}

func (v Join) MarshalYAML() (any, error) {
	n := &yaml.Node{}
	err := n.Encode(struct {
		Delimiter string `yaml:"delimiter"`
		Parts     []any  `yaml:"parts"`
	}{v.Delimiter, v.Parts})
	if err != nil {
		return nil, err
	}
	n.Tag = yamlJoinTag
	return n, nil
}

func (v AZ) String() string {
	return fmt.Sprintf("${az[%d]}", v.Index)
}

func (v AZ) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: yamlAZTag, Value: strconv.Itoa(v.Index)}, nil
}

func (v Pseudo) String() string {
	return "${" + v.Name + "}"
}

func (v Pseudo) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: yamlPseudoTag, Value: v.Name}, nil
}

func (v Base64) String() string {
	return fmt.Sprintf("base64(%v)", StringifyIntrinsics(v.Value))
}

func (v Base64) MarshalYAML() (any, error) {
	n := &yaml.Node{}
	err := n.Encode(struct {
		Value any `yaml:"value"`
	}{v.Value})
	if err != nil {
		return nil, err
	}
	n.Tag = yamlBase64Tag
	return n, nil
}

// DecodeValue decodes a node written from values that may contain intrinsics.
func DecodeValue(n *yaml.Node) (any, error) {
	return decodeValue(n)
}

// decodeValue is the inverse of the MarshalYAML implementations above: it decodes a node into
// plain values, restoring intrinsic values from their tags.
func decodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return decodeValue(n.Content[0])

	case yaml.AliasNode:
		return decodeValue(n.Alias)

	case yaml.ScalarNode:
		switch n.Tag {
		case yamlRefTag:
			return ParseRef(n.Value)
		case yamlAZTag:
			idx, err := strconv.Atoi(n.Value)
			return AZ{Index: idx}, err
		case yamlPseudoTag:
			return Pseudo{Name: n.Value}, nil
		}
		var v any
		err := n.Decode(&v)
		return v, err

	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeValue(c)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil

	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := decodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[n.Content[i].Value] = v
		}
		switch n.Tag {
		case yamlJoinTag:
			j := Join{}
			j.Delimiter, _ = m["delimiter"].(string)
			j.Parts, _ = m["parts"].([]any)
			return j, nil
		case yamlBase64Tag:
			return Base64{Value: m["value"]}, nil
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported yaml node kind %d at line %d", n.Kind, n.Line)
}

// walkValue calls fn for v and, recursively, every value nested within it.
func walkValue(v any, fn func(any)) {
	fn(v)
	switch v := v.(type) {
	case nil:
		return
	case Join:
		for _, p := range v.Parts {
			walkValue(p, fn)
		}
		return
	case Base64:
		walkValue(v.Value, fn)
		return
	case Intrinsic:
		return
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
		for _, k := range keys {
			walkValue(rv.MapIndex(k).Interface(), fn)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			walkValue(rv.Index(i).Interface(), fn)
		}
	}
}

// Plain normalises v into the shapes produced by decoding YAML: maps become map[string]any, slices
// become []any and integers become int. Intrinsic values are kept (with their contents normalised).
// Two values that would render identically are equal after Plain.
func Plain(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string, bool, float64, int:
		return v
	case Join:
		parts := make([]any, len(v.Parts))
		for i, p := range v.Parts {
			parts[i] = Plain(p)
		}
		return Join{Delimiter: v.Delimiter, Parts: parts}
	case Base64:
		return Base64{Value: Plain(v.Value)}
	case Intrinsic:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		m := make(map[string]any, rv.Len())
		for iter := rv.MapRange(); iter.Next(); {
			m[fmt.Sprint(iter.Key().Interface())] = Plain(iter.Value().Interface())
		}
		return m
	case reflect.Slice, reflect.Array:
		list := make([]any, rv.Len())
		for i := range list {
			list[i] = Plain(rv.Index(i).Interface())
		}
		return list
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Plain(rv.Elem().Interface())
	}
	return v
}

// StringifyIntrinsics is like [Plain] but replaces every intrinsic value with its string form, which
// is useful when comparing or displaying values.
func StringifyIntrinsics(v any) any {
	v = Plain(v)
	switch v := v.(type) {
	case Intrinsic:
		return v.String()
	case map[string]any:
		for k, e := range v {
			v[k] = StringifyIntrinsics(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = StringifyIntrinsics(e)
		}
		return v
	}
	return v
}
