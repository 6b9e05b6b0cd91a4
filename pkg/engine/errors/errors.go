package engine_errs

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
)

type (
	EngineError interface {
		error
		// ToJSONMap returns a map that can be marshaled to JSON. Uses this instead of MarshalJSON to avoid
		// repeated marshalling of common fields (such as 'error_code') and to allow for consistent formatting
		// (eg for pretty-print).
		ToJSONMap() map[string]any
		ErrorCode() ErrorCode
	}

	ErrorCode string

	InternalError struct {
		Err error
	}

	// ValidationError is a defect in the desired graph, found before anything is deployed.
	ValidationError struct {
		Resource  construct.ResourceId
		Attribute string
		Reason    string
	}

	// ProviderError is a failure reported by the cloud provider while reading or changing a resource.
	ProviderError struct {
		Resource  construct.ResourceId
		Operation string
		Err       error
	}

	// DriftError is a difference between the recorded state of a resource and what the provider reports.
	DriftError struct {
		Resource  construct.ResourceId
		Attribute string
		Expected  any
		Actual    any
	}

	// ConfigError is an invalid configuration value.
	ConfigError struct {
		Key string
		Err error
	}

	ErrorTree struct {
		Chain    []string    `json:"chain,omitempty"`
		Children []ErrorTree `json:"children,omitempty"`
	}
)

const (
	InternalErrCode   ErrorCode = "internal"
	ConfigInvalidCode ErrorCode = "config_invalid"
	ValidationCode    ErrorCode = "validation"
	ProviderCode      ErrorCode = "provider"
	DriftCode         ErrorCode = "drift"
)

func (e InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e InternalError) ErrorCode() ErrorCode {
	return InternalErrCode
}

func (e InternalError) ToJSONMap() map[string]any {
	return map[string]any{}
}

func (e InternalError) Unwrap() error {
	return e.Err
}

func (e ValidationError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("invalid resource %s: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("invalid resource %s: %s %s", e.Resource, e.Attribute, e.Reason)
}

func (e ValidationError) ErrorCode() ErrorCode {
	return ValidationCode
}

func (e ValidationError) ToJSONMap() map[string]any {
	m := map[string]any{
		"resource": e.Resource,
		"reason":   e.Reason,
	}
	if e.Attribute != "" {
		m["attribute"] = e.Attribute
	}
	return m
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider error during %s of %s: %v", e.Operation, e.Resource, e.Err)
}

func (e ProviderError) ErrorCode() ErrorCode {
	return ProviderCode
}

func (e ProviderError) ToJSONMap() map[string]any {
	return map[string]any{
		"resource":  e.Resource,
		"operation": e.Operation,
	}
}

func (e ProviderError) Unwrap() error {
	return e.Err
}

func (e DriftError) Error() string {
	return fmt.Sprintf("drift in %s %s: expected %v, got %v", e.Resource, e.Attribute, e.Expected, e.Actual)
}

func (e DriftError) ErrorCode() ErrorCode {
	return DriftCode
}

func (e DriftError) ToJSONMap() map[string]any {
	return map[string]any{
		"resource":  e.Resource,
		"attribute": e.Attribute,
		"expected":  e.Expected,
		"actual":    e.Actual,
	}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Key, e.Err)
}

func (e ConfigError) ErrorCode() ErrorCode {
	return ConfigInvalidCode
}

func (e ConfigError) ToJSONMap() map[string]any {
	return map[string]any{"key": e.Key}
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// Extract walks joined and wrapped errors and returns every EngineError found. If there are none,
// the whole error is returned as an InternalError.
func Extract(err error) []EngineError {
	if err == nil {
		return nil
	}
	var errs []EngineError
	queue := []error{err}
	for len(queue) > 0 {
		err := queue[0]
		queue = queue[1:]
		switch err := err.(type) {
		case EngineError:
			errs = append(errs, err)
		case interface{ Unwrap() []error }:
			queue = append(queue, err.Unwrap()...)
		case interface{ Unwrap() error }:
			queue = append(queue, err.Unwrap())
		}
	}
	if len(errs) == 0 {
		errs = append(errs, InternalError{Err: err})
	}
	return errs
}

// ExitCode maps an error to the process exit code: 0 for no error, 2 for validation or configuration
// errors, 3 for drift, 4 for provider errors and 1 otherwise. With several classes present the
// highest applies.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	code := 0
	for _, e := range Extract(err) {
		var c int
		switch e.ErrorCode() {
		case ValidationCode, ConfigInvalidCode:
			c = 2
		case DriftCode:
			c = 3
		case ProviderCode:
			c = 4
		default:
			c = 1
		}
		if c > code {
			code = c
		}
	}
	return code
}

// WriteJSON writes the errors as a JSON list, each with its `error_code`.
func WriteJSON(errs []EngineError, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	// NOTE: since this isn't used in a web context (it's a CLI), we can disable escaping.
	enc.SetEscapeHTML(false)

	outErrs := make([]map[string]any, len(errs))
	for i, e := range errs {
		outErrs[i] = e.ToJSONMap()
		outErrs[i]["error_code"] = e.ErrorCode()
		outErrs[i]["message"] = e.Error()
		if wrapped, ok := e.(interface{ Unwrap() error }); ok && wrapped.Unwrap() != nil {
			outErrs[i]["error"] = ErrorsToTree(wrapped.Unwrap())
		}
	}
	return enc.Encode(outErrs)
}

type (
	chainErr interface {
		error
		Unwrap() error
	}
	joinErr interface {
		error
		Unwrap() []error
	}
)

func unwrapChain(err error) (chain []string, last joinErr) {
	for current := err; current != nil; {
		var next error
		if cc, ok := current.(chainErr); ok {
			next = cc.Unwrap()
		} else if joined, ok := current.(joinErr); ok {
			jerrs := joined.Unwrap()
			if len(jerrs) != 1 {
				last = joined
				return
			}
			next = jerrs[0]
		} else {
			chain = append(chain, current.Error())
			return
		}
		if next == nil {
			chain = append(chain, current.Error())
			return
		}
		msg := strings.TrimSuffix(strings.TrimSuffix(current.Error(), next.Error()), ": ")
		if msg != "" {
			chain = append(chain, msg)
		}
		current = next
	}
	return
}

func ErrorsToTree(err error) (tree ErrorTree) {
	if err == nil {
		return
	}
	if t, ok := err.(ErrorTree); ok {
		return t
	}

	var joined joinErr
	tree.Chain, joined = unwrapChain(err)

	if joined != nil {
		errs := joined.Unwrap()
		tree.Children = make([]ErrorTree, len(errs))
		for i, e := range errs {
			tree.Children[i] = ErrorsToTree(e)
		}
	}
	return
}

func (t ErrorTree) Error() string {
	sb := &strings.Builder{}
	t.print(sb, 0, 0)
	return sb.String()
}

func (t ErrorTree) print(out *strings.Builder, indent int, childChar rune) {
	prefix := strings.Repeat("\t", indent)
	delim := ""
	if childChar != 0 {
		delim = string(childChar) + " "
	}
	fmt.Fprintf(out, "%s%s%v\n", prefix, delim, t.Chain)
	for i, child := range t.Children {
		char := '├'
		if i == len(t.Children)-1 {
			char = '└'
		}
		child.print(out, indent+1, char)
	}
}
