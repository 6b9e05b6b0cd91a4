package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"

	engine_errs "github.com/klothoplatform/free-courses-infra/pkg/engine/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"
)

//go:embed schema.json
var schemaText string

var schema = jsonschema.MustCompileString("schema.json", schemaText)

// validateSchema checks the raw document. Every violation becomes a [engine_errs.ConfigError] keyed by the
// dotted path of the offending value.
func validateSchema(format string, content []byte) error {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	var doc any
	switch format {
	case "json":
		if err := json.Unmarshal(content, &doc); err != nil {
			return engine_errs.ConfigError{Key: "file", Err: err}
		}

	case "yaml":
		text, err := yaml.YAMLToJSON(content)
		if err != nil {
			return engine_errs.ConfigError{Key: "file", Err: err}
		}
		if err := json.Unmarshal(text, &doc); err != nil {
			return engine_errs.ConfigError{Key: "file", Err: err}
		}

	case "toml":
		var raw map[string]any
		if err := toml.Unmarshal(content, &raw); err != nil {
			return engine_errs.ConfigError{Key: "file", Err: err}
		}
		// round trip through JSON so numbers have the types the validator expects
		text, err := json.Marshal(raw)
		if err != nil {
			return engine_errs.ConfigError{Key: "file", Err: err}
		}
		if err := json.Unmarshal(text, &doc); err != nil {
			return engine_errs.ConfigError{Key: "file", Err: err}
		}
	}

	err := schema.Validate(doc)
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	var errs error
	for _, leaf := range leaves(verr) {
		errs = errors.Join(errs, engine_errs.ConfigError{
			Key: instanceKey(leaf.InstanceLocation),
			Err: errors.New(leaf.Message),
		})
	}
	return errs
}

func leaves(err *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jsonschema.ValidationError{err}
	}
	var out []*jsonschema.ValidationError
	for _, c := range err.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

// instanceKey turns a JSON pointer such as `/service/containerPort` into `service.containerPort`.
func instanceKey(pointer string) string {
	key := strings.ReplaceAll(strings.TrimPrefix(pointer, "/"), "/", ".")
	if key == "" {
		return "file"
	}
	return key
}
