// Package schema implements the JSON-schema-equivalent validator contract
// the runtime spec requires for integrationConfig, connectionConfig, and
// action/sync input and output descriptors.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"github.com/nexusflow/flowcore/engine/core"
)

// Schema is a raw JSON Schema document. A nil *Schema, or one pointing at a
// nil/empty map (a Schema field left at its zero value), is a valid
// "no schema" sentinel: validation always passes and ApplyDefaults is a
// no-op.
type Schema map[string]any

// Result is the outcome of a successful Validate call.
type Result struct {
	Valid  bool
	Errors map[string]string
}

var compilerOnce = jsonschema.NewCompiler()

// empty reports whether s describes "no schema": a nil pointer or a nil/empty
// map, both of which callers can produce just by leaving a Schema field at
// its zero value rather than constructing an explicit sentinel.
func (s *Schema) empty() bool {
	return s == nil || len(*s) == 0
}

// Compile compiles the schema once so repeated Validate calls reuse the
// compiled form. An empty schema compiles to (nil, nil).
func (s *Schema) Compile() (*jsonschema.Schema, error) {
	if s.empty() {
		return nil, nil
	}
	raw, err := json.Marshal(map[string]any(*s))
	if err != nil {
		return nil, fmt.Errorf("schema: failed to compile schema: %w", err)
	}
	compiled, err := compilerOnce.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to compile schema: %w", err)
	}
	return compiled, nil
}

// Validate checks value against the schema, returning a *core.Error coded
// INVALID_ARGUMENT on failure so the transport layer maps it to a 400
// without inspecting message text. An empty schema always succeeds with a
// nil Result (there is nothing to report).
func (s *Schema) Validate(_ context.Context, value any) (*Result, error) {
	if s.empty() {
		return nil, nil
	}
	compiled, err := s.Compile()
	if err != nil {
		return nil, core.NewError(err, core.CodeInvalidArgument, nil)
	}
	outcome := compiled.Validate(value)
	if !outcome.IsValid() {
		summary := summarizeErrors(outcome)
		return nil, core.Errorf(core.CodeInvalidArgument, "schema: schema validation failed: %s", summary)
	}
	return &Result{Valid: true}, nil
}

func summarizeErrors(outcome *jsonschema.EvaluationResult) string {
	errs := outcome.ToList()
	if errs == nil || len(errs.Errors) == 0 {
		return "invalid value"
	}
	msg := ""
	for field, detail := range errs.Errors {
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", field, detail)
	}
	return msg
}

// ApplyDefaults returns a new map equal to input with every schema property
// default filled in where input omits that key. An empty schema returns
// input unchanged; a nil input starts from an empty object.
func (s *Schema) ApplyDefaults(input map[string]any) (map[string]any, error) {
	if s.empty() {
		return input, nil
	}
	result := make(map[string]any, len(input))
	for k, v := range input {
		result[k] = v
	}
	props, _ := (*s)["properties"].(map[string]any)
	for name, rawProp := range props {
		if _, present := result[name]; present {
			continue
		}
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		if def, hasDefault := prop["default"]; hasDefault {
			result[name] = def
		}
	}
	return result, nil
}
