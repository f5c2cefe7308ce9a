package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParamError is one schema-validation failure, qualified by the JSON
// pointer path within the proposed params document and tagged with the
// violated rule, per spec §4.3.
type ParamError struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (e ParamError) String() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Message, e.Rule)
}

// ValidateParams validates rawParams against schemaDoc, a JSON Schema
// document. Unknown top-level object keys are rejected by requiring the
// schema set "additionalProperties": false; this function does not inject
// that itself — contracts are expected to declare it, and Validate reports
// an unknown_key error when the schema's own evaluation surfaces one.
//
// ValidateParams never panics: a malformed schema or params document is
// reported as a single ParamError with rule "schema_error" /
// "invalid_json" rather than propagated as a Go error, so callers in the
// execution pipeline can always continue to classify the proposal as
// EventToolFailed with a verification_failed-style outcome instead of
// crashing the pipeline.
func ValidateParams(schemaDoc, rawParams []byte) []ParamError {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	const resourceURL = "params.schema.json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schemaDoc)); err != nil {
		return []ParamError{{Path: "$", Rule: "schema_error", Message: err.Error()}}
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return []ParamError{{Path: "$", Rule: "schema_error", Message: err.Error()}}
	}

	var doc any
	if err := json.Unmarshal(rawParams, &doc); err != nil {
		return []ParamError{{Path: "$", Rule: "invalid_json", Message: err.Error()}}
	}

	if err := schema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return flattenValidationErrors(ve)
		}
		return []ParamError{{Path: "$", Rule: "schema_error", Message: err.Error()}}
	}
	return nil
}

// flattenValidationErrors walks a jsonschema.ValidationError tree (which
// nests one node per failed sub-schema) into a flat, path-qualified list.
func flattenValidationErrors(ve *jsonschema.ValidationError) []ParamError {
	var out []ParamError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, ParamError{
				Path:    instancePath(e),
				Rule:    classifyRule(e.Message),
				Message: e.Message,
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

func instancePath(e *jsonschema.ValidationError) string {
	if e.InstanceLocation == "" {
		return "$"
	}
	return "$" + strings.ReplaceAll(e.InstanceLocation, "/", ".")
}

// classifyRule maps the jsonschema library's free-text message onto the
// closed rule-tag vocabulary spec §4.3 requires (missing, type, enum,
// range, pattern, unknown_key), falling back to "constraint" for anything
// else the draft-7 validator reports.
func classifyRule(message string) string {
	switch {
	case strings.Contains(message, "missing properties"):
		return "missing"
	case strings.Contains(message, "additionalProperties") || strings.Contains(message, "additional properties"):
		return "unknown_key"
	case strings.Contains(message, "expected"):
		return "type"
	case strings.Contains(message, "value must be one of") || strings.Contains(message, "enum"):
		return "enum"
	case strings.Contains(message, "must be"+" ") && (strings.Contains(message, ">=") || strings.Contains(message, "<=") || strings.Contains(message, "minimum") || strings.Contains(message, "maximum")):
		return "range"
	case strings.Contains(message, "pattern"):
		return "pattern"
	default:
		return "constraint"
	}
}
