package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Response schemas for the proctoring endpoints. Responses that fail
// validation are discarded rather than partially applied: a malformed
// shouldTerminate or a missing count must never drive escalation.

const violationResponseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["violationCount", "shouldTerminate"],
  "properties": {
    "violationCount": {"type": "integer", "minimum": 0},
    "shouldTerminate": {"type": "boolean"}
  }
}`

const statusResponseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["totalViolations", "terminationThreshold"],
  "properties": {
    "totalViolations": {"type": "integer", "minimum": 0},
    "terminationThreshold": {"type": "integer", "minimum": 1}
  }
}`

// schemaValidator validates raw response bodies against one compiled
// schema.
type schemaValidator struct {
	schema *jsonschema.Schema
}

// newSchemaValidator compiles one embedded schema under the given name.
func newSchemaValidator(name, source string) (*schemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("loading schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	return &schemaValidator{schema: schema}, nil
}

// Validate checks a response body against the schema.
func (v *schemaValidator) Validate(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return v.schema.Validate(doc)
}
