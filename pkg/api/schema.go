package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const changeRiskSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["changed_components"],
  "additionalProperties": false,
  "properties": {
    "changed_components": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "maxItems": 64
    }
  }
}`

const capacityEstimateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["stages"],
  "additionalProperties": false,
  "properties": {
    "stages": {
      "type": "array",
      "minItems": 1,
      "maxItems": 32,
      "items": {
        "type": "object",
        "required": ["stage", "service_time_ms", "concurrency"],
        "additionalProperties": false,
        "properties": {
          "stage": {"type": "string", "minLength": 1},
          "service_time_ms": {"type": "number"},
          "concurrency": {"type": "number"}
        }
      }
    },
    "utilization_target": {"type": "number"},
    "cost": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "infra_cost_per_hour": {"type": "number"},
        "gpu_seconds_per_doc": {"type": "number"},
        "cpu_seconds_per_doc": {"type": "number"},
        "storage_cost_per_doc": {"type": "number"},
        "review_ratio": {"type": "number"},
        "review_minutes_per_doc": {"type": "number"},
        "reviewer_cost_per_hour": {"type": "number"}
      }
    }
  }
}`

const runActionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["action"],
  "additionalProperties": false,
  "properties": {
    "action": {"type": "string", "enum": ["cancel", "replay"]},
    "reason": {"type": "string", "maxLength": 500}
  }
}`

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://invoicemind.schemas.local/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("load %s schema: %v", name, err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", name, err))
	}
	return compiled
}

var (
	changeRiskValidator = mustCompileSchema("change-risk", changeRiskSchema)
	capacityValidator   = mustCompileSchema("capacity-estimate", capacityEstimateSchema)
	runActionValidator  = mustCompileSchema("run-action", runActionSchema)
)

// maxBodyBytes bounds request bodies on the POST endpoints.
const maxBodyBytes = 1 << 20

// decodeValidated reads the request body, validates it against the schema,
// then decodes it into out. Returns a client-facing error message on failure.
func decodeValidated(r *http.Request, schema *jsonschema.Schema, out any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("body is not valid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("request validation failed: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
