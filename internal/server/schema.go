package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const requestSchemaURL = "https://regionline.local/schemas/webservice-request.json"

const requestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["actions", "fragments"],
  "properties": {
    "path": {"type": "string"},
    "actions": {"type": "object", "additionalProperties": {"$ref": "#/$defs/action"}},
    "fragments": {"type": "object", "additionalProperties": {"$ref": "#/$defs/fragment"}},
    "variables": {"type": ["object", "null"], "additionalProperties": {"type": ["string", "null"]}},
    "continuation": {"type": "string"}
  },
  "$defs": {
    "value": {
      "oneOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}}
      ]
    },
    "action": {
      "type": "object",
      "required": ["moniker", "class"],
      "properties": {
        "moniker": {"type": "string", "minLength": 1},
        "class": {"type": "string", "minLength": 1},
        "order": {"type": "integer"},
        "fields": {
          "type": ["object", "null"],
          "additionalProperties": {
            "type": "object",
            "propertyNames": {"enum": ["value", "fallback", "doublefallback"]},
            "additionalProperties": {"$ref": "#/$defs/value"}
          }
        }
      }
    },
    "fragment": {
      "type": "object",
      "required": ["name", "path"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "path": {"type": "string"},
        "args": {"type": ["object", "null"], "additionalProperties": {"type": "string"}},
        "parent": {"oneOf": [{"type": "null"}, {"$ref": "#/$defs/fragment"}]},
        "wrapper": {"type": "boolean"},
        "in_form": {"type": "boolean"}
      }
    }
  }
}`

func compileRequestSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(requestSchemaURL, strings.NewReader(requestSchema)); err != nil {
		return nil, fmt.Errorf("request schema load failed: %w", err)
	}
	compiled, err := c.Compile(requestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("request schema compile failed: %w", err)
	}
	return compiled, nil
}

// checkRequest validates a raw webservice body against the request schema.
func checkRequest(schema *jsonschema.Schema, body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid request json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("request schema validation failed: %w", err)
	}
	return nil
}
