package document

import (
	"bytes"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://tasksync.local/schemas/document.json"

// Top-level fields may be absent or null; they are healed after decoding.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "dateEntries": {
      "type": ["object", "null"],
      "propertyNames": { "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$" },
      "additionalProperties": { "$ref": "#/$defs/day" }
    },
    "tabs": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": { "type": "string" },
          "name": { "type": "string" }
        }
      }
    },
    "listItems": {
      "type": ["object", "null"],
      "additionalProperties": {
        "oneOf": [
          { "type": "string" },
          { "type": "array", "items": { "$ref": "#/$defs/item" } },
          { "type": "null" }
        ]
      }
    }
  },
  "$defs": {
    "item": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string" },
        "completed": { "type": "boolean" }
      }
    },
    "day": {
      "type": "object",
      "properties": {
        "disciplines": {
          "type": ["object", "null"],
          "additionalProperties": { "type": "boolean" }
        },
        "tasks": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["name"],
            "properties": {
              "name": { "type": "string" },
              "completed": { "type": "boolean" },
              "priority": { "type": "boolean" }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	raw, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, raw); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
})

func validateSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}
