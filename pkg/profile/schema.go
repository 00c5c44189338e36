package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const schemaURL = "profile.schema.json"

const schemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["models", "category", "channels"],
  "additionalProperties": false,
  "properties": {
    "models": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "category": {"enum": ["basic", "vacuum", "philipsair", "unsupported"]},
    "propertyMethod": {"type": "string", "minLength": 1},
    "maxProperties": {"type": "integer", "minimum": 1},
    "channels": {
      "type": "array",
      "items": {"$ref": "#/$defs/channel"}
    }
  },
  "$defs": {
    "channel": {
      "type": "object",
      "required": ["id", "type"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "property": {"type": "string"},
        "friendlyName": {"type": "string"},
        "type": {"enum": ["Switch", "Number", "String"]},
        "refresh": {"type": "boolean"},
        "action": {
          "type": "object",
          "required": ["command"],
          "additionalProperties": false,
          "properties": {
            "command": {"type": "string", "minLength": 1},
            "parameterType": {"enum": ["none", "onoff", "flag", "number", "string"]}
          }
        }
      }
    }
  }
}`

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compiledErr    error
)

func profileSchema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaDoc))
		if err != nil {
			compiledErr = fmt.Errorf("failed to unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compiledErr = fmt.Errorf("failed to add resource: %w", err)
			return
		}
		compiledSchema, compiledErr = c.Compile(schemaURL)
	})
	return compiledSchema, compiledErr
}

// validateDocument checks a YAML profile document against the schema.
func validateDocument(data []byte) error {
	sch, err := profileSchema()
	if err != nil {
		return err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(js))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}
