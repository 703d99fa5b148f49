package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON schema a config file must satisfy before it is decoded.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "data_dir": {"type": "string"},
    "audit_file": {"type": "string"},
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"},
        "redaction": {"type": "boolean"},
        "max_size": {"type": "integer", "minimum": 0},
        "max_age": {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"}
      }
    },
    "memory": {
      "type": "object",
      "properties": {
        "hierarchy": {"type": "array", "items": {"$ref": "#/definitions/layer"}},
        "extra": {"type": "array", "items": {"$ref": "#/definitions/layer"}},
        "embedding": {
          "type": "object",
          "properties": {
            "provider": {"type": "string", "enum": ["hash", "openai"]},
            "model": {"type": "string"},
            "api_key": {"type": "string"},
            "base_url": {"type": "string"},
            "dimension": {"type": "integer", "minimum": 0}
          }
        }
      }
    },
    "search": {
      "type": "object",
      "properties": {
        "keyword_weight": {"type": "number", "minimum": 0},
        "semantic_weight": {"type": "number", "minimum": 0},
        "fusion_method": {"type": "string", "enum": ["weighted_sum", "reciprocal_rank_fusion"]},
        "rrf_k": {"type": "integer", "minimum": 0},
        "min_keyword_score": {"type": "number"},
        "min_semantic_score": {"type": "number"},
        "keyword_timeout": {"$ref": "#/definitions/duration"},
        "semantic_timeout": {"$ref": "#/definitions/duration"},
        "default_limit": {"type": "integer", "minimum": 1},
        "boosts": {
          "type": "object",
          "propertyNames": {"enum": ["factual", "conceptual", "conversational"]},
          "additionalProperties": {
            "type": "object",
            "properties": {
              "keyword": {"type": "number", "minimum": 0},
              "semantic": {"type": "number", "minimum": 0}
            }
          }
        }
      }
    },
    "tracing": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "service_name": {"type": "string"},
        "sample_ratio": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "addr": {"type": "string"}
      }
    }
  },
  "definitions": {
    "duration": {
      "oneOf": [
        {"type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"},
        {"type": "integer", "minimum": 1}
      ]
    },
    "layer": {
      "type": "object",
      "required": ["name", "backend"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "backend": {"type": "string", "enum": ["memory", "redis", "sqlite", "vector"]},
        "path": {"type": "string"},
        "url": {"type": "string"},
        "namespace": {"type": "string"},
        "purge_schedule": {"type": "string"}
      },
      "additionalProperties": false
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ValidateSchema checks raw config JSON against Schema.
func ValidateSchema(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("config does not match schema: %s", strings.Join(msgs, "; "))
	}

	return nil
}
