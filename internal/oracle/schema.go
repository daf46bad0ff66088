package oracle

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
)

// JudgeSchemaJSON is the expected-output schema for judge requests. It is
// materialized under the state directory so CLI backends can pass it to
// the oracle by path.
const JudgeSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["pass", "problems", "summary"],
  "properties": {
    "pass": {"type": "boolean"},
    "blocking": {"type": "boolean"},
    "summary": {"type": "string"},
    "problems": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["severity", "description"],
        "properties": {
          "severity": {"type": "string", "enum": ["low", "medium", "high"]},
          "description": {"type": "string"},
          "blocking": {"type": "boolean"}
        }
      }
    },
    "rewrite_instructions": {
      "type": "array",
      "items": {"type": "string"}
    }
  }
}
`

// RewriteSchemaJSON is the expected-output schema for rewrite requests.
const RewriteSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["revised_plan_markdown"],
  "properties": {
    "revised_plan_markdown": {"type": "string"},
    "applied_fixes": {"type": "array", "items": {"type": "string"}},
    "remaining_risks": {"type": "array", "items": {"type": "string"}},
    "summary": {"type": "string"}
  }
}
`

var (
	judgeSchema   = mustParseSchema(JudgeSchemaJSON)
	rewriteSchema = mustParseSchema(RewriteSchemaJSON)
)

func mustParseSchema(raw string) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		panic(fmt.Sprintf("invalid embedded schema: %v", err))
	}
	return schema
}

// Schema returns the parsed expected-output schema for a phase.
func Schema(phase Phase) map[string]any {
	if phase == PhaseRewrite {
		return rewriteSchema
	}
	return judgeSchema
}

// SchemaJSON returns the raw schema document for a phase.
func SchemaJSON(phase Phase) string {
	if phase == PhaseRewrite {
		return RewriteSchemaJSON
	}
	return JudgeSchemaJSON
}

// SchemaFileName returns the file name a phase's schema is materialized
// under in the state directory.
func SchemaFileName(phase Phase) string {
	return string(phase) + ".json"
}

// MaterializeSchemas writes both phase schemas under dir and returns the
// path written for each phase.
func MaterializeSchemas(dir string) (map[Phase]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create schema directory: %w", err)
	}

	paths := make(map[Phase]string, 2)
	for _, phase := range []Phase{PhaseJudge, PhaseRewrite} {
		path := filepath.Join(dir, SchemaFileName(phase))
		if err := os.WriteFile(path, []byte(SchemaJSON(phase)), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s schema: %w", phase, err)
		}
		paths[phase] = path
	}
	return paths, nil
}

// ValidateAgainstSchema checks data against the subset of JSON Schema the
// oracle schemas use: type, enum, properties, required,
// additionalProperties, and items. It returns one message per violation,
// rooted at "$".
func ValidateAgainstSchema(data any, schema map[string]any) []string {
	return validateNode(data, schema, "$")
}

func validateNode(data any, schema map[string]any, path string) []string {
	var errs []string

	expected, _ := schema["type"].(string)
	if expected != "" && !validateType(data, expected) {
		return []string{fmt.Sprintf("%s: expected %s, got %s", path, expected, typeName(data))}
	}

	if enum, ok := schema["enum"].([]any); ok {
		matched := false
		for _, allowed := range enum {
			if allowed == data {
				matched = true
				break
			}
		}
		if !matched {
			return []string{fmt.Sprintf("%s: %v is not one of the allowed values", path, data)}
		}
	}

	switch expected {
	case "object":
		obj := data.(map[string]any)
		properties, _ := schema["properties"].(map[string]any)
		required, _ := schema["required"].([]any)
		additionalAllowed := true
		if allowed, ok := schema["additionalProperties"].(bool); ok {
			additionalAllowed = allowed
		}

		for _, key := range required {
			name, _ := key.(string)
			if _, ok := obj[name]; !ok {
				errs = append(errs, fmt.Sprintf("%s.%s: missing required field", path, name))
			}
		}
		for _, key := range slices.Sorted(maps.Keys(obj)) {
			if propSchema, ok := properties[key].(map[string]any); ok {
				errs = append(errs, validateNode(obj[key], propSchema, path+"."+key)...)
			} else if !additionalAllowed {
				errs = append(errs, fmt.Sprintf("%s.%s: additional property not allowed", path, key))
			}
		}

	case "array":
		if itemSchema, ok := schema["items"].(map[string]any); ok {
			for idx, item := range data.([]any) {
				errs = append(errs, validateNode(item, itemSchema, fmt.Sprintf("%s[%d]", path, idx))...)
			}
		}
	}

	return errs
}

// validateType reports whether value matches a JSON Schema primitive type
// name. Numbers decode as float64, so "integer" additionally requires a
// whole value.
func validateType(value any, expected string) bool {
	switch expected {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	}
	return true
}

func typeName(value any) string {
	switch value.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}
