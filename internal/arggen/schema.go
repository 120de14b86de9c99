package arggen

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileSchema compiles a JSON-Schema-like map. A nil schema compiles to
// "accept anything".
func compileSchema(schema map[string]interface{}) (*jsonschema.Schema, error) {
	if schema == nil {
		schema = map[string]interface{}{"type": "object"}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode tool schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool_schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("tool_schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile tool schema: %w", err)
	}
	return compiled, nil
}

// validationProblems validates args and returns human-readable problems, one
// per offending field, for the repair prompt.
func validationProblems(schema *jsonschema.Schema, args map[string]interface{}) []string {
	// round-trip so typed values (int vs float64) validate uniformly
	raw, err := json.Marshal(args)
	if err != nil {
		return []string{fmt.Sprintf("arguments are not serializable: %v", err)}
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}
	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	seen := map[string]bool{}
	var problems []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			msg := e.Message
			if e.InstanceLocation != "" {
				msg = fmt.Sprintf("field %q: %s", strings.TrimPrefix(e.InstanceLocation, "/"), e.Message)
			}
			if !seen[msg] {
				seen[msg] = true
				problems = append(problems, msg)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(problems)
	return problems
}

// requiredFields reads the top-level required field names from a schema map.
func requiredFields(schema map[string]interface{}) []string {
	if schema == nil {
		return nil
	}
	var out []string
	if list, ok := schema["required"].([]interface{}); ok {
		for _, v := range list {
			if name, ok := v.(string); ok {
				out = append(out, name)
			}
		}
	}
	if list, ok := schema["required"].([]string); ok {
		out = append(out, list...)
	}
	return out
}

// pruneToSchema drops argument keys the schema does not declare.
func pruneToSchema(schema map[string]interface{}, args map[string]interface{}) map[string]interface{} {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return args
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if _, declared := props[k]; declared {
			out[k] = v
		}
	}
	return out
}
