package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sentrakit/agentcore/internal/registry"
)

// Entry is the planning-time view of one tool: its stable name, capability
// text, and a schema trimmed to required fields so the planner prompt stays
// bounded without losing the constraints it must satisfy.
type Entry struct {
	AIName      string                 `json:"ai_name"`
	Description string                 `json:"description"`
	Provider    string                 `json:"provider"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// CapabilityText is the text embedded and scored during reranking.
func (e Entry) CapabilityText() string {
	var b strings.Builder
	b.WriteString(e.AIName)
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if props, ok := e.InputSchema["properties"].(map[string]interface{}); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString(" (")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Build produces manifest entries for every descriptor, projecting each input
// schema down to its required fields.
func Build(descriptors []registry.Descriptor) []Entry {
	out := make([]Entry, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, Entry{
			AIName:      d.AIName,
			Description: d.Description,
			Provider:    string(d.Provider),
			InputSchema: RequiredView(d.InputSchema),
		})
	}
	return out
}

// Names returns the vocabulary of a manifest, in order.
func Names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.AIName)
	}
	return out
}

// Filter keeps only the entries whose AI name appears in allowed. An empty
// allowed set keeps everything.
func Filter(entries []Entry, allowed []string) []Entry {
	if len(allowed) == 0 {
		return entries
	}
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}
	var out []Entry
	for _, e := range entries {
		if keep[e.AIName] {
			out = append(out, e)
		}
	}
	return out
}

// RequiredView restricts a JSON-Schema-like object to its required fields,
// including fields that are only required under anyOf/oneOf/allOf branches.
func RequiredView(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	required := map[string]bool{}
	props := map[string]interface{}{}
	collect(schema, required, props)
	if len(required) == 0 {
		return map[string]interface{}{"type": "object"}
	}
	names := make([]string, 0, len(required))
	outProps := map[string]interface{}{}
	for name := range required {
		names = append(names, name)
		if def, ok := props[name]; ok {
			outProps[name] = trimPropertyDef(def)
		} else {
			outProps[name] = map[string]interface{}{}
		}
	}
	sort.Strings(names)
	reqList := make([]interface{}, len(names))
	for i, n := range names {
		reqList[i] = n
	}
	return map[string]interface{}{
		"type":       "object",
		"required":   reqList,
		"properties": outProps,
	}
}

// collect walks the schema and every conditional branch, accumulating
// required field names and property definitions.
func collect(schema map[string]interface{}, required map[string]bool, props map[string]interface{}) {
	if list, ok := schema["required"].([]interface{}); ok {
		for _, v := range list {
			if name, ok := v.(string); ok {
				required[name] = true
			}
		}
	}
	if list, ok := schema["required"].([]string); ok {
		for _, name := range list {
			required[name] = true
		}
	}
	if p, ok := schema["properties"].(map[string]interface{}); ok {
		for name, def := range p {
			if _, seen := props[name]; !seen {
				props[name] = def
			}
		}
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		branches, ok := schema[key].([]interface{})
		if !ok {
			continue
		}
		for _, b := range branches {
			if branch, ok := b.(map[string]interface{}); ok {
				collect(branch, required, props)
			}
		}
	}
}

// trimPropertyDef keeps only the type and description of a property.
func trimPropertyDef(def interface{}) interface{} {
	m, ok := def.(map[string]interface{})
	if !ok {
		return def
	}
	out := map[string]interface{}{}
	for _, key := range []string{"type", "description", "enum", "items"} {
		if v, ok := m[key]; ok {
			out[key] = v
		}
	}
	return out
}

// Render formats a manifest as prompt text, one tool per line.
func Render(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e.CapabilityText())
	}
	return b.String()
}
