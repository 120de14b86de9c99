package registry

import (
	"fmt"
	"time"
)

// Failure codes surfaced by the registry. Only CodeCooldownActive is ever
// retried in-process; every other code is returned to the caller untouched.
const (
	CodeOK             = "OK"
	CodeNotFound       = "NOT_FOUND"
	CodeForbidden      = "FORBIDDEN"
	CodeCooldownActive = "COOLDOWN_ACTIVE"
	CodeTimeout        = "TIMEOUT"
	CodeErr            = "ERR"
)

// ToolResult is the normalized outcome of a tool invocation.
type ToolResult struct {
	Success  bool        `json:"success"`
	Code     string      `json:"code,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Provider string      `json:"provider,omitempty"`
}

// ToolError carries a failure code alongside a message. RetryAfter is only
// set for cooldown failures.
type ToolError struct {
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Cacheable reports whether the result may be written to the caches: the call
// succeeded and the payload does not itself declare a nested failure.
func (r ToolResult) Cacheable() bool {
	if !r.Success {
		return false
	}
	if m, ok := r.Data.(map[string]interface{}); ok {
		if s, ok := m["success"].(bool); ok && !s {
			return false
		}
	}
	return true
}

func failure(code, provider, msg string) ToolResult {
	return ToolResult{Success: false, Code: code, Error: msg, Provider: provider}
}

// normalizeOutcome converts a raw handler/provider return value into a
// ToolResult. A nested {"success": false} payload is unwrapped into a
// top-level failure so a provider-reported error is never treated as a
// cacheable success.
func normalizeOutcome(raw interface{}, provider string) ToolResult {
	switch v := raw.(type) {
	case ToolResult:
		v.Provider = provider
		return unwrapNested(v)
	case map[string]interface{}:
		if content, ok := v["content"]; ok {
			return normalizeContent(content, v["structuredContent"], v["isError"], provider)
		}
		if s, ok := v["success"].(bool); ok {
			res := ToolResult{Success: s, Provider: provider}
			if c, ok := v["code"].(string); ok {
				res.Code = c
			}
			if e, ok := v["error"].(string); ok {
				res.Error = e
			}
			res.Data = v["data"]
			if !res.Success && res.Code == "" {
				res.Code = CodeErr
			}
			return unwrapNested(res)
		}
		return unwrapNested(ToolResult{Success: true, Code: CodeOK, Data: v, Provider: provider})
	default:
		return ToolResult{Success: true, Code: CodeOK, Data: raw, Provider: provider}
	}
}

// normalizeContent handles the remote provider content shape:
// {content: [{type:"text", text}...], structuredContent?, isError?}.
func normalizeContent(content, structured, isErr interface{}, provider string) ToolResult {
	text := ""
	if items, ok := content.([]interface{}); ok {
		for _, it := range items {
			m, ok := it.(map[string]interface{})
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				if text != "" {
					text += "\n"
				}
				text += t
			}
		}
	}
	if b, ok := isErr.(bool); ok && b {
		return failure(CodeErr, provider, text)
	}
	res := ToolResult{Success: true, Code: CodeOK, Provider: provider}
	if structured != nil {
		res.Data = structured
	} else if text != "" {
		res.Data = map[string]interface{}{"text": text}
	}
	return unwrapNested(res)
}

func unwrapNested(res ToolResult) ToolResult {
	if !res.Success {
		return res
	}
	m, ok := res.Data.(map[string]interface{})
	if !ok {
		return res
	}
	if s, ok := m["success"].(bool); ok && !s {
		out := failure(CodeErr, res.Provider, "")
		if c, ok := m["code"].(string); ok && c != "" {
			out.Code = c
		}
		if e, ok := m["error"].(string); ok {
			out.Error = e
		}
		out.Data = m["data"]
		return out
	}
	return res
}
