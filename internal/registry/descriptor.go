package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// ProviderKind distinguishes in-process tools from tools exposed by an
// external server.
type ProviderKind string

const (
	ProviderLocal    ProviderKind = "local"
	ProviderExternal ProviderKind = "external"
)

// Descriptor is the registry's view of a single invocable tool. AIName is the
// stable key used by the planner and by cache/cooldown state.
type Descriptor struct {
	AIName      string                 `json:"ai_name"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Provider    ProviderKind           `json:"provider"`
	ServerID    string                 `json:"server_id,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
	Cooldown    time.Duration          `json:"-"`
	Timeout     time.Duration          `json:"-"`
	Tenant      string                 `json:"tenant,omitempty"`
}

const defaultMaxAINameLen = 64

// ExternalAIName builds the namespaced identifier for a tool served by an
// external provider. Characters outside [a-zA-Z0-9_-] are replaced and
// over-length names are truncated with a hash suffix so the result stays
// unique and stable across rebuilds.
func ExternalAIName(serverID, name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultMaxAINameLen
	}
	full := "ext__" + sanitizeName(serverID) + "__" + sanitizeName(name)
	if len(full) <= maxLen {
		return full
	}
	sum := sha256.Sum256([]byte(full))
	keep := maxLen - 13
	if keep > 48 {
		keep = 48
	}
	if keep < 1 {
		keep = 1
	}
	return full[:keep] + "_" + hex.EncodeToString(sum[:])[:12]
}

// LocalAIName builds the identifier for an in-process tool.
func LocalAIName(name string) string {
	return "local__" + sanitizeName(name)
}

func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// canonicalArgs renders arguments with deterministic key order so equal
// argument sets always hash to the same cache key.
func canonicalArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return strings.Join(keys, ",")
	}
	return string(b)
}

// callKey is the exact-cache key for a (tool, args) pair.
func callKey(aiName string, args map[string]interface{}) string {
	sum := sha256.Sum256([]byte(aiName + "\x00" + canonicalArgs(args)))
	return hex.EncodeToString(sum[:])
}

// callSignature is the text embedded for similarity reuse.
func callSignature(aiName string, args map[string]interface{}) string {
	return aiName + " " + canonicalArgs(args)
}
