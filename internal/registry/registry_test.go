package registry

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentrakit/agentcore/config"
)

func testConfig() config.RegistryConfig {
	return config.RegistryConfig{
		DefaultTimeout:     2 * time.Second,
		CacheEnabled:       true,
		CacheTTL:           time.Minute,
		ReuseEnabled:       false,
		CooldownMaxRetries: 0,
		MaxExternalNameLen: 64,
	}
}

func countingPlugin(name string, calls *int64, result interface{}, err error) LocalPlugin {
	return LocalPlugin{
		Name:        name,
		Description: name + " test plugin",
		InputSchema: map[string]interface{}{"type": "object"},
		Build: func(map[string]string) Handler {
			return func(context.Context, map[string]interface{}, CallOptions) (interface{}, error) {
				atomic.AddInt64(calls, 1)
				return result, err
			}
		},
	}
}

func TestCallExactCacheSkipsReinvocation(t *testing.T) {
	var calls int64
	r := New(testConfig(), Options{Store: NewMemoryStore()})
	r.RegisterPlugins(countingPlugin("echo", &calls, map[string]interface{}{"value": 42}, nil))

	args := map[string]interface{}{"user": float64(7)}
	first := r.CallByAIName(context.Background(), LocalAIName("echo"), args, CallOptions{})
	if !first.Success {
		t.Fatalf("first call failed: %+v", first)
	}
	second := r.CallByAIName(context.Background(), LocalAIName("echo"), args, CallOptions{})
	if !second.Success {
		t.Fatalf("second call failed: %+v", second)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected 1 underlying invocation, got %d", got)
	}
}

func TestCallDifferentArgsMissCache(t *testing.T) {
	var calls int64
	r := New(testConfig(), Options{Store: NewMemoryStore()})
	r.RegisterPlugins(countingPlugin("echo", &calls, "ok", nil))

	r.CallByAIName(context.Background(), LocalAIName("echo"), map[string]interface{}{"a": 1}, CallOptions{})
	r.CallByAIName(context.Background(), LocalAIName("echo"), map[string]interface{}{"a": 2}, CallOptions{})
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expected 2 invocations for distinct args, got %d", got)
	}
}

func TestCooldownRejectsSecondCall(t *testing.T) {
	var calls int64
	cfg := testConfig()
	cfg.CacheEnabled = false
	r := New(cfg, Options{Store: NewMemoryStore()})
	plugin := countingPlugin("slowpoke", &calls, "ok", nil)
	plugin.Cooldown = time.Minute
	r.RegisterPlugins(plugin)

	first := r.CallByAIName(context.Background(), LocalAIName("slowpoke"), nil, CallOptions{})
	if !first.Success {
		t.Fatalf("first call failed: %+v", first)
	}
	second := r.CallByAIName(context.Background(), LocalAIName("slowpoke"), nil, CallOptions{})
	if second.Success || second.Code != CodeCooldownActive {
		t.Fatalf("expected COOLDOWN_ACTIVE, got %+v", second)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("cooldown-rejected call reached the handler (%d invocations)", got)
	}
	data, ok := second.Data.(map[string]interface{})
	if !ok || data["retry_after_ms"] == nil {
		t.Fatalf("expected retry_after_ms in data, got %#v", second.Data)
	}
}

func TestCooldownLocalFallbackWithoutStore(t *testing.T) {
	var calls int64
	cfg := testConfig()
	cfg.CacheEnabled = false
	r := New(cfg, Options{})
	plugin := countingPlugin("gated", &calls, "ok", nil)
	plugin.Cooldown = time.Minute
	r.RegisterPlugins(plugin)

	if res := r.CallByAIName(context.Background(), LocalAIName("gated"), nil, CallOptions{}); !res.Success {
		t.Fatalf("first call failed: %+v", res)
	}
	if res := r.CallByAIName(context.Background(), LocalAIName("gated"), nil, CallOptions{}); res.Code != CodeCooldownActive {
		t.Fatalf("expected local cooldown without store, got %+v", res)
	}
}

func TestGovernanceDenialIsTerminal(t *testing.T) {
	var calls int64
	cfg := testConfig()
	cfg.DisabledTools = []string{"secrets"}
	store := NewMemoryStore()
	r := New(cfg, Options{Store: store})
	r.RegisterPlugins(countingPlugin("secrets", &calls, "ok", nil))

	for i := 0; i < 2; i++ {
		res := r.CallByAIName(context.Background(), LocalAIName("secrets"), nil, CallOptions{})
		if res.Success || res.Code != CodeForbidden {
			t.Fatalf("expected FORBIDDEN, got %+v", res)
		}
	}
	if got := atomic.LoadInt64(&calls); got != 0 {
		t.Fatalf("forbidden call reached the handler (%d invocations)", got)
	}
	if _, ok := r.exact.Get(context.Background(), callKey(LocalAIName("secrets"), nil)); ok {
		t.Fatal("forbidden result leaked into the cache")
	}
}

func TestTenantMismatchForbidden(t *testing.T) {
	var calls int64
	r := New(testConfig(), Options{})
	plugin := countingPlugin("billing", &calls, "ok", nil)
	plugin.Tenant = "acme"
	r.RegisterPlugins(plugin)

	res := r.CallByAIName(context.Background(), LocalAIName("billing"), nil, CallOptions{Tenant: "globex"})
	if res.Code != CodeForbidden {
		t.Fatalf("expected FORBIDDEN for tenant mismatch, got %+v", res)
	}
	if res := r.CallByAIName(context.Background(), LocalAIName("billing"), nil, CallOptions{Tenant: "acme"}); !res.Success {
		t.Fatalf("matching tenant should pass, got %+v", res)
	}
}

func TestUnknownToolNotFound(t *testing.T) {
	r := New(testConfig(), Options{})
	res := r.CallByAIName(context.Background(), "local__missing", nil, CallOptions{})
	if res.Success || res.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %+v", res)
	}
}

func TestNestedFailureUnwrappedAndNotCached(t *testing.T) {
	var calls int64
	r := New(testConfig(), Options{Store: NewMemoryStore()})
	nested := map[string]interface{}{"success": false, "code": "ERR", "error": "upstream 500"}
	r.RegisterPlugins(countingPlugin("flaky", &calls, nested, nil))

	res := r.CallByAIName(context.Background(), LocalAIName("flaky"), nil, CallOptions{})
	if res.Success {
		t.Fatalf("nested failure should surface as failure, got %+v", res)
	}
	if res.Error != "upstream 500" {
		t.Fatalf("expected nested error message, got %q", res.Error)
	}
	r.CallByAIName(context.Background(), LocalAIName("flaky"), nil, CallOptions{})
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("failure was cached, expected 2 invocations, got %d", got)
	}
}

func TestHandlerErrorBecomesErr(t *testing.T) {
	var calls int64
	r := New(testConfig(), Options{})
	r.RegisterPlugins(countingPlugin("boom", &calls, nil, errors.New("disk on fire")))

	res := r.CallByAIName(context.Background(), LocalAIName("boom"), nil, CallOptions{})
	if res.Success || res.Code != CodeErr || !strings.Contains(res.Error, "disk on fire") {
		t.Fatalf("expected ERR with handler message, got %+v", res)
	}
}

func TestDispatchTimeout(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, Options{})
	r.RegisterPlugins(LocalPlugin{
		Name:    "sleeper",
		Timeout: 30 * time.Millisecond,
		Build: func(map[string]string) Handler {
			return func(ctx context.Context, _ map[string]interface{}, _ CallOptions) (interface{}, error) {
				select {
				case <-time.After(time.Second):
					return "late", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		},
	})

	res := r.CallByAIName(context.Background(), LocalAIName("sleeper"), nil, CallOptions{})
	if res.Success || res.Code != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", res)
	}
}

type stubEmbedder struct {
	vec []float32
}

func (s stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func TestSimilarityReuse(t *testing.T) {
	var calls int64
	cfg := testConfig()
	cfg.CacheEnabled = false
	cfg.ReuseEnabled = true
	cfg.ReuseThreshold = 0.95
	cfg.ReusePoolSize = 8
	r := New(cfg, Options{Store: NewMemoryStore(), Embedder: stubEmbedder{vec: []float32{0.1, 0.9, 0.3}}})
	r.RegisterPlugins(countingPlugin("lookup", &calls, "cached answer", nil))

	r.CallByAIName(context.Background(), LocalAIName("lookup"), map[string]interface{}{"q": "open files"}, CallOptions{})
	res := r.CallByAIName(context.Background(), LocalAIName("lookup"), map[string]interface{}{"q": "files open"}, CallOptions{})
	if !res.Success {
		t.Fatalf("reuse call failed: %+v", res)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected similarity reuse to skip the handler, got %d invocations", got)
	}
}

func TestSimilarityPoolTrimmed(t *testing.T) {
	store := NewMemoryStore()
	sim := &similarityCache{store: store, embedder: stubEmbedder{vec: []float32{1, 0}}, threshold: 2, poolSize: 3}
	for i := 0; i < 6; i++ {
		sim.Put(context.Background(), "local__x", map[string]interface{}{"i": i}, ToolResult{Success: true})
	}
	card, err := store.ZCard(context.Background(), sim.poolKey("local__x"))
	if err != nil {
		t.Fatalf("zcard: %v", err)
	}
	if card != 3 {
		t.Fatalf("expected pool trimmed to 3, got %d", card)
	}
}

type stubExternal struct {
	tools   []ExternalTool
	listErr error
	result  interface{}
	callErr error
	called  []string
}

func (s *stubExternal) ListTools(context.Context, string) ([]ExternalTool, error) {
	return s.tools, s.listErr
}

func (s *stubExternal) CallTool(_ context.Context, _, name string, _ map[string]interface{}) (interface{}, error) {
	s.called = append(s.called, name)
	return s.result, s.callErr
}

func (s *stubExternal) ServerIDs() []string { return []string{"files"} }
func (s *stubExternal) Close() error        { return nil }

func TestExternalToolIndexedAndCalled(t *testing.T) {
	ext := &stubExternal{
		tools: []ExternalTool{{Name: "list files", Description: "lists files"}},
		result: map[string]interface{}{
			"content":           []interface{}{map[string]interface{}{"type": "text", "text": "a.txt"}},
			"structuredContent": map[string]interface{}{"files": []interface{}{"a.txt"}},
		},
	}
	r := New(testConfig(), Options{External: ext})
	if err := r.RefreshExternal(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	aiName := ExternalAIName("files", "list files", 64)
	desc, ok := r.Lookup(aiName)
	if !ok {
		t.Fatalf("external tool not indexed under %q", aiName)
	}
	if strings.ContainsAny(desc.AIName, " .") {
		t.Fatalf("ai name not sanitized: %q", desc.AIName)
	}

	res := r.CallByAIName(context.Background(), aiName, nil, CallOptions{})
	if !res.Success {
		t.Fatalf("external call failed: %+v", res)
	}
	if len(ext.called) != 1 || ext.called[0] != "list files" {
		t.Fatalf("expected native name to reach the provider, got %v", ext.called)
	}
	data, ok := res.Data.(map[string]interface{})
	if !ok || data["files"] == nil {
		t.Fatalf("structured content should win over text, got %#v", res.Data)
	}
}

func TestExternalIsErrorBecomesFailure(t *testing.T) {
	ext := &stubExternal{
		tools: []ExternalTool{{Name: "probe"}},
		result: map[string]interface{}{
			"content": []interface{}{map[string]interface{}{"type": "text", "text": "boom"}},
			"isError": true,
		},
	}
	r := New(testConfig(), Options{External: ext})
	if err := r.RefreshExternal(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	res := r.CallByAIName(context.Background(), ExternalAIName("files", "probe", 64), nil, CallOptions{})
	if res.Success || res.Code != CodeErr || res.Error != "boom" {
		t.Fatalf("expected ERR with text message, got %+v", res)
	}
}

func TestExternalAINameTruncation(t *testing.T) {
	long := strings.Repeat("verylongtoolname", 10)
	name := ExternalAIName("srv", long, 64)
	if len(name) > 64 {
		t.Fatalf("name exceeds limit: %d chars", len(name))
	}
	again := ExternalAIName("srv", long, 64)
	if name != again {
		t.Fatalf("truncated name not stable: %q vs %q", name, again)
	}
	other := ExternalAIName("srv", long+"x", 64)
	if name == other {
		t.Fatal("distinct tools collided after truncation")
	}
}

func TestReloadEnvsRebuildsHandlers(t *testing.T) {
	r := New(testConfig(), Options{})
	r.RegisterPlugins(LocalPlugin{
		Name: "whoami",
		Build: func(env map[string]string) Handler {
			token := env["TOKEN"]
			return func(context.Context, map[string]interface{}, CallOptions) (interface{}, error) {
				return token, nil
			}
		},
	})

	res := r.CallByAIName(context.Background(), LocalAIName("whoami"), nil, CallOptions{NoCache: true})
	if res.Data != "" {
		t.Fatalf("expected empty token, got %#v", res.Data)
	}
	r.ReloadEnvs(map[string]map[string]string{"whoami": {"TOKEN": "rotated"}})
	res = r.CallByAIName(context.Background(), LocalAIName("whoami"), nil, CallOptions{NoCache: true})
	if res.Data != "rotated" {
		t.Fatalf("expected rotated token after env reload, got %#v", res.Data)
	}
}

func TestCanonicalArgsStable(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1, "nested": map[string]interface{}{"y": 2, "x": 1}}
	b := map[string]interface{}{"nested": map[string]interface{}{"x": 1, "y": 2}, "a": 1, "b": 2}
	if canonicalArgs(a) != canonicalArgs(b) {
		t.Fatalf("canonical form differs: %s vs %s", canonicalArgs(a), canonicalArgs(b))
	}
	if callKey("t", a) != callKey("t", b) {
		t.Fatal("equal args hashed to different keys")
	}
}
