package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/registry"
)

func pluginByName(t *testing.T, name string) registry.LocalPlugin {
	t.Helper()
	for _, p := range builtinPlugins() {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("no builtin plugin named %q", name)
	return registry.LocalPlugin{}
}

func TestBuiltinPluginsRegister(t *testing.T) {
	reg := registry.New(config.RegistryConfig{DefaultTimeout: time.Second}, registry.Options{})
	reg.RegisterPlugins(builtinPlugins()...)
	for _, name := range []string{"local__current_time", "local__http_get"} {
		if _, ok := reg.Lookup(name); !ok {
			t.Fatalf("builtin %s not indexed", name)
		}
	}
}

func TestCurrentTimePlugin(t *testing.T) {
	h := pluginByName(t, "current_time").Build(nil)
	out, err := h(context.Background(), nil, registry.CallOptions{})
	if err != nil {
		t.Fatalf("current_time failed: %v", err)
	}
	m, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape %T", out)
	}
	stamp, _ := m["time"].(string)
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Fatalf("time %q not RFC 3339: %v", stamp, err)
	}
}

func TestHTTPGetPlugin(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	h := pluginByName(t, "http_get").Build(map[string]string{"AUTH_HEADER": "Bearer tok"})
	out, err := h(context.Background(), map[string]interface{}{"url": srv.URL}, registry.CallOptions{})
	if err != nil {
		t.Fatalf("http_get failed: %v", err)
	}
	m := out.(map[string]interface{})
	if m["body"] != "pong" {
		t.Fatalf("unexpected body %v", m["body"])
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header not forwarded, got %q", gotAuth)
	}

	if _, err := h(context.Background(), map[string]interface{}{}, registry.CallOptions{}); err == nil {
		t.Fatal("expected error for a missing url")
	}
}
