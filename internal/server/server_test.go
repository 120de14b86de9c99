package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/registry"
	"github.com/sentrakit/agentcore/internal/runner"
	"github.com/sentrakit/agentcore/internal/store"
)

type stubLauncher struct {
	lastObjective string
	lastTenant    string
}

func (s *stubLauncher) Run(ctx context.Context, objective string, opts registry.CallOptions, conversation []string) runner.RunResult {
	s.lastObjective = objective
	s.lastTenant = opts.Tenant
	return runner.RunResult{RunID: "run-1", Objective: objective}
}

func (s *stubLauncher) ListAvailableTools() []registry.Descriptor {
	return []registry.Descriptor{{AIName: "local__list_files", Name: "list_files"}}
}

func newTestServer(t *testing.T, st *store.Store) (*Server, *stubLauncher) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	reg := registry.New(config.RegistryConfig{DefaultTimeout: time.Second}, registry.Options{})
	launcher := &stubLauncher{}
	srv, err := New(config.ServerConfig{
		JWTSecret:     "test-secret",
		AdminUser:     "admin",
		AdminPassHash: string(hash),
	}, reg, launcher, st, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, launcher
}

func loginToken(t *testing.T, srv *Server) string {
	t.Helper()
	e := srv.Echo()
	body, _ := json.Marshal(map[string]string{"user": "admin", "password": "correct horse"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	if resp["token"] == "" {
		t.Fatal("expected a token")
	}
	return resp["token"]
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	e := srv.Echo()
	body, _ := json.Marshal(map[string]string{"user": "admin", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	e := srv.Echo()
	for _, path := range []string{"/api/tools", "/api/runs", "/api/cooldowns"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", path, rec.Code)
		}
	}
}

func TestToolsListWithToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	token := loginToken(t, srv)
	e := srv.Echo()
	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tools []registry.Descriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &tools); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tools) != 1 || tools[0].AIName != "local__list_files" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestStartRun(t *testing.T) {
	srv, launcher := newTestServer(t, nil)
	token := loginToken(t, srv)
	e := srv.Echo()

	body, _ := json.Marshal(map[string]string{"objective": "list files", "tenant": "team-a"})
	req := httptest.NewRequest(http.MethodPost, "/api/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if launcher.lastObjective != "list files" || launcher.lastTenant != "team-a" {
		t.Fatalf("launcher saw %q/%q", launcher.lastObjective, launcher.lastTenant)
	}
	var result runner.RunResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.RunID != "run-1" {
		t.Fatalf("unexpected run id %q", result.RunID)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/run", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing objective, got %d", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "objective", "evaluation", "summary", "created_at"}).
		AddRow("run-1", "list files", []byte(`{"success":true}`), []byte(`{"summary":"done"}`), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs ORDER BY created_at DESC LIMIT $1")).
		WithArgs(50).
		WillReturnRows(rows)

	srv, _ := newTestServer(t, &store.Store{DB: db})
	token := loginToken(t, srv)
	e := srv.Echo()
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var runs []store.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	// Without a store the endpoint reports persistence unavailable.
	srvNoStore, _ := newTestServer(t, nil)
	token = loginToken(t, srvNoStore)
	e = srvNoStore.Echo()
	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without store, got %d", rec.Code)
	}
}

func TestReloadEnvs(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.registry.RegisterPlugins(registry.LocalPlugin{
		Name: "echo_token",
		InputSchema: map[string]interface{}{
			"type": "object",
		},
		Build: func(env map[string]string) registry.Handler {
			token := env["TOKEN"]
			return func(ctx context.Context, args map[string]interface{}, opts registry.CallOptions) (interface{}, error) {
				return token, nil
			}
		},
	})
	token := loginToken(t, srv)
	e := srv.Echo()

	body, _ := json.Marshal(map[string]interface{}{"envs": map[string]map[string]string{"echo_token": {"TOKEN": "rotated"}}})
	req := httptest.NewRequest(http.MethodPost, "/api/reload/envs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	res := srv.registry.CallByAIName(context.Background(), "local__echo_token", map[string]interface{}{}, registry.CallOptions{})
	if !res.Success || res.Data != "rotated" {
		t.Fatalf("expected rotated token, got %+v", res)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/reload/envs", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty envs, got %d", rec.Code)
	}
}
