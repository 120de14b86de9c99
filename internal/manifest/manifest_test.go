package manifest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/registry"
)

func TestRequiredViewKeepsOnlyRequiredFields(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"user_id": map[string]interface{}{"type": "integer", "description": "user", "default": 0},
			"verbose": map[string]interface{}{"type": "boolean"},
		},
		"required": []interface{}{"user_id"},
	}
	view := RequiredView(schema)
	props, ok := view["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing properties in view: %#v", view)
	}
	if _, ok := props["user_id"]; !ok {
		t.Fatal("required field dropped from view")
	}
	if _, ok := props["verbose"]; ok {
		t.Fatal("optional field leaked into view")
	}
	def := props["user_id"].(map[string]interface{})
	if _, ok := def["default"]; ok {
		t.Fatal("property def not trimmed")
	}
}

func TestRequiredViewIncludesConditionalBranches(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"path"},
		"anyOf": []interface{}{
			map[string]interface{}{
				"properties": map[string]interface{}{"mode": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"mode"},
			},
			map[string]interface{}{
				"allOf": []interface{}{
					map[string]interface{}{"required": []interface{}{"token"}},
				},
			},
		},
	}
	view := RequiredView(schema)
	req, ok := view["required"].([]interface{})
	if !ok {
		t.Fatalf("missing required list: %#v", view)
	}
	got := make([]string, len(req))
	for i, v := range req {
		got[i] = v.(string)
	}
	want := []string{"mode", "path", "token"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("required = %v, want %v", got, want)
	}
}

func testEntries() []Entry {
	return []Entry{
		{AIName: "local__send_email", Description: "send an email message to a recipient"},
		{AIName: "local__list_files", Description: "list open files owned by a user"},
		{AIName: "local__weather", Description: "current weather forecast for a city"},
	}
}

type axisEmbedder struct{}

// axisEmbedder maps texts to fixed axes so cosine ranking is deterministic:
// anything mentioning "files" lands on the same axis as the query.
func (axisEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		switch {
		case contains(text, "files"):
			out[i] = []float32{1, 0, 0}
		case contains(text, "email"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestCoarseRerankByEmbedding(t *testing.T) {
	cfg := config.RerankConfig{TopN: 2}
	r := NewReranker(cfg, axisEmbedder{}, nil)
	got := r.Rerank(context.Background(), testEntries(), "which files does user 42 have open", nil)
	if len(got) != 2 {
		t.Fatalf("expected top 2, got %d entries", len(got))
	}
	if got[0].AIName != "local__list_files" {
		t.Fatalf("expected list_files first, got %s", got[0].AIName)
	}
}

type stubScorer struct {
	perQuery map[string][]ScoredDocument
	err      error
	calls    []string
}

func (s *stubScorer) Score(_ context.Context, query string, _ []string) ([]ScoredDocument, error) {
	s.calls = append(s.calls, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.perQuery[query], nil
}

func TestFineRerankFusesSubQueries(t *testing.T) {
	cfg := config.RerankConfig{
		Enabled:         true,
		TopN:            3,
		WeightFrequency: 1,
		WeightScore:     1,
		WeightRank:      1,
	}
	scorer := &stubScorer{perQuery: map[string][]ScoredDocument{
		// doc 2 hits both sub-queries, doc 0 only one of them strongly
		"sub a": {{Index: 0, Score: 0.9}, {Index: 2, Score: 0.5}},
		"sub b": {{Index: 2, Score: 0.8}},
	}}
	// nil embedder + unmatchable query: coarse pass keeps manifest order, so
	// the stub's document indices line up with testEntries.
	r := NewReranker(cfg, nil, scorer)
	got := r.Rerank(context.Background(), testEntries(), "zzzz unrelated", []string{"sub a", "sub b"})
	if len(scorer.calls) != 2 {
		t.Fatalf("expected one scoring call per sub-query, got %v", scorer.calls)
	}
	// doc 2: freq 2 + score 1.3 + rr (1/2 + 1/1) = 4.8; doc 0: 1 + 0.9 + 1 = 2.9
	if got[0].AIName != testEntries()[2].AIName {
		t.Fatalf("expected fused winner to be entry 2, got %s", got[0].AIName)
	}
}

func TestFineRerankFailureFallsBackToCoarse(t *testing.T) {
	cfg := config.RerankConfig{Enabled: true, TopN: 2}
	scorer := &stubScorer{err: errors.New("service down")}
	r := NewReranker(cfg, axisEmbedder{}, scorer)
	got := r.Rerank(context.Background(), testEntries(), "open files", nil)
	if len(got) != 2 || got[0].AIName != "local__list_files" {
		t.Fatalf("expected coarse fallback order, got %+v", got)
	}
}

func TestRerankTiesKeepManifestOrder(t *testing.T) {
	// no embedder and an unmatchable query: all scores equal, order preserved
	r := NewReranker(config.RerankConfig{}, nil, nil)
	got := r.Rerank(context.Background(), testEntries(), "zzzzqqqq", nil)
	want := Names(testEntries())
	if !reflect.DeepEqual(Names(got), want) {
		t.Fatalf("tie order changed: %v, want %v", Names(got), want)
	}
}

func TestLexicalFallbackRanksMatches(t *testing.T) {
	r := NewReranker(config.RerankConfig{TopN: 1}, nil, nil)
	got := r.Rerank(context.Background(), testEntries(), "weather forecast", nil)
	if len(got) != 1 || got[0].AIName != "local__weather" {
		t.Fatalf("expected lexical match on weather, got %+v", got)
	}
}

func TestBuildAndFilter(t *testing.T) {
	descs := []registry.Descriptor{
		{AIName: "local__a", Description: "a", Provider: registry.ProviderLocal,
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"x": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"x"},
			}},
		{AIName: "local__b", Description: "b", Provider: registry.ProviderLocal},
	}
	entries := Build(descs)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	filtered := Filter(entries, []string{"local__b"})
	if len(filtered) != 1 || filtered[0].AIName != "local__b" {
		t.Fatalf("filter failed: %+v", filtered)
	}
	if got := Filter(entries, nil); len(got) != 2 {
		t.Fatal("empty allowed set should keep everything")
	}
}
