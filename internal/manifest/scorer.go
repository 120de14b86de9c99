package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentrakit/agentcore/config"
)

// HTTPScorer calls an external cross-encoder relevance service with the
// common rerank API shape: {model, query, documents} in, indexed relevance
// scores out.
type HTTPScorer struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewHTTPScorer(cfg config.RerankConfig) *HTTPScorer {
	timeout := cfg.ServiceTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPScorer{
		url:    cfg.ServiceURL,
		apiKey: cfg.ServiceAPIKey,
		model:  cfg.ServiceModel,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScorer) Score(ctx context.Context, query string, documents []string) ([]ScoredDocument, error) {
	payload := map[string]interface{}{
		"model":     s.model,
		"query":     query,
		"documents": documents,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, string(raw))
	}
	var out struct {
		Results []ScoredDocument `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return out.Results, nil
}
