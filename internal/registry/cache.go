package registry

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

// Embedder produces vectors for call signatures. Satisfied by an adapter over
// the configured LLM provider; a nil embedder disables similarity reuse.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// exactCache stores normalized successful results keyed by the hash of the
// tool name and canonical arguments.
type exactCache struct {
	store SharedStore
	ttl   time.Duration
}

func (c *exactCache) Get(ctx context.Context, key string) (ToolResult, bool) {
	if c.store == nil {
		return ToolResult{}, false
	}
	raw, ok, err := c.store.Get(ctx, "agentcore:cache:"+key)
	if err != nil || !ok {
		return ToolResult{}, false
	}
	var res ToolResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return ToolResult{}, false
	}
	return res, true
}

func (c *exactCache) Put(ctx context.Context, key string, res ToolResult) {
	if c.store == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = c.store.SetEx(ctx, "agentcore:cache:"+key, string(b), c.ttl)
}

// simEntry is one member of a tool's similarity pool, scored by insertion
// time so trimming evicts the oldest entries first.
type simEntry struct {
	Signature string     `json:"signature"`
	Vector    []float32  `json:"vector"`
	Result    ToolResult `json:"result"`
	StoredAt  int64      `json:"stored_at"`
}

// similarityCache reuses results of near-identical calls: the call signature
// is embedded and compared against a bounded per-tool pool of prior calls.
type similarityCache struct {
	store     SharedStore
	embedder  Embedder
	threshold float64
	poolSize  int
}

func (c *similarityCache) enabled() bool {
	return c.store != nil && c.embedder != nil && c.poolSize > 0
}

func (c *similarityCache) Lookup(ctx context.Context, aiName string, args map[string]interface{}) (ToolResult, bool) {
	if !c.enabled() {
		return ToolResult{}, false
	}
	vecs, err := c.embedder.Embed(ctx, []string{callSignature(aiName, args)})
	if err != nil || len(vecs) == 0 {
		return ToolResult{}, false
	}
	members, err := c.store.ZRange(ctx, c.poolKey(aiName), 0, -1)
	if err != nil {
		return ToolResult{}, false
	}
	best := -1.0
	var bestRes ToolResult
	for _, m := range members {
		var e simEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			continue
		}
		if sim := cosine(vecs[0], e.Vector); sim > best {
			best = sim
			bestRes = e.Result
		}
	}
	if best >= c.threshold {
		return bestRes, true
	}
	return ToolResult{}, false
}

func (c *similarityCache) Put(ctx context.Context, aiName string, args map[string]interface{}, res ToolResult) {
	if !c.enabled() {
		return
	}
	vecs, err := c.embedder.Embed(ctx, []string{callSignature(aiName, args)})
	if err != nil || len(vecs) == 0 {
		return
	}
	now := time.Now().UnixNano()
	b, err := json.Marshal(simEntry{
		Signature: callSignature(aiName, args),
		Vector:    vecs[0],
		Result:    res,
		StoredAt:  now,
	})
	if err != nil {
		return
	}
	key := c.poolKey(aiName)
	if err := c.store.ZAdd(ctx, key, float64(now), string(b)); err != nil {
		return
	}
	card, err := c.store.ZCard(ctx, key)
	if err != nil || card <= int64(c.poolSize) {
		return
	}
	_ = c.store.ZRemRangeByRank(ctx, key, 0, card-int64(c.poolSize)-1)
}

func (c *similarityCache) poolKey(aiName string) string {
	return "agentcore:simpool:" + aiName
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
