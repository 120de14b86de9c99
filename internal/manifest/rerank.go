package manifest

import (
	"context"
	"log"
	"math"
	"sort"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/registry"
)

// RelevanceScorer is the fine rerank pass: given a query and documents it
// returns per-document relevance scores. Backed by an HTTP cross-encoder
// service in production.
type RelevanceScorer interface {
	Score(ctx context.Context, query string, documents []string) ([]ScoredDocument, error)
}

// ScoredDocument ties a relevance score back to a document index.
type ScoredDocument struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Reranker reorders a manifest by relevance to the current objective: a
// coarse embedding pass bounds the candidate set, then an optional fine pass
// scores candidates per sub-query and fuses the results. Every failure path
// falls back to a coarser ranking rather than an error.
type Reranker struct {
	cfg      config.RerankConfig
	embedder registry.Embedder
	scorer   RelevanceScorer
	logger   *log.Logger
}

func NewReranker(cfg config.RerankConfig, embedder registry.Embedder, scorer RelevanceScorer) *Reranker {
	return &Reranker{
		cfg:      cfg,
		embedder: embedder,
		scorer:   scorer,
		logger:   log.New(log.Writer(), "[RERANK] ", log.LstdFlags),
	}
}

type ranked struct {
	entry    Entry
	original int
	score    float64
}

// Rerank orders entries by relevance to the query. Sub-queries, when
// present, drive one fine-pass scoring call each and are fused; otherwise the
// query itself is the single sub-query. Ties always break by original
// manifest order.
func (r *Reranker) Rerank(ctx context.Context, entries []Entry, query string, subQueries []string) []Entry {
	if len(entries) == 0 || query == "" {
		return entries
	}
	coarse := r.coarse(ctx, entries, query)
	if !r.cfg.Enabled || r.scorer == nil {
		return take(coarse, r.topN())
	}
	if len(subQueries) == 0 {
		subQueries = []string{query}
	}
	fine, err := r.fine(ctx, coarse, subQueries)
	if err != nil {
		r.logger.Printf("fine rerank failed, keeping coarse order: %v", err)
		return take(coarse, r.topN())
	}
	return take(fine, r.topN())
}

func (r *Reranker) topN() int {
	if r.cfg.TopN > 0 {
		return r.cfg.TopN
	}
	return 0
}

func (r *Reranker) pool() int {
	if r.cfg.CandidatePool > 0 {
		return r.cfg.CandidatePool
	}
	return 0
}

// coarse ranks by cosine similarity between the query embedding and each
// entry's capability text. Without an embedder it degrades to a lexical
// match over an in-memory index.
func (r *Reranker) coarse(ctx context.Context, entries []Entry, query string) []ranked {
	out := make([]ranked, len(entries))
	for i, e := range entries {
		out[i] = ranked{entry: e, original: i}
	}
	if r.embedder == nil {
		return r.coarseLexical(entries, query, out)
	}
	texts := make([]string, 0, len(entries)+1)
	texts = append(texts, query)
	for _, e := range entries {
		texts = append(texts, e.CapabilityText())
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil || len(vecs) != len(texts) {
		if err != nil {
			r.logger.Printf("embedding failed, falling back to lexical ranking: %v", err)
		}
		return r.coarseLexical(entries, query, out)
	}
	for i := range entries {
		out[i].score = cosine(vecs[0], vecs[i+1])
	}
	sortRanked(out)
	return takeRanked(out, r.pool())
}

func (r *Reranker) coarseLexical(entries []Entry, query string, out []ranked) []ranked {
	scores, err := lexicalScores(entries, query)
	if err != nil {
		r.logger.Printf("lexical ranking failed, keeping manifest order: %v", err)
		return takeRanked(out, r.pool())
	}
	for i := range out {
		out[i].score = scores[i]
	}
	sortRanked(out)
	return takeRanked(out, r.pool())
}

// fine scores the candidate set once per sub-query and fuses per-document
// results by weighted hit frequency, summed relevance and summed reciprocal
// rank.
func (r *Reranker) fine(ctx context.Context, candidates []ranked, subQueries []string) ([]ranked, error) {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.entry.CapabilityText()
	}
	freq := make([]float64, len(candidates))
	sumScore := make([]float64, len(candidates))
	sumRR := make([]float64, len(candidates))
	for _, sq := range subQueries {
		scored, err := r.scorer.Score(ctx, sq, docs)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
		for rank, s := range scored {
			if s.Index < 0 || s.Index >= len(candidates) {
				continue
			}
			freq[s.Index]++
			sumScore[s.Index] += s.Score
			sumRR[s.Index] += 1.0 / float64(rank+1)
		}
	}
	wf, ws, wr := r.cfg.WeightFrequency, r.cfg.WeightScore, r.cfg.WeightRank
	if wf == 0 && ws == 0 && wr == 0 {
		wf, ws, wr = 1, 1, 1
	}
	out := make([]ranked, len(candidates))
	for i, c := range candidates {
		out[i] = ranked{
			entry:    c.entry,
			original: c.original,
			score:    wf*freq[i] + ws*sumScore[i] + wr*sumRR[i],
		}
	}
	sortRanked(out)
	return out, nil
}

func sortRanked(rs []ranked) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		return rs[i].original < rs[j].original
	})
}

func take(rs []ranked, n int) []Entry {
	if n > 0 && n < len(rs) {
		rs = rs[:n]
	}
	out := make([]Entry, len(rs))
	for i, r := range rs {
		out[i] = r.entry
	}
	return out
}

func takeRanked(rs []ranked, n int) []ranked {
	if n > 0 && n < len(rs) {
		return rs[:n]
	}
	return rs
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
