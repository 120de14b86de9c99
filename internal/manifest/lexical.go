package manifest

import (
	"strconv"

	"github.com/blevesearch/bleve"
)

// lexicalScores ranks entries against the query with an in-memory full-text
// index. Used when no embedder is configured or embedding fails; entries the
// query does not match at all score zero and keep their manifest order.
func lexicalScores(entries []Entry, query string) ([]float64, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	for i, e := range entries {
		doc := map[string]interface{}{
			"name":        e.AIName,
			"description": e.Description,
			"capability":  e.CapabilityText(),
		}
		if err := idx.Index(strconv.Itoa(i), doc); err != nil {
			return nil, err
		}
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, len(entries), 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(entries))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(entries) {
			continue
		}
		scores[i] = hit.Score
	}
	return scores, nil
}
