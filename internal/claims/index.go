package claims

import (
	"strings"

	"github.com/blevesearch/bleve"
)

// indexDoc is the flattened shape stored in the search index.
type indexDoc struct {
	Text       string `json:"text"`
	Field      string `json:"field"`
	Category   string `json:"category"`
	QuestionID string `json:"question_id"`
	Level      string `json:"level"`
}

// Index is an in-memory full-text index over claim texts, serving the
// host-facing claim search endpoint. It is an acceleration structure only;
// the graph remains the source of truth.
type Index struct {
	idx bleve.Index
}

// NewIndex builds an empty in-memory index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx}, nil
}

// Add upserts one claim document.
func (i *Index) Add(claim *Claim) error {
	return i.idx.Index(claim.ID, indexDoc{
		Text:       claim.Text,
		Field:      claim.Field,
		Category:   string(claim.Category),
		QuestionID: claim.QuestionID,
		Level:      string(claim.Level),
	})
}

// Remove deletes one claim document.
func (i *Index) Remove(id string) error {
	return i.idx.Delete(id)
}

// Query returns the IDs of the best-matching claims for a free-text query.
func (i *Index) Query(q string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 25
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Reset discards the index contents by swapping in a fresh in-memory index.
func (i *Index) Reset() error {
	fresh, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	old := i.idx
	i.idx = fresh
	if old != nil {
		_ = old.Close()
	}
	return nil
}
