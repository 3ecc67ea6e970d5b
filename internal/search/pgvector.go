package search

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/cinematch/cinematch/internal/catalog"
)

// CatalogIndex implements Searcher over the catalog's pgvector embedding
// column. Used when no Qdrant URL is configured: slower than a dedicated ANN
// index at scale, but exact and with nothing extra to deploy.
type CatalogIndex struct {
	store *catalog.Store
}

// NewCatalogIndex creates a pgvector-backed searcher over the catalog.
func NewCatalogIndex(store *catalog.Store) *CatalogIndex {
	return &CatalogIndex{store: store}
}

// Search performs cosine similarity search in Postgres.
func (c *CatalogIndex) Search(ctx context.Context, embedding []float32, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	matches, err := c.store.SimilarByEmbedding(ctx, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{MovieID: m.MovieID, Score: m.Score}
	}
	return results, nil
}

// Healthy reports whether the underlying database is reachable.
func (c *CatalogIndex) Healthy(ctx context.Context) error {
	return c.store.Ping(ctx)
}
