package tools

import (
	"context"
	"log/slog"

	"github.com/cinematch/cinematch/internal/cache"
	"github.com/cinematch/cinematch/internal/model"
)

// SemanticSearcher is the vector search surface the tool needs.
type SemanticSearcher interface {
	Search(ctx context.Context, q model.SimilarityQuery) ([]model.ScoredMovie, error)
}

// VectorTool answers semantic similarity queries through its own LRU result
// cache, keyed on normalized query text and top_k.
type VectorTool struct {
	engine SemanticSearcher
	cache  *cache.Cache[[]model.ScoredMovie]
	logger *slog.Logger
}

// NewVectorTool creates the semantic search tool.
func NewVectorTool(engine SemanticSearcher, c *cache.Cache[[]model.ScoredMovie], logger *slog.Logger) *VectorTool {
	return &VectorTool{engine: engine, cache: c, logger: logger}
}

// Search validates the query, serves results from cache or the engine, and
// renders the response. Each movie carries its similarity score; the response
// is tagged with search_type "semantic" so transcripts distinguish it from
// structured results.
func (t *VectorTool) Search(ctx context.Context, q model.SimilarityQuery) (map[string]any, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := cache.SimilarityKey(q)
	scored, err := t.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]model.ScoredMovie, error) {
		return t.engine.Search(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	formatted := make([]map[string]any, len(scored))
	for i, sm := range scored {
		entry := formatMovie(sm.Movie, model.FormatSummary)
		entry["similarity_score"] = sm.SimilarityScore
		formatted[i] = entry
	}

	return map[string]any{
		"success":     true,
		"count":       len(scored),
		"movies":      formatted,
		"query":       q.QueryText,
		"search_type": "semantic",
	}, nil
}
