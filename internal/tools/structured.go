package tools

import (
	"context"
	"log/slog"

	"github.com/cinematch/cinematch/internal/cache"
	"github.com/cinematch/cinematch/internal/model"
)

// Catalog is the structured query surface the tool needs.
type Catalog interface {
	Search(ctx context.Context, f model.QueryFilter) ([]model.Movie, error)
}

// StructuredTool answers structured catalog queries through an LRU result
// cache. Equivalent filters share one cache entry regardless of requested
// response format; formatting happens per request after the cached rows are
// retrieved.
type StructuredTool struct {
	catalog Catalog
	cache   *cache.Cache[[]model.Movie]
	logger  *slog.Logger
}

// NewStructuredTool creates the structured query tool.
func NewStructuredTool(catalog Catalog, c *cache.Cache[[]model.Movie], logger *slog.Logger) *StructuredTool {
	return &StructuredTool{catalog: catalog, cache: c, logger: logger}
}

// Query validates the filter, serves the row set from cache or the catalog,
// and renders the response. An empty result is a successful response with
// count zero, never an error.
func (t *StructuredTool) Query(ctx context.Context, f model.QueryFilter) (map[string]any, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	key := cache.FilterKey(f)
	movies, err := t.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]model.Movie, error) {
		return t.catalog.Search(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	formatted := make([]map[string]any, len(movies))
	for i, m := range movies {
		formatted[i] = formatMovie(m, f.ResponseFormat)
	}

	return map[string]any{
		"success":       true,
		"count":         len(movies),
		"movies":        formatted,
		"query_filters": f,
	}, nil
}
