// Package search provides semantic movie retrieval: a Searcher abstraction
// over approximate-nearest-neighbor indexes, a Qdrant implementation, an
// in-Postgres pgvector fallback, and an Engine that ties embedding, index
// lookup, and catalog hydration together.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cinematch/cinematch/internal/embedding"
	"github.com/cinematch/cinematch/internal/model"
)

// Result holds a movie ID and its raw similarity score from the search index.
// The caller hydrates full Movie records from the catalog (source of truth).
type Result struct {
	MovieID int64
	Score   float32
}

// Searcher is the interface for vector search indexes.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns movie IDs nearest to the query vector with raw cosine
	// similarity scores, best first.
	Search(ctx context.Context, embedding []float32, limit int) ([]Result, error)

	// Healthy returns nil if the search index is reachable, or an error
	// describing the problem.
	Healthy(ctx context.Context) error
}

// Hydrator loads full movie records for a set of ids.
type Hydrator interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]model.Movie, error)
}

// Engine answers similarity queries end to end: embed the query text once,
// search the index, hydrate matches from the catalog, and rank.
type Engine struct {
	provider embedding.Provider
	index    Searcher
	hydrator Hydrator
	logger   *slog.Logger
}

// NewEngine creates a search engine over the given provider, index, and
// catalog hydrator.
func NewEngine(provider embedding.Provider, index Searcher, hydrator Hydrator, logger *slog.Logger) *Engine {
	return &Engine{provider: provider, index: index, hydrator: hydrator, logger: logger}
}

// Search answers one similarity query. The query is validated before any
// embedding call is made, so blank text never reaches the provider. Fewer than
// top_k results is not an error; the index may simply be smaller than the
// request.
func (e *Engine) Search(ctx context.Context, q model.SimilarityQuery) ([]model.ScoredMovie, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	vec, err := e.provider.Embed(ctx, q.QueryText)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	hits, err := e.index.Search(ctx, vec.Slice(), q.TopK)
	if err != nil {
		return nil, fmt.Errorf("search: index query: %w", err)
	}
	if len(hits) == 0 {
		return []model.ScoredMovie{}, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.MovieID
	}
	movies, err := e.hydrator.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: hydrate results: %w", err)
	}

	scored := make([]model.ScoredMovie, 0, len(hits))
	for _, h := range hits {
		m, ok := movies[h.MovieID]
		if !ok {
			// The index can lag the catalog after an ingestion run.
			e.logger.Debug("search: index hit missing from catalog", "movie_id", h.MovieID)
			continue
		}
		scored = append(scored, model.ScoredMovie{Movie: m, SimilarityScore: h.Score})
	}

	// Rank best first; equal scores break by ascending id so results are
	// deterministic across runs.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].SimilarityScore != scored[j].SimilarityScore {
			return scored[i].SimilarityScore > scored[j].SimilarityScore
		}
		return scored[i].Movie.ID < scored[j].Movie.ID
	})

	if len(scored) > q.TopK {
		scored = scored[:q.TopK]
	}
	return scored, nil
}
