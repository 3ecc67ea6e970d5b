// Package catalog provides the PostgreSQL storage layer for the movie
// catalog: the structured filter query engine, exact-title and batch-id
// lookups used for hydration, and an in-Postgres pgvector similarity search
// used as a fallback when no external vector index is configured.
//
// The catalog is populated by the ingestion pipeline and is read-only here.
package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/cinematch/cinematch/internal/model"
)

// Store wraps a pgxpool.Pool over the movie catalog.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Match is one pgvector similarity hit: a movie id and its cosine similarity.
type Match struct {
	MovieID int64
	Score   float32
}

// New creates a Store with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse DSN: %w", err)
	}

	// Register pgvector types on each new connection. Best-effort: if the
	// vector extension hasn't been created yet (fresh database before
	// migrations), later connections succeed once it exists.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("catalog: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: ping pool: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const movieColumns = `id, title, year, director, overview, rating, genres, "cast", crew, keywords,
	budget, revenue, runtime, popularity, vote_count, release_date, language`

// Search executes a structured filter query. The filter must already be
// validated; Search applies no caching — that is the cache layer's job,
// layered on top.
//
// Results are ordered by the filter's order_by/order_dir with id ascending as
// the tie-break, so pagination over equal-valued rows is stable. An offset
// past the end of the result set yields an empty slice, not an error.
func (s *Store) Search(ctx context.Context, f model.QueryFilter) ([]model.Movie, error) {
	query, args := buildSearchQuery(f)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w: %w", model.ErrUpstream, err)
	}
	defer rows.Close()

	return scanMovies(rows)
}

// GetByTitle returns the movie with an exact title match, or ErrNotFound.
func (s *Store) GetByTitle(ctx context.Context, title string) (model.Movie, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE title = $1 ORDER BY id ASC LIMIT 1`, title)
	if err != nil {
		return model.Movie{}, fmt.Errorf("catalog: get by title: %w: %w", model.ErrUpstream, err)
	}
	defer rows.Close()

	movies, err := scanMovies(rows)
	if err != nil {
		return model.Movie{}, err
	}
	if len(movies) == 0 {
		return model.Movie{}, fmt.Errorf("catalog: title %q: %w", title, model.ErrNotFound)
	}
	return movies[0], nil
}

// GetByIDs hydrates full movie records for a set of ids. Ids missing from the
// catalog are silently absent from the result (the vector index may lag an
// ingestion run).
func (s *Store) GetByIDs(ctx context.Context, ids []int64) (map[int64]model.Movie, error) {
	if len(ids) == 0 {
		return map[int64]model.Movie{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: get by ids: %w: %w", model.ErrUpstream, err)
	}
	defer rows.Close()

	movies, err := scanMovies(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]model.Movie, len(movies))
	for _, m := range movies {
		out[m.ID] = m
	}
	return out, nil
}

// SimilarByEmbedding performs cosine similarity search over the catalog's
// embedding column. Fallback path for deployments without an external vector
// index. Ties in similarity break by ascending id.
func (s *Store) SimilarByEmbedding(ctx context.Context, embedding pgvector.Vector, limit int) ([]Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, 1 - (embedding <=> $1) AS similarity
		 FROM movies
		 WHERE embedding IS NOT NULL
		 ORDER BY similarity DESC, id ASC
		 LIMIT $2`,
		embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: similarity search: %w: %w", model.ErrUpstream, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.MovieID, &m.Score); err != nil {
			return nil, fmt.Errorf("catalog: scan similarity row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: similarity rows: %w: %w", model.ErrUpstream, err)
	}
	return matches, nil
}

func scanMovies(rows pgx.Rows) ([]model.Movie, error) {
	var movies []model.Movie
	for rows.Next() {
		var m model.Movie
		if err := rows.Scan(
			&m.ID, &m.Title, &m.Year, &m.Director, &m.Overview, &m.Rating,
			&m.Genres, &m.Cast, &m.Crew, &m.Keywords,
			&m.Budget, &m.Revenue, &m.Runtime, &m.Popularity, &m.VoteCount,
			&m.ReleaseDate, &m.Language,
		); err != nil {
			return nil, fmt.Errorf("catalog: scan movie: %w", err)
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows: %w: %w", model.ErrUpstream, err)
	}
	return movies, nil
}

// RunMigrations executes unapplied SQL migration files from the provided
// filesystem in lexical order, tracking applied files in schema_migrations.
func (s *Store) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("catalog: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("catalog: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("catalog: scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: migration rows: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("catalog: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		if applied[name] {
			s.logger.Debug("migration already applied, skipping", "file", name)
			continue
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("catalog: read migration %s: %w", name, err)
		}

		s.logger.Info("running migration", "file", name)
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("catalog: execute migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("catalog: record migration %s: %w", name, err)
		}
	}

	return nil
}
