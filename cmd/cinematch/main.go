package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cinematch/cinematch/internal/agent"
	"github.com/cinematch/cinematch/internal/cache"
	"github.com/cinematch/cinematch/internal/catalog"
	"github.com/cinematch/cinematch/internal/config"
	"github.com/cinematch/cinematch/internal/embedding"
	"github.com/cinematch/cinematch/internal/history"
	"github.com/cinematch/cinematch/internal/mcp"
	"github.com/cinematch/cinematch/internal/model"
	"github.com/cinematch/cinematch/internal/ownership"
	"github.com/cinematch/cinematch/internal/search"
	"github.com/cinematch/cinematch/internal/server"
	"github.com/cinematch/cinematch/internal/telemetry"
	"github.com/cinematch/cinematch/internal/tools"
	"github.com/cinematch/cinematch/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("CINEMATCH_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("cinematch starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to the movie catalog.
	store, err := catalog.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer store.Close()

	// Run migrations. RunMigrations tracks applied files in schema_migrations
	// and skips duplicates, so errors here indicate real failures.
	if err := store.RunMigrations(ctx, migrations.FS); err != nil {
		slog.Warn("migrations failed", "error", err)
	}

	// Verify the movies table exists after migration. If the pgvector
	// extension failed to create, the migration fails silently and the server
	// would start with no catalog. Catch this early.
	var schemaOK bool
	if err := store.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'movies')`,
	).Scan(&schemaOK); err != nil {
		return fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		return fmt.Errorf("critical table 'movies' does not exist after migration, check that the pgvector extension is available")
	}

	// Create embedding provider.
	embedder := newEmbeddingProvider(cfg, logger)

	// Pick the similarity index. Qdrant when configured, otherwise pgvector
	// search against the catalog's own embedding column.
	var index search.Searcher
	if cfg.QdrantURL != "" {
		qdrantIndex, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = qdrantIndex.Close() }()

		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}

		index = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		index = search.NewCatalogIndex(store)
		logger.Info("qdrant: disabled (no QDRANT_URL), using pgvector search")
	}

	engine := search.NewEngine(embedder, index, store, logger)

	// Open the conversation history store.
	hist, err := history.New(cfg.HistoryPath, logger)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer func() { _ = hist.Close() }()

	// Chat ownership cache. Redis when configured, in-process otherwise.
	var owners ownership.Lookup
	if cfg.RedisURL != "" {
		redisOwners, err := ownership.NewRedis(ctx, cfg.RedisURL, cfg.OwnershipTTL)
		if err != nil {
			return fmt.Errorf("ownership: %w", err)
		}
		defer func() { _ = redisOwners.Close() }()
		owners = redisOwners
		logger.Info("ownership cache: redis", "ttl", cfg.OwnershipTTL)
	} else {
		owners = ownership.NewMemory()
		logger.Info("ownership cache: memory (no REDIS_URL)")
	}

	// Query tools with their LRU result caches.
	structured := tools.NewStructuredTool(store,
		cache.New[[]model.Movie]("filter", cfg.FilterCacheSize), logger)
	vector := tools.NewVectorTool(engine,
		cache.New[[]model.ScoredMovie]("similarity", cfg.SimilarityCacheSize), logger)

	// Conversation agent.
	reasoner := agent.NewOllamaReasoner(cfg.OllamaURL, cfg.ChatModel)
	ag := agent.New(agent.Config{
		History:       hist,
		Owners:        owners,
		Structured:    structured,
		Vector:        vector,
		Reasoner:      reasoner,
		MaxIterations: cfg.MaxIterations,
		Logger:        logger,
	})

	// Create MCP server.
	mcpSrv := mcp.New(structured, vector, store, logger)

	// Create and start HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		Handlers: server.NewHandlers(server.HandlersDeps{
			Agent:   ag,
			History: hist,
			Owners:  owners,
			Catalog: store,
			Index:   index,
			Logger:  logger,
			Version: version,
		}),
		Logger:       logger,
		MCPServer:    mcpSrv.MCPServer(),
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Stop accepting new HTTP requests and drain in-flight
	// turns before closing the stores.
	slog.Info("cinematch shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	slog.Info("cinematch stopped")
	return nil
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "noop", or "auto" (default). Auto mode tries
// Ollama if reachable, else noop. Ollama keeps embeddings on-premises.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbeddingModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic search degraded)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic search degraded)")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
