package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/cinematch/cinematch/internal/model"
	"github.com/cinematch/cinematch/internal/tools"
)

func (s *Server) registerTools() {
	// query_movies — structured catalog search.
	s.mcpServer.AddTool(
		mcplib.NewTool(tools.StructuredToolName,
			mcplib.WithDescription(`Search the movie catalog with structured filters.

WHEN TO USE: When the request names concrete attributes — a genre, a year or
year range, an actor, a director, or a title fragment. For mood, theme, or
plot descriptions ("movies like Inception", "something uplifting"), use
search_movies instead.

FILTER EXAMPLES:
- Action movies from the 90s: genre="action", year_min=1990, year_max=1999
- Keanu Reeves movies: cast="keanu reeves"
- Best rated Nolan films: director="nolan", order_by="rating"
- Multiple genres (any match): genre="horror, thriller"

An exact year beats year_min/year_max when both are given. List fields
(genre, cast) accept comma-separated values and match when any one matches.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("genre",
				mcplib.Description("Genre filter, comma-separated for any-of matching (e.g. \"action, sci-fi\")"),
			),
			mcplib.WithNumber("year",
				mcplib.Description("Exact release year; takes precedence over year_min/year_max"),
			),
			mcplib.WithNumber("year_min",
				mcplib.Description("Earliest release year, inclusive"),
			),
			mcplib.WithNumber("year_max",
				mcplib.Description("Latest release year, inclusive"),
			),
			mcplib.WithString("cast",
				mcplib.Description("Actor name filter, comma-separated for any-of matching; partial names work"),
			),
			mcplib.WithString("director",
				mcplib.Description("Director name filter; partial names work"),
			),
			mcplib.WithString("title",
				mcplib.Description("Title substring filter"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(float64(model.MaxLimit)),
				mcplib.DefaultNumber(float64(model.DefaultLimit)),
			),
			mcplib.WithNumber("offset",
				mcplib.Description("Number of results to skip, for pagination"),
				mcplib.Min(0),
			),
			mcplib.WithString("order_by",
				mcplib.Description("Sort field: id, title, year, rating, popularity, vote_count, revenue, budget, runtime, release_date"),
			),
			mcplib.WithString("order_dir",
				mcplib.Description("Sort direction: ASC or DESC (case-insensitive)"),
			),
			mcplib.WithString("response_format",
				mcplib.Description("summary (default) or detailed"),
			),
		),
		s.handleQueryMovies,
	)

	// search_movies — semantic similarity search.
	s.mcpServer.AddTool(
		mcplib.NewTool(tools.VectorToolName,
			mcplib.WithDescription(`Search movies by meaning: plot, mood, and theme similarity.

WHEN TO USE: When the request describes what the movie is about rather than
its attributes — "mind-bending heist inside dreams", "feel-good sports
underdog story", "movies like Blade Runner". For concrete filters (genre,
year, actor), use query_movies instead.

Each result carries a similarity_score between 0 and 1; higher is closer.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query_text",
				mcplib.Description("Natural language description of the movie you're looking for"),
				mcplib.Required(),
			),
			mcplib.WithNumber("top_k",
				mcplib.Description("Number of nearest matches to return"),
				mcplib.Min(1),
				mcplib.Max(float64(model.MaxTopK)),
				mcplib.DefaultNumber(float64(model.DefaultTopK)),
			),
		),
		s.handleSearchMovies,
	)
}

func (s *Server) handleQueryMovies(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	f := model.QueryFilter{
		Genre:          request.GetString("genre", ""),
		Year:           request.GetInt("year", 0),
		YearMin:        request.GetInt("year_min", 0),
		YearMax:        request.GetInt("year_max", 0),
		Cast:           request.GetString("cast", ""),
		Director:       request.GetString("director", ""),
		Title:          request.GetString("title", ""),
		Limit:          request.GetInt("limit", 0),
		Offset:         request.GetInt("offset", 0),
		OrderBy:        request.GetString("order_by", ""),
		OrderDir:       request.GetString("order_dir", ""),
		ResponseFormat: request.GetString("response_format", ""),
	}

	resp, err := s.structured.Query(ctx, f)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}

	resultData, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleSearchMovies(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	q := model.SimilarityQuery{
		QueryText: request.GetString("query_text", ""),
		TopK:      request.GetInt("top_k", 0),
	}

	resp, err := s.vector.Search(ctx, q)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	resultData, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}
