// Package mcp exposes the movie retrieval tools over the Model Context
// Protocol, so external MCP-compatible agents can query the catalog and the
// semantic index directly, through the same cached tool layer the built-in
// agent uses.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cinematch/cinematch/internal/model"
	"github.com/cinematch/cinematch/internal/tools"
)

// TitleLookup resolves a single movie by exact title.
type TitleLookup interface {
	GetByTitle(ctx context.Context, title string) (model.Movie, error)
}

// Server wraps the MCP server with the retrieval tool layer.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	structured *tools.StructuredTool
	vector     *tools.VectorTool
	titles     TitleLookup
	logger     *slog.Logger
}

// New creates and configures an MCP server with all tools and resources.
func New(structured *tools.StructuredTool, vector *tools.VectorTool, titles TitleLookup, logger *slog.Logger) *Server {
	s := &Server{
		structured: structured,
		vector:     vector,
		titles:     titles,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"cinematch",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// cinematch://movies/top — highest-rated movies in the catalog.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"cinematch://movies/top",
			"Top Rated Movies",
			mcplib.WithResourceDescription("The highest-rated movies in the catalog"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTopMovies,
	)

	// cinematch://movie/{title} — a single movie by exact title.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"cinematch://movie/{title}",
			"Movie by Title",
			mcplib.WithTemplateDescription("Full catalog record for a movie, looked up by exact title"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleMovieByTitle,
	)
}

func (s *Server) handleTopMovies(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	resp, err := s.structured.Query(ctx, model.QueryFilter{
		OrderBy:  "rating",
		OrderDir: "DESC",
		Limit:    20,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: top movies: %w", err)
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal top movies: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "cinematch://movies/top",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleMovieByTitle(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI

	const prefix = "cinematch://movie/"
	if len(uri) <= len(prefix) {
		return nil, fmt.Errorf("mcp: invalid movie URI: %s", uri)
	}
	title := uri[len(prefix):]

	movie, err := s.titles.GetByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("mcp: movie by title: %w", err)
	}

	data, err := json.MarshalIndent(movie, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal movie: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
