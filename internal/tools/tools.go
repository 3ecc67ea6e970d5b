// Package tools implements the two retrieval tools the agent can invoke: a
// structured catalog query and a semantic vector search. Each tool validates
// its arguments, consults its result cache, and renders a stable response
// shape that both the agent loop and external MCP clients consume.
package tools

import (
	"github.com/cinematch/cinematch/internal/model"
)

// Tool names as exposed to the agent and over MCP.
const (
	StructuredToolName = "query_movies"
	VectorToolName     = "search_movies"
)

const (
	summaryCastLimit    = 3
	summaryKeywordLimit = 5
)

// formatMovie renders one movie according to the response format. Summary
// trims cast and keywords to the leading entries; detailed includes every
// field the catalog carries.
func formatMovie(m model.Movie, format string) map[string]any {
	if format == model.FormatDetailed {
		return map[string]any{
			"id":           m.ID,
			"title":        m.Title,
			"year":         m.Year,
			"director":     m.Director,
			"overview":     m.Overview,
			"rating":       m.Rating,
			"genres":       m.Genres,
			"cast":         m.Cast,
			"crew":         m.Crew,
			"keywords":     m.Keywords,
			"budget":       m.Budget,
			"revenue":      m.Revenue,
			"runtime":      m.Runtime,
			"popularity":   m.Popularity,
			"vote_count":   m.VoteCount,
			"release_date": m.ReleaseDate,
			"language":     m.Language,
		}
	}

	return map[string]any{
		"id":       m.ID,
		"title":    m.Title,
		"year":     m.Year,
		"director": m.Director,
		"rating":   m.Rating,
		"genres":   m.Genres,
		"cast":     head(m.Cast, summaryCastLimit),
		"keywords": head(m.Keywords, summaryKeywordLimit),
		"overview": m.Overview,
	}
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
