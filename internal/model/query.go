package model

import (
	"fmt"
	"strings"
)

// Defaults and bounds for query requests. MaxLimit caps structured result
// pages so a single tool call can never trigger an unbounded scan; MaxTopK is
// the vector tool's hard ceiling.
const (
	DefaultLimit = 10
	MaxLimit     = 100
	DefaultTopK  = 5
	MaxTopK      = 50
)

// OrderableFields is the closed set of fields a structured query may sort by.
var OrderableFields = map[string]bool{
	"id": true, "title": true, "year": true, "rating": true,
	"popularity": true, "vote_count": true, "revenue": true,
	"budget": true, "runtime": true, "release_date": true,
}

// Response formats for the structured tool.
const (
	FormatSummary  = "summary"
	FormatDetailed = "detailed"
)

// QueryFilter is one structured query request. Zero-valued optional fields
// mean "not filtered". Constructed per request, validated once, never
// persisted.
type QueryFilter struct {
	Genre          string `json:"genre,omitempty"`
	Year           int    `json:"year,omitempty"`
	YearMin        int    `json:"year_min,omitempty"`
	YearMax        int    `json:"year_max,omitempty"`
	Cast           string `json:"cast,omitempty"`
	Director       string `json:"director,omitempty"`
	Title          string `json:"title,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
	OrderBy        string `json:"order_by,omitempty"`
	OrderDir       string `json:"order_dir,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Normalize fills defaults in place. Called by Validate so callers that only
// validate still end up with a fully populated filter.
func (f *QueryFilter) Normalize() {
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.OrderBy == "" {
		f.OrderBy = "rating"
	}
	if f.OrderDir == "" {
		f.OrderDir = "DESC"
	} else {
		f.OrderDir = strings.ToUpper(f.OrderDir)
	}
	if f.ResponseFormat == "" {
		f.ResponseFormat = FormatSummary
	}
}

// Validate normalizes the filter and checks its invariants. Exact year takes
// precedence over the range fields when both are supplied; that resolution
// happens at query-build time, so a filter carrying both is still valid as
// long as the range itself is coherent.
func (f *QueryFilter) Validate() error {
	f.Normalize()

	if f.YearMin != 0 && f.YearMax != 0 && f.YearMin > f.YearMax {
		return fmt.Errorf("%w: year_min (%d) greater than year_max (%d)", ErrInvalidArgument, f.YearMin, f.YearMax)
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidArgument, MaxLimit, f.Limit)
	}
	if f.Offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0, got %d", ErrInvalidArgument, f.Offset)
	}
	if !OrderableFields[f.OrderBy] {
		return fmt.Errorf("%w: unknown order_by field %q", ErrInvalidArgument, f.OrderBy)
	}
	if f.OrderDir != "ASC" && f.OrderDir != "DESC" {
		return fmt.Errorf("%w: order_dir must be ASC or DESC, got %q", ErrInvalidArgument, f.OrderDir)
	}
	if f.ResponseFormat != FormatSummary && f.ResponseFormat != FormatDetailed {
		return fmt.Errorf("%w: response_format must be summary or detailed, got %q", ErrInvalidArgument, f.ResponseFormat)
	}
	return nil
}

// SimilarityQuery is one semantic search request.
type SimilarityQuery struct {
	QueryText string `json:"query_text"`
	TopK      int    `json:"top_k,omitempty"`
}

// Validate fills the top_k default and checks bounds. An empty query text is
// rejected here, before any embedding call is made.
func (q *SimilarityQuery) Validate() error {
	if strings.TrimSpace(q.QueryText) == "" {
		return fmt.Errorf("%w: query_text is required", ErrInvalidArgument)
	}
	if q.TopK == 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK < 1 || q.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d, got %d", ErrInvalidArgument, MaxTopK, q.TopK)
	}
	return nil
}
