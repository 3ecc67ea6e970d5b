package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cinematch/cinematch/internal/model"
)

// Cache key canonicalization. Logically-equivalent requests must map to the
// same key:
//
//   - omitted optional fields vs. explicit default values
//   - "Action" vs "action" vs "Action "
//   - "Action,Drama" vs "Drama, Action" (list fields are order-independent)
//
// Keys are built from a fixed field order over normalized values, then
// digested so they stay fixed-width regardless of input size.

// FilterKey computes the canonical cache key for a structured query. The
// filter must already be validated; Normalize is applied here so keys do not
// depend on whether the caller elided defaults.
func FilterKey(f model.QueryFilter) string {
	f.Normalize()

	parts := []string{
		"genre=" + normList(f.Genre),
		fmt.Sprintf("year=%d", f.Year),
		fmt.Sprintf("year_min=%d", f.YearMin),
		fmt.Sprintf("year_max=%d", f.YearMax),
		"cast=" + normList(f.Cast),
		"director=" + normStr(f.Director),
		"title=" + normStr(f.Title),
		fmt.Sprintf("limit=%d", f.Limit),
		fmt.Sprintf("offset=%d", f.Offset),
		"order_by=" + normStr(f.OrderBy),
		"order_dir=" + normStr(f.OrderDir),
	}
	return digest("filter|" + strings.Join(parts, "|"))
}

// SimilarityKey computes the canonical cache key for a semantic query:
// lowercased, whitespace-collapsed query text plus the effective top_k.
func SimilarityKey(q model.SimilarityQuery) string {
	topK := q.TopK
	if topK == 0 {
		topK = model.DefaultTopK
	}
	text := strings.Join(strings.Fields(strings.ToLower(q.QueryText)), " ")
	return digest(fmt.Sprintf("similarity|%s|%d", text, topK))
}

// normStr lowercases and trims a scalar string field.
func normStr(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normList canonicalizes a comma-separated list field: per-element trim and
// lowercase, empty elements dropped, duplicates removed, sorted.
func normList(s string) string {
	if s == "" {
		return ""
	}
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(s, ",") {
		p := normStr(part)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
