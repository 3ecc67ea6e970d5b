// Package model defines the core domain types: catalog records, query
// requests, conversation turns, and the error kinds shared across packages.
package model

// Movie is an immutable catalog record. Rows are created by the ingestion
// pipeline; the core only reads them.
type Movie struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Year        int      `json:"year"`
	Director    string   `json:"director"`
	Overview    string   `json:"overview"`
	Rating      float64  `json:"rating"`
	Genres      []string `json:"genres"`
	Cast        []string `json:"cast"`
	Crew        []string `json:"crew"`
	Keywords    []string `json:"keywords"`
	Budget      int64    `json:"budget"`
	Revenue     int64    `json:"revenue"`
	Runtime     int      `json:"runtime"`
	Popularity  float64  `json:"popularity"`
	VoteCount   int      `json:"vote_count"`
	ReleaseDate string   `json:"release_date"`
	Language    string   `json:"language"`
}

// ScoredMovie pairs a catalog record with its similarity score from the
// vector index.
type ScoredMovie struct {
	Movie           Movie   `json:"movie"`
	SimilarityScore float32 `json:"similarity_score"`
}
