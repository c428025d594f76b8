// Package retrieval implements the governed retriever: it turns a raw query
// into a ranked, re-ranked list of vector store records. Ranking happens in
// two stages — a similarity-ordered candidate window fixed up front, then a
// profile-weighted re-rank that may re-order items inside the window but can
// never re-admit anything outside it.
package retrieval

import (
	"context"

	"github.com/vocsight/vocsight-go/internal/vecstore"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher is the slice of the vector store the retriever depends on.
// *vecstore.SQLiteStore satisfies it; tests inject a fake.
type Searcher interface {
	// FindSimilar performs an exact cosine scan over stored vectors.
	FindSimilar(ctx context.Context, target []float32, typeFilter vecstore.RecordType, topK int, minSimilarity float64) ([]vecstore.Match, error)
}

// Result is one retrieved record with its scores at each ranking stage.
// Results exist only for the duration of one Retrieve call.
type Result struct {
	// Record is the stored embedding that matched.
	Record *vecstore.Record
	// RawSimilarity is the unmodified cosine similarity to the query vector.
	RawSimilarity float64
	// BiasedSimilarity is RawSimilarity after the soft type bias.
	BiasedSimilarity float64
	// FinalScore is the profile-weighted composite score after the
	// same-group boost, clamped to [0, 0.99].
	FinalScore float64
}

// QueryHints is the advisory output of DetectQueryHints. It suggests a type
// and source to bias or filter by; it never decides unilaterally.
type QueryHints struct {
	// SuggestedType is the record type the query appears to target.
	SuggestedType vecstore.RecordType
	// SuggestedSource is the origin label the query appears to reference.
	SuggestedSource string
	// Confidence is the heuristic's self-assessed strength, capped at 0.8.
	Confidence float64
}
