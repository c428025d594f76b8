package vecstore

import "math"

// Cosine returns the cosine similarity of a and b. If either vector has zero
// norm the result is 0 rather than NaN, and mismatched lengths also yield 0 —
// callers treat both as "no meaningful similarity" rather than errors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
