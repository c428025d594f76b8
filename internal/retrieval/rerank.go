package retrieval

import (
	"fmt"
	"math"
	"time"
)

const (
	// maxFinalScore is the upper clamp for composite scores. Keeping final
	// scores strictly below 1.0 preserves the distinction between a
	// re-ranked composite and a true exact-match raw similarity.
	maxFinalScore = 0.99

	// sameGroupBoost is the one-time bump applied to every candidate in the
	// window that shares a provenance grouping key with at least one other.
	sameGroupBoost = 0.03

	// defaultRecencyHalfLifeDays is the decay half-life for the recency
	// factor: a record this many days old scores 1/e.
	defaultRecencyHalfLifeDays = 30
)

// groupKeyFields is the metadata priority order for deriving a candidate's
// provenance grouping key. The first present field wins.
var groupKeyFields = []string{"file", "filename", "filePath", "function", "module"}

// rerankProfile is a fixed weight vector over the four re-ranking factors.
type rerankProfile struct {
	// name identifies the profile in logs and errors.
	name string
	// similarity weights the raw cosine similarity factor.
	similarity float64
	// typeBias weights the per-type bias constant factor.
	typeBias float64
	// sourceAffinity weights the flat source-match factor.
	sourceAffinity float64
	// recency weights the exponential-decay recency factor.
	recency float64
}

// rerankProfiles holds the fixed named profiles. Weights are constants, not
// configuration — changing them changes ranking semantics and requires
// re-validating the retrieval test suite.
var rerankProfiles = map[string]rerankProfile{
	"default": {
		name:       "default",
		similarity: 0.60, typeBias: 0.15, sourceAffinity: 0.10, recency: 0.15,
	},
	"code_focused": {
		name:       "code_focused",
		similarity: 0.50, typeBias: 0.30, sourceAffinity: 0.15, recency: 0.05,
	},
	"analytics_focused": {
		name:       "analytics_focused",
		similarity: 0.55, typeBias: 0.10, sourceAffinity: 0.10, recency: 0.25,
	},
}

// profileByName resolves a re-ranking profile, defaulting to "default" for
// the empty string and failing for unrecognised names.
func profileByName(name string) (rerankProfile, error) {
	if name == "" {
		name = "default"
	}
	p, ok := rerankProfiles[name]
	if !ok {
		return rerankProfile{}, fmt.Errorf("retrieval: unknown rerank profile %q — valid values: default, code_focused, analytics_focused", name)
	}
	return p, nil
}

// rerank computes each result's FinalScore in place: the profile-weighted
// sum of the four factors, plus the same-group boost, clamped to [0, 0.99].
// It only ever re-orders scores — the window membership is already fixed.
func (r *Retriever) rerank(results []Result, hints QueryHints) {
	now := time.Now()
	groupCounts := make(map[string]int, len(results))
	for i := range results {
		if key := groupKey(results[i].Record.Metadata); key != "" {
			groupCounts[key]++
		}
	}

	for i := range results {
		res := &results[i]

		score := res.RawSimilarity * r.profile.similarity
		score += typeBias[res.Record.Type] * r.profile.typeBias

		if hints.SuggestedSource != "" && res.Record.Source == hints.SuggestedSource {
			score += r.profile.sourceAffinity
		}

		score += r.recencyFactor(res.Record.CreatedAt, now) * r.profile.recency

		// Applied at most once per candidate, never cumulatively, no matter
		// how many window members share the key.
		if key := groupKey(res.Record.Metadata); key != "" && groupCounts[key] >= 2 {
			score += sameGroupBoost
		}

		res.FinalScore = clampScore(score)
	}
}

// recencyFactor returns exp(-ageDays/halfLife), or 0 when recency scoring is
// disabled or the record has no timestamp. Age is quantized to whole days so
// repeated retrievals over a fixed candidate set produce identical scores
// instead of drifting with the wall clock.
func (r *Retriever) recencyFactor(createdAt time.Time, now time.Time) float64 {
	if r.cfg.DisableRecency || r.profile.recency == 0 || createdAt.IsZero() {
		return 0
	}
	ageDays := math.Floor(now.Sub(createdAt).Hours() / 24)
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / r.cfg.RecencyHalfLifeDays)
}

// groupKey derives the provenance grouping key from record metadata,
// checking fields in fixed priority order. Empty when no field is present.
func groupKey(metadata map[string]string) string {
	for _, field := range groupKeyFields {
		if v := metadata[field]; v != "" {
			return field + ":" + v
		}
	}
	return ""
}

// clampScore bounds a composite score to [0, maxFinalScore].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > maxFinalScore {
		return maxFinalScore
	}
	return s
}
