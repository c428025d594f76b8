package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/vocsight/vocsight-go/internal/vecstore"
)

const (
	// defaultLimit is the result count when the caller passes 0.
	defaultLimit = 8

	// defaultMinSimilarity is the retrieval floor. 0.72 sits inside the
	// recommended 0.70–0.75 band; lowering it trades precision for recall
	// and must be a deliberate configuration choice.
	defaultMinSimilarity = 0.72

	// byTypeMinSimilarity is the fixed floor for the simplified
	// RetrieveByType path.
	byTypeMinSimilarity = 0.7
)

// typeBias is the soft per-type additive bias applied to raw similarity.
// Constants are small (≤0.05 absolute) so bias can break near-ties but never
// overturn a clearly better match.
var typeBias = map[vecstore.RecordType]float64{
	vecstore.TypeRow:       0.05,
	vecstore.TypeModule:    0.03,
	vecstore.TypeSubModule: 0.02,
}

// Config holds retriever construction settings.
type Config struct {
	// Profile names the re-ranking weight profile: default, code_focused,
	// or analytics_focused. Empty selects "default".
	Profile string
	// MinSimilarity is the retrieval floor used when Retrieve is called
	// with 0. Defaults to 0.72.
	MinSimilarity float64
	// HardTypeFilter, when set, drops all candidates of other types
	// entirely instead of applying the soft type bias.
	HardTypeFilter vecstore.RecordType
	// RecencyHalfLifeDays controls the exponential recency decay.
	// Defaults to 30. Ignored when the profile's recency weight is 0.
	RecencyHalfLifeDays float64
	// DisableRecency forces the recency factor to 0 regardless of profile.
	DisableRecency bool
}

// Retriever embeds queries and searches the vector store, applying type
// bias, profile-weighted re-ranking, and the same-group boost. Safe for
// concurrent use.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder
	// store performs the exact similarity scan.
	store Searcher
	// profile is the resolved re-ranking weight profile.
	profile rerankProfile
	// cfg holds the resolved retriever configuration.
	cfg *Config
}

// New constructs a Retriever from the given Embedder and Searcher.
func New(embedder Embedder, store Searcher, cfg *Config) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("retrieval: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = defaultMinSimilarity
	}
	if cfg.RecencyHalfLifeDays <= 0 {
		cfg.RecencyHalfLifeDays = defaultRecencyHalfLifeDays
	}
	profile, err := profileByName(cfg.Profile)
	if err != nil {
		return nil, err
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		profile:  profile,
		cfg:      cfg,
	}, nil
}

// expandQuery wraps the raw query in an instructional frame before embedding.
// This biases the embedding toward the issue-report domain rather than
// generic text similarity.
func expandQuery(query string) string {
	return fmt.Sprintf("User reported issue: %s. Find similar historical device issues, their modules, and their classifications.", query)
}

// Retrieve returns up to limit re-ranked results for the query. limit 0
// selects the default of 8; minSimilarity 0 selects the configured floor.
//
// Given a fixed candidate set and profile the output is deterministic:
// exact final-score ties are broken by raw similarity, never by insertion
// order.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int, minSimilarity float64) ([]Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if minSimilarity <= 0 {
		minSimilarity = r.cfg.MinSimilarity
	}

	vectors, err := r.embedder.Embed(ctx, []string{expandQuery(query)})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query failed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("retrieval: embedder returned empty result for query")
	}

	// The scan is scoped to the canonical discovery type; taxonomy label
	// records are reachable only through RetrieveByType.
	matches, err := r.store.FindSimilar(ctx, vectors[0], vecstore.TypeRow, limit, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search failed: %w", err)
	}

	hints := DetectQueryHints(query)

	// Stage 1: soft bias or hard filter, then fix the re-ranking window.
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if r.cfg.HardTypeFilter != "" && m.Record.Type != r.cfg.HardTypeFilter {
			continue
		}
		biased := m.Similarity
		if r.cfg.HardTypeFilter == "" {
			biased += typeBias[m.Record.Type]
		}
		results = append(results, Result{
			Record:           m.Record,
			RawSimilarity:    m.Similarity,
			BiasedSimilarity: biased,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].BiasedSimilarity > results[j].BiasedSimilarity
	})
	if len(results) > limit {
		results = results[:limit]
	}

	// Stage 2: profile-weighted re-rank inside the fixed window.
	r.rerank(results, hints)

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].RawSimilarity > results[j].RawSimilarity
	})
	return results, nil
}

// RetrieveByType is the simplified retrieval path: no query expansion, no
// re-ranking, fixed 0.7 similarity floor. Used for direct taxonomy lookups.
func (r *Retriever) RetrieveByType(ctx context.Context, query string, typ vecstore.RecordType, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query failed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("retrieval: embedder returned empty result for query")
	}

	matches, err := r.store.FindSimilar(ctx, vectors[0], typ, limit, byTypeMinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search failed: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Result{
			Record:           m.Record,
			RawSimilarity:    m.Similarity,
			BiasedSimilarity: m.Similarity,
			FinalScore:       clampScore(m.Similarity),
		})
	}
	return results, nil
}
