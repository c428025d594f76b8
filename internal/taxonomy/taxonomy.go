// Package taxonomy implements the taxonomy seeding pipeline.
// It loads a canonical taxonomy definition, embeds every label, and upserts
// the results into the vector store as typed label records. Seeded labels
// give the retriever stable anchors to bias row matches toward, and give
// restricted mode its canonical label set.
// This pipeline is invoked by the `vocsight seed` CLI command.
package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/vocsight/vocsight-go/internal/retrieval"
	"github.com/vocsight/vocsight-go/internal/vecstore"
)

// SourceSeed is the origin label stamped on every seeded taxonomy record.
const SourceSeed = "taxonomy_seed"

// Definition is the on-disk shape of a canonical taxonomy.
type Definition struct {
	// Modules maps each top-level product area to its sub-modules.
	Modules map[string][]string `json:"modules"`
	// IssueTypes maps each failure category to its sub-issue types.
	IssueTypes map[string][]string `json:"issue_types"`
}

// label is one taxonomy entry scheduled for embedding.
type label struct {
	// text is the label text that gets embedded.
	text string
	// typ is the record type the label is stored under.
	typ vecstore.RecordType
	// metadata carries the parent linkage for grouping.
	metadata map[string]string
}

// Store is the slice of the vector store the seeder depends on.
// *vecstore.SQLiteStore satisfies it; tests inject a fake.
type Store interface {
	Store(ctx context.Context, text string, vector []float32, typ vecstore.RecordType, source string, metadata map[string]string) (int64, string, error)
}

// Seeder embeds taxonomy labels and upserts them as typed records.
type Seeder struct {
	embedder retrieval.Embedder
	store    Store
}

// NewSeeder constructs a Seeder from the embedder and store.
func NewSeeder(embedder retrieval.Embedder, store Store) (*Seeder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("taxonomy: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("taxonomy: store must not be nil")
	}
	return &Seeder{embedder: embedder, store: store}, nil
}

// Load reads and parses a taxonomy definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("taxonomy: parse %s: %w", path, err)
	}
	if len(def.Modules) == 0 && len(def.IssueTypes) == 0 {
		return nil, fmt.Errorf("taxonomy: %s defines no labels", path)
	}
	return &def, nil
}

// Seed embeds all labels in def and upserts them. Upsert semantics make
// seeding idempotent: re-running with the same definition stores nothing new.
// Returns the number of labels stored.
func (s *Seeder) Seed(ctx context.Context, def *Definition) (int, error) {
	if def == nil {
		return 0, fmt.Errorf("taxonomy: definition must not be nil")
	}

	labels := flatten(def)
	texts := make([]string, len(labels))
	for i, l := range labels {
		texts[i] = l.text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("taxonomy: embed labels: %w", err)
	}
	if len(vectors) != len(labels) {
		return 0, fmt.Errorf("taxonomy: embedder returned %d vectors for %d labels", len(vectors), len(labels))
	}

	for i, l := range labels {
		if _, _, err := s.store.Store(ctx, l.text, vectors[i], l.typ, SourceSeed, l.metadata); err != nil {
			return i, fmt.Errorf("taxonomy: store label %q: %w", l.text, err)
		}
	}
	return len(labels), nil
}

// flatten expands a definition into the ordered label list. Parents come
// before children; order is deterministic for stable logs and tests.
func flatten(def *Definition) []label {
	var labels []label

	for _, module := range sortedKeys(def.Modules) {
		labels = append(labels, label{
			text:     module,
			typ:      vecstore.TypeModule,
			metadata: map[string]string{"module": module},
		})
		for _, sub := range def.Modules[module] {
			labels = append(labels, label{
				text:     sub,
				typ:      vecstore.TypeSubModule,
				metadata: map[string]string{"module": module, "sub_module": sub},
			})
		}
	}

	for _, issueType := range sortedKeys(def.IssueTypes) {
		labels = append(labels, label{
			text:     issueType,
			typ:      vecstore.TypeIssueType,
			metadata: map[string]string{"issue_type": issueType},
		})
		for _, sub := range def.IssueTypes[issueType] {
			labels = append(labels, label{
				text:     sub,
				typ:      vecstore.TypeSubIssueType,
				metadata: map[string]string{"issue_type": issueType, "sub_issue_type": sub},
			})
		}
	}

	return labels
}

// sortedKeys returns the map keys in sorted order.
func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
