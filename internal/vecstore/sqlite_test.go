package vecstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", Identity{
		Mode:          "discovery",
		Processor:     "test",
		PromptVersion: "v1",
	})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_RejectsInvalidType(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.Store(ctx, "some text", []float32{1, 0}, RecordType("paragraph"), "voc_input", nil)
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("want ErrInvalidType, got %v", err)
	}

	// Nothing may have been written.
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 0 {
		t.Errorf("rejected write must store nothing, have %d records", st.Total)
	}
}

func Test_Store_UpsertByContentHash(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id1, hash1, err := s.Store(ctx, "Camera app crashes", []float32{1, 0}, TypeRow, "voc_input", nil)
	if err != nil {
		t.Fatalf("first store: %v", err)
	}
	// Same normalised text, different spacing and case: same slot.
	id2, hash2, err := s.Store(ctx, "  camera APP crashes ", []float32{0.9, 0.1}, TypeRow, "voc_input", nil)
	if err != nil {
		t.Fatalf("second store: %v", err)
	}

	if hash1 != hash2 {
		t.Errorf("equivalent texts must share a hash: %s vs %s", hash1, hash2)
	}
	if id1 != id2 {
		t.Errorf("upsert must overwrite in place: id %d vs %d", id1, id2)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 1 {
		t.Errorf("want 1 record after upsert, got %d", st.Total)
	}

	rec, err := s.Get(ctx, hash1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil {
		t.Fatalf("stored record not found")
	}
	if rec.Vector[0] != 0.9 {
		t.Errorf("upsert should overwrite the vector, got %v", rec.Vector)
	}
}

func Test_Store_MergesIdentityIntoMetadata(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, hash, err := s.Store(ctx, "screen flicker", []float32{0, 1}, TypeRow, "voc_input", map[string]string{
		"file": "beta_issues.xlsx",
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	rec, err := s.Get(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := map[string]string{
		"mode":           "discovery",
		"processor":      "test",
		"prompt_version": "v1",
		"file":           "beta_issues.xlsx",
	}
	for k, v := range want {
		if rec.Metadata[k] != v {
			t.Errorf("metadata[%s]: want %q, got %q", k, v, rec.Metadata[k])
		}
	}
}

func Test_Get_MissingHashIsNilNotError(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	rec, err := s.Get(context.Background(), "no-such-hash")
	if err != nil {
		t.Fatalf("missing hash must not error: %v", err)
	}
	if rec != nil {
		t.Errorf("missing hash must yield nil, got %+v", rec)
	}
}

func Test_GetMulti_SkipsMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, hash, err := s.Store(ctx, "battery drains fast", []float32{1, 1}, TypeRow, "voc_input", nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := s.GetMulti(ctx, []string{hash, "missing"})
	if err != nil {
		t.Fatalf("getmulti: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 hit, got %d", len(got))
	}
	if got[hash] == nil {
		t.Errorf("present hash missing from result")
	}
}

func Test_FindSimilar_RanksAndBounds(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// A [1,0] and B [0.99,0.01] both match [1,0] at ≥0.95; the exact match
	// must rank first.
	if _, _, err := s.Store(ctx, "text A", []float32{1, 0}, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store A: %v", err)
	}
	if _, _, err := s.Store(ctx, "text B", []float32{0.99, 0.01}, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store B: %v", err)
	}

	matches, err := s.FindSimilar(ctx, []float32{1, 0}, "", 5, 0.95)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("want both records, got %d", len(matches))
	}
	if matches[0].Record.Text != "text A" {
		t.Errorf("exact match must rank first, got %q", matches[0].Record.Text)
	}
	for _, m := range matches {
		if m.Similarity < 0.95 {
			t.Errorf("result below minSimilarity: %v", m.Similarity)
		}
	}
}

func Test_FindSimilar_RespectsTopK(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	texts := []string{"one", "two", "three", "four"}
	for _, txt := range texts {
		if _, _, err := s.Store(ctx, txt, []float32{1, 0.001}, TypeRow, "voc_input", nil); err != nil {
			t.Fatalf("store %s: %v", txt, err)
		}
	}

	matches, err := s.FindSimilar(ctx, []float32{1, 0}, "", 2, 0)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(matches) > 2 {
		t.Errorf("topK=2 must cap results, got %d", len(matches))
	}
}

func Test_FindSimilar_TypeFilterAndDimensionSkip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Store(ctx, "a row", []float32{1, 0}, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store row: %v", err)
	}
	if _, _, err := s.Store(ctx, "a module label", []float32{1, 0}, TypeModule, "taxonomy", nil); err != nil {
		t.Fatalf("store module: %v", err)
	}
	// Wrong dimensionality: must be skipped, not an error.
	if _, _, err := s.Store(ctx, "three dims", []float32{1, 0, 0}, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store 3d: %v", err)
	}

	matches, err := s.FindSimilar(ctx, []float32{1, 0}, TypeRow, 10, 0.5)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("want exactly the 2-dim row record, got %d matches", len(matches))
	}
	if matches[0].Record.Type != TypeRow {
		t.Errorf("type filter leaked a %s record", matches[0].Record.Type)
	}
}

func Test_FindDuplicates_StarClustersAnchoredOnEarliest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// Vectors arranged so that sim(A,B) ≥ 0.95, sim(B,C) ≥ 0.95, but
	// sim(A,C) < 0.95. Unit vectors at angles 0°, 14°, 28°:
	// cos(14°) ≈ 0.970, cos(28°) ≈ 0.883.
	a := []float32{1, 0}
	b := []float32{0.9703, 0.2419}
	c := []float32{0.8829, 0.4695}

	if _, _, err := s.Store(ctx, "A", a, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store A: %v", err)
	}
	if _, _, err := s.Store(ctx, "B", b, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store B: %v", err)
	}
	if _, _, err := s.Store(ctx, "C", c, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store C: %v", err)
	}

	groups, err := s.FindDuplicates(ctx, 0.95)
	if err != nil {
		t.Fatalf("find duplicates: %v", err)
	}

	// Star cluster on the earliest record: {A,B} grouped, C left alone even
	// though sim(B,C) clears the threshold — not a transitive closure.
	if len(groups) != 1 {
		t.Fatalf("want exactly one group, got %d", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Fatalf("want group of 2, got %d", len(groups[0]))
	}
	if groups[0][0].Text != "A" || groups[0][1].Text != "B" {
		t.Errorf("group must be {A,B} anchored on A, got {%s,%s}", groups[0][0].Text, groups[0][1].Text)
	}
}

func Test_ListByMode_FiltersOnMetadataMode(t *testing.T) {
	t.Parallel()
	s := openTestStore(t) // identity mode "discovery"
	ctx := context.Background()

	if _, _, err := s.Store(ctx, "discovery row", []float32{1, 0}, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	// Caller-supplied metadata can override the stamped mode.
	if _, _, err := s.Store(ctx, "restricted row", []float32{0, 1}, TypeRow, "voc_input", map[string]string{"mode": "restricted"}); err != nil {
		t.Fatalf("store: %v", err)
	}

	recs, err := s.ListByMode(ctx, "discovery", 10)
	if err != nil {
		t.Fatalf("list by mode: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("want 1 discovery record, got %d", len(recs))
	}
	if recs[0].Text != "discovery row" {
		t.Errorf("wrong record: %q", recs[0].Text)
	}
}

func Test_Stats_CountsAndTimestamps(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Store(ctx, "r1", []float32{1, 0}, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, _, err := s.Store(ctx, "r2", []float32{0, 1}, TypeRow, "voc_result", nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, _, err := s.Store(ctx, "display", []float32{1, 1}, TypeModule, "taxonomy", nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 {
		t.Errorf("total: want 3, got %d", st.Total)
	}
	if st.ByType[TypeRow] != 2 || st.ByType[TypeModule] != 1 {
		t.Errorf("by type: %+v", st.ByType)
	}
	if st.BySource["voc_input"] != 1 || st.BySource["voc_result"] != 1 {
		t.Errorf("by source: %+v", st.BySource)
	}
	if st.Oldest.IsZero() || st.Newest.Before(st.Oldest) {
		t.Errorf("timestamps: oldest %v newest %v", st.Oldest, st.Newest)
	}
}

func Test_SweepOlderThan(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Store(ctx, "recent", []float32{1, 0}, TypeRow, "voc_input", nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Cutoff in the past removes nothing.
	n, err := s.SweepOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("past cutoff: want 0 removed, got %d", n)
	}

	// Cutoff in the future removes everything.
	n, err = s.SweepOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("future cutoff: want 1 removed, got %d", n)
	}
}
