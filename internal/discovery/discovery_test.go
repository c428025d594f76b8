package discovery

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndLoad(t *testing.T) {
	t.Parallel()

	led := Open(filepath.Join(t.TempDir(), "ledger.jsonl"))

	entries := []Entry{
		{RowID: "BUG-1", RawDiscovery: "camera crash", EmbeddingRefs: []string{"h1"}, Mode: "discovery"},
		{RowID: "BUG-2", RawDiscovery: "battery drain", EmbeddingRefs: []string{"h2"}, Mode: "discovery"},
	}
	for _, e := range entries {
		if err := led.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := led.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Load() entries = %d, want 2", len(got))
	}
	if got[0].RowID != "BUG-1" || got[1].RowID != "BUG-2" {
		t.Errorf("Load() order = [%s, %s], want append order", got[0].RowID, got[1].RowID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	led := Open(filepath.Join(t.TempDir(), "absent.jsonl"))
	got, err := led.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load() entries = %d, want 0", len(got))
	}
}

func TestLoadMalformedLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	if err := os.WriteFile(path, []byte("{\"row_id\":\"BUG-1\"}\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path).Load(); err == nil {
		t.Error("Load() expected error for malformed line, got nil")
	}
}

func TestMergeByRow(t *testing.T) {
	t.Parallel()

	merged := MergeByRow([]Entry{
		{RowID: "BUG-2", RawDiscovery: "first pass", EmbeddingRefs: []string{"h2"}, Mode: "discovery"},
		{RowID: "BUG-1", RawDiscovery: "only entry", EmbeddingRefs: []string{"h1"}},
		{RowID: "BUG-2", RawDiscovery: "second pass", EmbeddingRefs: []string{"h2", "h3"}, Mode: "restricted"},
	})

	if len(merged) != 2 {
		t.Fatalf("MergeByRow() entries = %d, want 2", len(merged))
	}
	// Sorted by row ID.
	if merged[0].RowID != "BUG-1" || merged[1].RowID != "BUG-2" {
		t.Fatalf("MergeByRow() order = [%s, %s]", merged[0].RowID, merged[1].RowID)
	}

	b2 := merged[1]
	if b2.RawDiscovery != "first pass\n---\nsecond pass" {
		t.Errorf("RawDiscovery = %q, want concatenated runs", b2.RawDiscovery)
	}
	if len(b2.EmbeddingRefs) != 2 || b2.EmbeddingRefs[0] != "h2" || b2.EmbeddingRefs[1] != "h3" {
		t.Errorf("EmbeddingRefs = %v, want deduplicated union [h2 h3]", b2.EmbeddingRefs)
	}
	if b2.Mode != "restricted" {
		t.Errorf("Mode = %q, want latest mode restricted", b2.Mode)
	}
}

func TestCompactBacksUpPrevious(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	led := Open(path)

	for _, e := range []Entry{
		{RowID: "BUG-1", RawDiscovery: "a"},
		{RowID: "BUG-1", RawDiscovery: "b"},
	} {
		if err := led.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if err := led.Compact(); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("expected backup file after Compact(): %v", err)
	}

	got, err := led.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Load() entries = %d, want 1 after merge", len(got))
	}
	if got[0].RawDiscovery != "a\n---\nb" {
		t.Errorf("RawDiscovery = %q, want merged text", got[0].RawDiscovery)
	}
}

func TestCompactEmptyLedgerNoop(t *testing.T) {
	t.Parallel()

	led := Open(filepath.Join(t.TempDir(), "empty.jsonl"))
	if err := led.Compact(); err != nil {
		t.Errorf("Compact() error = %v, want nil for empty ledger", err)
	}
}
