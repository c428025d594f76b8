// Package discovery persists the accumulated discovery output of processing
// runs: one JSONL ledger entry per classified row, carrying the raw model
// output and the embedding records it produced. Entries for the same row
// across runs are merged by concatenating their raw discovery text, so
// re-processing a spreadsheet enriches the ledger instead of replacing it.
package discovery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Entry is one ledger line for a processed row.
type Entry struct {
	// RowID is the issue tracking identifier of the source row.
	RowID string `json:"row_id"`
	// RawDiscovery is the raw model output recorded for the row. Merged
	// entries concatenate with a separator line.
	RawDiscovery string `json:"raw_discovery"`
	// EmbeddingRefs lists the content hashes of embedding records the row
	// produced in the vector store.
	EmbeddingRefs []string `json:"embedding_refs"`
	// Mode is the processing mode the entry was produced under.
	Mode string `json:"mode"`
}

// mergeSeparator joins raw discovery text accumulated across runs.
const mergeSeparator = "\n---\n"

// Ledger is an append-only JSONL discovery ledger backed by a single file.
// Appends are serialized; a full rewrite (merge compaction) backs up the
// previous file first.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// Open returns a Ledger over the given path. The file is created lazily on
// first append.
func Open(path string) *Ledger {
	return &Ledger{path: path}
}

// Append writes one entry to the end of the ledger.
func (l *Ledger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("discovery: failed to open ledger: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("discovery: failed to marshal entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("discovery: failed to append entry: %w", err)
	}
	return nil
}

// Load reads every entry in ledger order. A missing file yields an empty
// slice, not an error.
func (l *Ledger) Load() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

func (l *Ledger) loadLocked() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("discovery: failed to open ledger: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("discovery: malformed entry at line %d: %w", lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("discovery: failed to read ledger: %w", err)
	}
	return entries, nil
}

// Compact merges entries with the same row ID into one entry each and
// rewrites the ledger. Raw discovery text concatenates in append order;
// embedding refs union, preserving first appearance; the latest mode wins.
// The previous file is backed up to <path>.bak before the rewrite.
func (l *Ledger) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.loadLocked()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	merged := MergeByRow(entries)

	if err := os.Rename(l.path, l.path+".bak"); err != nil {
		return fmt.Errorf("discovery: failed to back up ledger: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("discovery: failed to rewrite ledger: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range merged {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("discovery: failed to marshal merged entry: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("discovery: failed to write merged entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("discovery: failed to flush ledger: %w", err)
	}
	return nil
}

// MergeByRow collapses entries sharing a row ID into single entries, sorted
// by row ID for deterministic output.
func MergeByRow(entries []Entry) []Entry {
	byRow := make(map[string]*Entry)
	order := make([]string, 0)
	for _, e := range entries {
		existing, ok := byRow[e.RowID]
		if !ok {
			copied := e
			byRow[e.RowID] = &copied
			order = append(order, e.RowID)
			continue
		}
		if e.RawDiscovery != "" {
			if existing.RawDiscovery != "" {
				existing.RawDiscovery += mergeSeparator
			}
			existing.RawDiscovery += e.RawDiscovery
		}
		existing.EmbeddingRefs = unionRefs(existing.EmbeddingRefs, e.EmbeddingRefs)
		if e.Mode != "" {
			existing.Mode = e.Mode
		}
	}

	sort.Strings(order)
	merged := make([]Entry, 0, len(order))
	for _, id := range order {
		merged = append(merged, *byRow[id])
	}
	return merged
}

// unionRefs appends refs from b not already present in a.
func unionRefs(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, r := range a {
		seen[r] = true
	}
	for _, r := range b {
		if !seen[r] {
			a = append(a, r)
			seen[r] = true
		}
	}
	return a
}
