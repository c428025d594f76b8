package vecstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is the durable embedding store backed by a local SQLite
// database. It is safe for concurrent use: the connection pool is limited to
// a single writer, so concurrent upserts serialise at the driver and
// identical-content writes are idempotent by construction. The store assumes
// a single process; running several processes against one database file is a
// documented limitation.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// identity is stamped into every record's metadata at write time.
	identity Identity
}

// DefaultDBPath returns the default path for the embedding database.
// It resolves to ~/.vocsight/embeddings.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("vecstore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".vocsight")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("vecstore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "embeddings.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests. The identity
// fields are merged into every subsequently stored record's metadata.
func Open(path string, identity Identity) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vecstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, identity: identity}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS embeddings (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    hash       TEXT    NOT NULL UNIQUE,
    text       TEXT    NOT NULL,
    embedding  TEXT    NOT NULL,  -- JSON float array
    type       TEXT    NOT NULL,
    source     TEXT    NOT NULL,
    created_at INTEGER NOT NULL,  -- Unix timestamp (seconds)
    metadata   TEXT    NOT NULL   -- JSON string map
);
CREATE INDEX IF NOT EXISTS idx_embeddings_type ON embeddings (type);
CREATE INDEX IF NOT EXISTS idx_embeddings_created ON embeddings (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("vecstore: migrate: %w", err)
	}
	return nil
}

// Store persists one embedding record, upserting on the content hash so that
// re-storing identical text is observationally a no-op. The record's metadata
// is the caller's map merged with the store identity (mode, processor,
// prompt_version). Returns ErrInvalidType (wrapped) for types outside the
// closed enumeration — nothing is written in that case.
func (s *SQLiteStore) Store(ctx context.Context, text string, vector []float32, typ RecordType, source string, metadata map[string]string) (id int64, hash string, err error) {
	if !ValidType(typ) {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}

	hash = HashText(text)

	merged := map[string]string{
		"mode":           s.identity.Mode,
		"processor":      s.identity.Processor,
		"prompt_version": s.identity.PromptVersion,
	}
	for k, v := range metadata {
		merged[k] = v
	}

	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return 0, "", fmt.Errorf("vecstore: marshal vector: %w", err)
	}
	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return 0, "", fmt.Errorf("vecstore: marshal metadata: %w", err)
	}

	// ON CONFLICT keeps the original rowid, so an upsert overwrites in place
	// and insertion order (used by FindDuplicates) is preserved.
	const q = `
INSERT INTO embeddings (hash, text, embedding, type, source, created_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET
    text = excluded.text, embedding = excluded.embedding,
    type = excluded.type, source = excluded.source, metadata = excluded.metadata`
	if _, err := s.db.ExecContext(ctx, q, hash, text, string(vecJSON), string(typ), source, time.Now().Unix(), string(metaJSON)); err != nil {
		return 0, "", fmt.Errorf("vecstore: store: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT id FROM embeddings WHERE hash = ?`, hash)
	if err := row.Scan(&id); err != nil {
		return 0, "", fmt.Errorf("vecstore: store id lookup: %w", err)
	}
	return id, hash, nil
}

// Get returns the record with the given content hash, or nil if absent.
// A missing hash is not an error.
func (s *SQLiteStore) Get(ctx context.Context, hash string) (*Record, error) {
	recs, err := s.selectRecords(ctx, `WHERE hash = ?`, hash)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// GetMulti returns the records for the given hashes, keyed by hash.
// Missing hashes are simply absent from the result map.
func (s *SQLiteStore) GetMulti(ctx context.Context, hashes []string) (map[string]*Record, error) {
	out := make(map[string]*Record, len(hashes))
	for _, h := range hashes {
		rec, err := s.Get(ctx, h)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out[h] = rec
		}
	}
	return out, nil
}

// FindSimilar performs an exact linear-scan cosine search over every stored
// vector, optionally restricted to typeFilter (empty string scans all types).
// Records whose vector dimensionality differs from the target are skipped,
// not errors. Results below minSimilarity are discarded; the rest are sorted
// descending by similarity and truncated to topK.
func (s *SQLiteStore) FindSimilar(ctx context.Context, target []float32, typeFilter RecordType, topK int, minSimilarity float64) ([]Match, error) {
	var (
		recs []*Record
		err  error
	)
	if typeFilter != "" {
		recs, err = s.selectRecords(ctx, `WHERE type = ? ORDER BY id ASC`, string(typeFilter))
	} else {
		recs, err = s.selectRecords(ctx, `ORDER BY id ASC`)
	}
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(recs))
	for _, rec := range recs {
		if len(rec.Vector) != len(target) {
			continue
		}
		sim := Cosine(target, rec.Vector)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{Record: rec, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// FindDuplicates groups near-identical records. Records are visited in
// ascending insertion order; each not-yet-grouped record anchors a group
// containing every later not-yet-grouped record whose similarity to the
// anchor is at or above threshold. Groups with fewer than two members are
// not emitted.
//
// The clusters are star-shaped around the earliest member — similarity is
// not transitive, so this is deliberately not a transitive closure, and the
// anchoring behaviour is part of the contract.
func (s *SQLiteStore) FindDuplicates(ctx context.Context, threshold float64) ([][]*Record, error) {
	recs, err := s.selectRecords(ctx, `ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}

	consumed := make([]bool, len(recs))
	var groups [][]*Record
	for i, anchor := range recs {
		if consumed[i] {
			continue
		}
		group := []*Record{anchor}
		for j := i + 1; j < len(recs); j++ {
			if consumed[j] {
				continue
			}
			if len(recs[j].Vector) != len(anchor.Vector) {
				continue
			}
			if Cosine(anchor.Vector, recs[j].Vector) >= threshold {
				group = append(group, recs[j])
				consumed[j] = true
			}
		}
		if len(group) >= 2 {
			consumed[i] = true
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// ListByMode returns up to limit records whose metadata "mode" field equals
// mode, most recent first.
func (s *SQLiteStore) ListByMode(ctx context.Context, mode string, limit int) ([]*Record, error) {
	recs, err := s.selectRecords(ctx, `ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, limit)
	for _, rec := range recs {
		if rec.Metadata["mode"] != mode {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Stats returns record counts by type and source plus the oldest and newest
// timestamps. Used for observability only.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	recs, err := s.selectRecords(ctx, `ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Total:    len(recs),
		ByType:   make(map[RecordType]int),
		BySource: make(map[string]int),
	}
	for _, rec := range recs {
		st.ByType[rec.Type]++
		st.BySource[rec.Source]++
		if st.Oldest.IsZero() || rec.CreatedAt.Before(st.Oldest) {
			st.Oldest = rec.CreatedAt
		}
		if rec.CreatedAt.After(st.Newest) {
			st.Newest = rec.CreatedAt
		}
	}
	return st, nil
}

// SweepOlderThan deletes records created before the cutoff and returns the
// number removed. This is the only path that ever deletes embeddings.
func (s *SQLiteStore) SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("vecstore: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("vecstore: sweep rows affected: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("vecstore: close: %w", err)
	}
	return nil
}

// selectRecords runs a SELECT with the given tail clause and scans full records.
func (s *SQLiteStore) selectRecords(ctx context.Context, tail string, args ...any) ([]*Record, error) {
	q := `SELECT id, hash, text, embedding, type, source, created_at, metadata FROM embeddings ` + tail

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vecstore: select: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var (
			rec      Record
			vecJSON  string
			metaJSON string
			typ      string
			ts       int64
		)
		if err := rows.Scan(&rec.ID, &rec.Hash, &rec.Text, &vecJSON, &typ, &rec.Source, &ts, &metaJSON); err != nil {
			return nil, fmt.Errorf("vecstore: select scan: %w", err)
		}
		if err := json.Unmarshal([]byte(vecJSON), &rec.Vector); err != nil {
			return nil, fmt.Errorf("vecstore: decode vector for %s: %w", rec.Hash, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("vecstore: decode metadata for %s: %w", rec.Hash, err)
		}
		rec.Type = RecordType(typ)
		rec.CreatedAt = time.Unix(ts, 0)
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vecstore: select rows: %w", err)
	}
	return recs, nil
}
