// Package store persists processing session state for the chunk engine.
// Sessions are plain values owned by their callers; the store holds
// snapshots so session state survives process restarts and can be queried
// by the HTTP API while a run is in flight.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// State is the lifecycle state of a processing session.
type State string

const (
	// StateActive means batches are being dispatched and processed.
	StateActive State = "active"
	// StatePaused means no new batches start until the session resumes.
	StatePaused State = "paused"
	// StateCompleted means every chunk finished.
	StateCompleted State = "completed"
	// StateCancelled means the owner cancelled the session.
	StateCancelled State = "cancelled"
	// StateFailed means the session aborted on an unrecoverable error.
	StateFailed State = "failed"
)

// Session is a snapshot of one processing run.
type Session struct {
	// ID uniquely identifies the session.
	ID string
	// Mode is the processing mode the session runs under.
	Mode string
	// State is the current lifecycle state.
	State State
	// TotalChunks is the number of planned batches.
	TotalChunks int
	// CompletedChunks counts finished batches. Monotone, never exceeds
	// TotalChunks.
	CompletedChunks int
	// TotalRows is the number of input rows.
	TotalRows int
	// ProcessedRows counts rows with a final disposition.
	ProcessedRows int
	// DuplicatesDropped counts rows dropped as duplicates of stored inputs.
	DuplicatesDropped int
	// ReuseHits counts rows short-circuited from prior results.
	ReuseHits int
	// Error carries the failure reason when State is failed.
	Error string
	// Results is the serialized per-row outcome payload, written once when
	// the session terminates. Opaque to the store; the engine owns the
	// encoding.
	Results []byte
	// CreatedAt is when the session was created.
	CreatedAt time.Time
	// UpdatedAt is when the snapshot was last written.
	UpdatedAt time.Time
}

// SessionStore persists and retrieves session snapshots. Implementations
// must be safe for concurrent use.
type SessionStore interface {
	// Put upserts a session snapshot by ID.
	Put(ctx context.Context, s Session) error
	// Get returns the session with the given ID, or found=false if absent.
	Get(ctx context.Context, id string) (s Session, found bool, err error)
	// List returns all sessions, newest first.
	List(ctx context.Context) ([]Session, error)
	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore is an in-memory SessionStore for tests and single-run CLI use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Put upserts a session snapshot by ID.
func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = time.Now()
	m.sessions[s.ID] = s
	return nil
}

// Get returns the session with the given ID.
func (m *MemoryStore) Get(_ context.Context, id string) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok, nil
}

// List returns all sessions, newest first.
func (m *MemoryStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// SQLiteStore is a SessionStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the session database.
// It resolves to ~/.vocsight/sessions.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".vocsight")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id                 TEXT    PRIMARY KEY,
    mode               TEXT    NOT NULL,
    state              TEXT    NOT NULL CHECK(state IN ('active','paused','completed','cancelled','failed')),
    total_chunks       INTEGER NOT NULL,
    completed_chunks   INTEGER NOT NULL,
    total_rows         INTEGER NOT NULL,
    processed_rows     INTEGER NOT NULL,
    duplicates_dropped INTEGER NOT NULL,
    reuse_hits         INTEGER NOT NULL,
    error              TEXT    NOT NULL DEFAULT '',
    results            BLOB    NOT NULL DEFAULT x'',
    created_at         INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions (created_at DESC);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Put upserts a session snapshot by ID.
func (s *SQLiteStore) Put(ctx context.Context, sess Session) error {
	const q = `
INSERT INTO sessions (id, mode, state, total_chunks, completed_chunks, total_rows,
                      processed_rows, duplicates_dropped, reuse_hits, error, results, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    mode = excluded.mode,
    state = excluded.state,
    total_chunks = excluded.total_chunks,
    completed_chunks = excluded.completed_chunks,
    total_rows = excluded.total_rows,
    processed_rows = excluded.processed_rows,
    duplicates_dropped = excluded.duplicates_dropped,
    reuse_hits = excluded.reuse_hits,
    error = excluded.error,
    results = excluded.results,
    updated_at = excluded.updated_at`

	now := time.Now()
	created := sess.CreatedAt
	if created.IsZero() {
		created = now
	}
	results := sess.Results
	if results == nil {
		results = []byte{}
	}
	_, err := s.db.ExecContext(ctx, q,
		sess.ID, sess.Mode, string(sess.State),
		sess.TotalChunks, sess.CompletedChunks, sess.TotalRows,
		sess.ProcessedRows, sess.DuplicatesDropped, sess.ReuseHits,
		sess.Error, results, created.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: put: %w", err)
	}
	return nil
}

// Get returns the session with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Session, bool, error) {
	const q = `
SELECT id, mode, state, total_chunks, completed_chunks, total_rows,
       processed_rows, duplicates_dropped, reuse_hits, error, results, created_at, updated_at
FROM   sessions WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("store: get: %w", err)
	}
	return sess, true, nil
}

// List returns all sessions, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Session, error) {
	const q = `
SELECT id, mode, state, total_chunks, completed_chunks, total_rows,
       processed_rows, duplicates_dropped, reuse_hits, error, results, created_at, updated_at
FROM   sessions ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanSession.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession reads one session row in column order.
func scanSession(r rowScanner) (Session, error) {
	var sess Session
	var state string
	var created, updated int64
	err := r.Scan(&sess.ID, &sess.Mode, &state,
		&sess.TotalChunks, &sess.CompletedChunks, &sess.TotalRows,
		&sess.ProcessedRows, &sess.DuplicatesDropped, &sess.ReuseHits,
		&sess.Error, &sess.Results, &created, &updated)
	if err != nil {
		return Session{}, err
	}
	sess.State = State(state)
	sess.CreatedAt = time.Unix(created, 0)
	sess.UpdatedAt = time.Unix(updated, 0)
	return sess, nil
}
