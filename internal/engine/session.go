package engine

import (
	"context"
	"sync"
	"time"

	"github.com/vocsight/vocsight-go/internal/store"
)

// Progress is one typed progress update for a session. The server adapts
// these to SSE; the engine itself knows nothing about transports.
type Progress struct {
	// Percent is overall completion in [0, 100].
	Percent float64
	// Message is a short human-readable status line.
	Message string
	// ChunksCompleted is the number of finished batches so far.
	ChunksCompleted int
	// TotalChunks is the planned batch count.
	TotalChunks int
}

// session is the engine-internal runtime state of one processing run.
// Snapshots of it are persisted through the SessionStore.
type session struct {
	id        string
	mode      string
	cancel    context.CancelFunc
	createdAt time.Time

	progress chan Progress
	done     chan struct{}

	mu   sync.Mutex
	cond *sync.Cond

	state             store.State
	totalChunks       int
	completedChunks   int
	totalRows         int
	processedRows     int
	duplicatesDropped int
	reuseHits         int
	results           []RowResult
}

// newSession returns an active session runtime with preallocated results.
func newSession(id, mode string, totalRows, totalChunks int, cancel context.CancelFunc) *session {
	s := &session{
		id:          id,
		mode:        mode,
		cancel:      cancel,
		createdAt:   time.Now(),
		progress:    make(chan Progress, progressBuffer),
		done:        make(chan struct{}),
		state:       store.StateActive,
		totalChunks: totalChunks,
		totalRows:   totalRows,
		results:     make([]RowResult, totalRows),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// awaitRunnable blocks while the session is paused and reports whether a new
// batch may start. It returns false once the session is cancelled or the
// context ends.
func (s *session) awaitRunnable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if ctx.Err() != nil || s.state == store.StateCancelled || s.state == store.StateFailed {
			return false
		}
		if s.state == store.StateActive {
			return true
		}
		// Paused: wait for Resume or Cancel to broadcast.
		s.cond.Wait()
	}
}

// report delivers a progress update without ever blocking a worker. A full
// channel drops the update; the next one carries the fresher totals anyway.
func (s *session) report(p Progress) {
	select {
	case s.progress <- p:
	default:
	}
}

// snapshot returns a persistable view of the session.
func (s *session) snapshot() store.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked is snapshot for callers already holding s.mu.
func (s *session) snapshotLocked() store.Session {
	return store.Session{
		ID:                s.id,
		Mode:              s.mode,
		State:             s.state,
		TotalChunks:       s.totalChunks,
		CompletedChunks:   s.completedChunks,
		TotalRows:         s.totalRows,
		ProcessedRows:     s.processedRows,
		DuplicatesDropped: s.duplicatesDropped,
		ReuseHits:         s.reuseHits,
		CreatedAt:         s.createdAt,
	}
}
