// Package engine runs governed chunk processing sessions over VOC rows.
// A session splits its input into contiguous batches, processes batches on a
// bounded worker pool, and for each row either drops it as a duplicate of a
// stored input, short-circuits it from a prior classification result, or
// sends it to the classifier. Output order always matches input order
// regardless of worker count.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vocsight/vocsight-go/internal/classify"
	"github.com/vocsight/vocsight-go/internal/dataset"
	"github.com/vocsight/vocsight-go/internal/governance"
	"github.com/vocsight/vocsight-go/internal/logging"
	"github.com/vocsight/vocsight-go/internal/retrieval"
	"github.com/vocsight/vocsight-go/internal/store"
	"github.com/vocsight/vocsight-go/internal/vecstore"
)

const (
	// defaultWorkers is the worker pool size when none is configured.
	defaultWorkers = 2
	// maxWorkers caps the pool; beyond this the local model backend is the
	// bottleneck anyway.
	maxWorkers = 8
	// defaultChunkSize is the rows-per-batch default.
	defaultChunkSize = 10
	// progressBuffer is the progress channel capacity. Sends never block;
	// a full channel drops the update.
	progressBuffer = 16
	// reuseLookupTopK bounds the similarity lookup per row. A handful of
	// candidates is enough to find both an input duplicate and a prior result.
	reuseLookupTopK = 5
)

// Classifier is the consumer-side interface over the batch classifier.
type Classifier interface {
	Classify(ctx context.Context, rows []dataset.Row, retrievalContext string) ([]classify.Result, error)
}

// VectorStore is the subset of the embedding store the engine uses.
type VectorStore interface {
	Store(ctx context.Context, text string, vector []float32, typ vecstore.RecordType, source string, metadata map[string]string) (int64, string, error)
	FindSimilar(ctx context.Context, target []float32, typeFilter vecstore.RecordType, topK int, minSimilarity float64) ([]vecstore.Match, error)
}

// RowStatus is the final disposition of one input row.
type RowStatus string

const (
	// StatusClassified means the classifier produced the row's result.
	StatusClassified RowStatus = "classified"
	// StatusDuplicate means the row matched a stored input row at the
	// reuse threshold and was dropped without classification.
	StatusDuplicate RowStatus = "duplicate"
	// StatusReused means the row's result was short-circuited from a prior
	// classification result record.
	StatusReused RowStatus = "reused"
	// StatusError means classification failed for the row's batch.
	StatusError RowStatus = "error"
)

// RowResult is the outcome for a single input row. Results are returned in
// input order; rows in batches that never started (cancelled sessions) have
// an empty Status.
type RowResult struct {
	// Index is the row's position in the session input.
	Index int
	// Row is the input row.
	Row dataset.Row
	// Status is the row's final disposition.
	Status RowStatus
	// Result is the classification, populated for classified and reused rows.
	Result classify.Result
	// MatchedHash is the content hash of the stored record a duplicate or
	// reused row matched.
	MatchedHash string
	// EmbeddingRefs are the content hashes of the embedding records the row
	// produced (input record, then result record), set for classified rows.
	EmbeddingRefs []string
	// Error carries the per-row failure reason when Status is error.
	Error string
}

// Config holds the collaborators and tuning for an Engine.
type Config struct {
	// Embedder converts row text to vectors. Required.
	Embedder retrieval.Embedder
	// Classifier produces classifications for surviving rows. Required.
	Classifier Classifier
	// Vectors is the embedding store. Required.
	Vectors VectorStore
	// Sessions persists session snapshots. Required.
	Sessions store.SessionStore
	// Profile supplies the governed similarity thresholds. Required.
	Profile *governance.ThresholdProfile
	// Workers is the worker pool size (semaphore permits). Defaults to 2,
	// capped at 8.
	Workers int
	// ChunkSize is the number of rows per batch. Defaults to 10.
	ChunkSize int
	// Metrics receives engine counters. Optional.
	Metrics *Metrics
	// GeneratorRPS paces classifier calls across all sessions when > 0.
	GeneratorRPS float64
}

// Engine dispatches and supervises processing sessions.
type Engine struct {
	embedder   retrieval.Embedder
	classifier Classifier
	vectors    VectorStore
	sessions   store.SessionStore
	profile    *governance.ThresholdProfile

	workers   int
	chunkSize int
	metrics   *Metrics
	limiter   *rate.Limiter

	reuseThreshold float64

	mu      sync.Mutex
	running map[string]*session
}

// New constructs an Engine from the provided Config.
func New(cfg *Config) (*Engine, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("engine: Embedder must not be nil")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("engine: Classifier must not be nil")
	}
	if cfg.Vectors == nil {
		return nil, fmt.Errorf("engine: Vectors must not be nil")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("engine: Sessions must not be nil")
	}
	if cfg.Profile == nil {
		return nil, fmt.Errorf("engine: Profile must not be nil")
	}

	reuse, err := cfg.Profile.Threshold(governance.OpReuseRow)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	var limiter *rate.Limiter
	if cfg.GeneratorRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GeneratorRPS), 1)
	}

	return &Engine{
		embedder:       cfg.Embedder,
		classifier:     cfg.Classifier,
		vectors:        cfg.Vectors,
		sessions:       cfg.Sessions,
		profile:        cfg.Profile,
		workers:        workers,
		chunkSize:      chunkSize,
		metrics:        cfg.Metrics,
		limiter:        limiter,
		reuseThreshold: reuse,
		running:        make(map[string]*session),
	}, nil
}

// Chunk is a contiguous half-open row range [Start, End).
type Chunk struct {
	// Start is the first row index in the chunk.
	Start int
	// End is one past the last row index.
	End int
}

// planChunks splits total rows into contiguous disjoint chunks of at most
// size rows each.
func planChunks(total, size int) []Chunk {
	if total <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{Start: start, End: end})
	}
	return chunks
}

// Start begins processing rows as a new session and returns its ID and
// progress channel. Processing runs in the background; use Wait for the
// results and Pause/Resume/Cancel to steer the session.
func (e *Engine) Start(ctx context.Context, rows []dataset.Row) (string, <-chan Progress, error) {
	if len(rows) == 0 {
		return "", nil, fmt.Errorf("engine: no rows to process")
	}

	id, err := newSessionID()
	if err != nil {
		return "", nil, err
	}

	chunks := planChunks(len(rows), e.chunkSize)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := newSession(id, string(e.profile.Mode()), len(rows), len(chunks), cancel)

	if err := e.sessions.Put(ctx, s.snapshot()); err != nil {
		cancel()
		return "", nil, fmt.Errorf("engine: failed to persist session: %w", err)
	}

	e.mu.Lock()
	e.running[id] = s
	e.mu.Unlock()

	go e.run(logging.WithLogger(runCtx, logging.FromContext(ctx)), s, rows, chunks)

	return id, s.progress, nil
}

// Wait blocks until the session finishes and returns its row results in
// input order. Sessions already terminated are served from the session store.
func (e *Engine) Wait(id string) ([]RowResult, error) {
	e.mu.Lock()
	s, ok := e.running[id]
	e.mu.Unlock()
	if !ok {
		return e.storedResults(id)
	}
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results, nil
}

// Results returns the row results collected so far for a live session, or
// the final results of a terminated one from the session store.
func (e *Engine) Results(id string) ([]RowResult, error) {
	e.mu.Lock()
	s, ok := e.running[id]
	e.mu.Unlock()
	if !ok {
		return e.storedResults(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RowResult, len(s.results))
	copy(out, s.results)
	return out, nil
}

// storedResults loads a terminated session's recorded results from the
// session store.
func (e *Engine) storedResults(id string) ([]RowResult, error) {
	sess, found, err := e.sessions.Get(context.Background(), id)
	if err != nil {
		return nil, fmt.Errorf("engine: session lookup: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("engine: unknown session %q", id)
	}
	if len(sess.Results) == 0 {
		return nil, fmt.Errorf("engine: session %q has no recorded results", id)
	}
	var results []RowResult
	if err := json.Unmarshal(sess.Results, &results); err != nil {
		return nil, fmt.Errorf("engine: decode results for session %q: %w", id, err)
	}
	return results, nil
}

// Pause stops new batches from starting. In-flight batches run to
// completion. Only active sessions can pause.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.transition(ctx, id, store.StatePaused)
}

// Resume reactivates a paused session.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.transition(ctx, id, store.StateActive)
}

// Cancel cooperatively cancels a session: no new batches start and in-flight
// model calls are aborted via the session context. Cancellation is not an
// error to the session owner.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	return e.transition(ctx, id, store.StateCancelled)
}

// transition applies a lifecycle change after validating it against the
// current state.
func (e *Engine) transition(ctx context.Context, id string, to store.State) error {
	s, err := e.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	from := s.state
	ok := false
	switch to {
	case store.StatePaused:
		ok = from == store.StateActive
	case store.StateActive:
		ok = from == store.StatePaused
	case store.StateCancelled:
		ok = from == store.StateActive || from == store.StatePaused
	}
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("engine: cannot transition session %s from %s to %s", id, from, to)
	}
	s.state = to
	snap := s.snapshotLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	if to == store.StateCancelled {
		s.cancel()
	}
	if err := e.sessions.Put(ctx, snap); err != nil {
		return fmt.Errorf("engine: failed to persist session: %w", err)
	}
	return nil
}

// lookup returns the running session with the given ID.
func (e *Engine) lookup(id string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.running[id]
	if !ok {
		return nil, fmt.Errorf("engine: unknown session %q", id)
	}
	return s, nil
}

// run drives a session to completion: dispatch chunks onto the worker pool,
// then finalise state and close the progress channel.
func (e *Engine) run(ctx context.Context, s *session, rows []dataset.Row, chunks []Chunk) {
	log := logging.FromContext(ctx).With(slog.String("session", s.id))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for _, chunk := range chunks {
		// Acquire the permit first, then gate on session state: a batch
		// queued behind busy workers must not start if the session pauses
		// or cancels before a worker frees up.
		sem <- struct{}{}
		if !s.awaitRunnable(ctx) {
			<-sem
			break
		}
		wg.Add(1)
		go func(c Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			e.processChunk(ctx, s, rows[c.Start:c.End], c)
		}(chunk)
	}
	wg.Wait()

	s.mu.Lock()
	if s.state == store.StateActive || s.state == store.StatePaused {
		s.state = store.StateCompleted
	}
	snap := s.snapshotLocked()
	payload, perr := json.Marshal(s.results)
	s.mu.Unlock()

	if perr != nil {
		log.Error("engine: failed to encode session results", slog.Any("error", perr))
	} else {
		snap.Results = payload
	}
	// The run context is cancelled for cancelled sessions; the final snapshot
	// must still be written so the store serves later lookups.
	if err := e.sessions.Put(context.WithoutCancel(ctx), snap); err != nil {
		log.Error("engine: failed to persist final session state", slog.Any("error", err))
	}
	log.Info("engine: session finished",
		slog.String("state", string(snap.State)),
		slog.Int("processed_rows", snap.ProcessedRows),
		slog.Int("duplicates_dropped", snap.DuplicatesDropped),
		slog.Int("reuse_hits", snap.ReuseHits),
	)

	close(s.progress)
	close(s.done)

	// Terminated sessions leave the active registry; the persisted snapshot
	// serves lookups from here on.
	e.mu.Lock()
	delete(e.running, s.id)
	e.mu.Unlock()
}

// processChunk handles one batch: embed, dedup, reuse, classify survivors,
// store embeddings, record results, and report progress.
func (e *Engine) processChunk(ctx context.Context, s *session, batch []dataset.Row, c Chunk) {
	log := logging.FromContext(ctx).With(
		slog.String("session", s.id),
		slog.Int("chunk_start", c.Start),
		slog.Int("chunk_end", c.End),
	)
	started := time.Now()

	texts := make([]string, len(batch))
	for i, row := range batch {
		texts[i] = row.Text()
	}

	// Embedding failure is soft: rows proceed without similarity
	// optimisation, straight to the classifier.
	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(batch) {
		if ctx.Err() != nil {
			return
		}
		log.Warn("engine: embedding failed, processing batch without similarity checks", slog.Any("error", err))
		vectors = nil
	}

	results := make([]RowResult, len(batch))
	var survivors []int
	var kept []int
	for i, row := range batch {
		results[i] = RowResult{Index: c.Start + i, Row: row}

		// A row repeating earlier batch content is a duplicate of the first
		// occurrence. It is filtered here, before the stored-record lookup
		// and before any classifier call; its MatchedHash is the hash the
		// first occurrence's input record will be stored under.
		if j := batchDuplicate(texts, vectors, kept, i, e.reuseThreshold); j >= 0 {
			results[i].Status = StatusDuplicate
			results[i].MatchedHash = vecstore.HashText(texts[j])
			continue
		}
		kept = append(kept, i)

		if vectors == nil {
			survivors = append(survivors, i)
			continue
		}
		disposition, matched := e.checkStored(ctx, log, vectors[i])
		switch disposition {
		case StatusDuplicate:
			results[i].Status = StatusDuplicate
			results[i].MatchedHash = matched.Hash
		case StatusReused:
			results[i].Status = StatusReused
			results[i].MatchedHash = matched.Hash
			results[i].Result = resultFromRecord(row, matched)
		default:
			survivors = append(survivors, i)
		}
	}

	if len(survivors) > 0 {
		e.classifySurvivors(ctx, log, batch, vectors, survivors, results)
	}
	if ctx.Err() != nil {
		// Cancelled mid-batch: the batch is abandoned, not an error.
		return
	}

	duplicates, reused, errored := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusDuplicate:
			duplicates++
		case StatusReused:
			reused++
		case StatusError:
			errored++
		}
	}

	s.mu.Lock()
	for i, r := range results {
		s.results[c.Start+i] = r
	}
	s.completedChunks++
	s.processedRows += len(results)
	s.duplicatesDropped += duplicates
	s.reuseHits += reused
	snap := s.snapshotLocked()
	reportable := s.state == store.StateActive
	s.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RowsProcessed.Add(float64(len(results)))
		e.metrics.DuplicatesDropped.Add(float64(duplicates))
		e.metrics.ReuseHits.Add(float64(reused))
		e.metrics.RowErrors.Add(float64(errored))
		e.metrics.BatchDuration.Observe(time.Since(started).Seconds())
	}

	if err := e.sessions.Put(ctx, snap); err != nil {
		log.Warn("engine: failed to persist session progress", slog.Any("error", err))
	}
	// Pause suspends progress reporting alongside new batch starts.
	if reportable {
		s.report(Progress{
			Percent:         float64(snap.CompletedChunks) / float64(snap.TotalChunks) * 100,
			Message:         fmt.Sprintf("processed rows %d-%d", c.Start+1, c.End),
			ChunksCompleted: snap.CompletedChunks,
			TotalChunks:     snap.TotalChunks,
		})
	}
}

// batchDuplicate returns the batch index of an earlier kept row that the row
// at i duplicates, or -1. Identical normalized text always matches; when
// vectors are available, near-identical rows at the reuse threshold match
// too, so the same governed threshold applies within a batch as against the
// store.
func batchDuplicate(texts []string, vectors [][]float32, kept []int, i int, threshold float64) int {
	for _, j := range kept {
		if vecstore.Normalize(texts[j]) == vecstore.Normalize(texts[i]) {
			return j
		}
		if vectors != nil && vecstore.Cosine(vectors[i], vectors[j]) >= threshold {
			return j
		}
	}
	return -1
}

// checkStored looks the vector up against stored row records at the reuse
// threshold. A match on an input record is a duplicate; a match on a result
// record is a reuse hit. Lookup failure means "no duplicate".
func (e *Engine) checkStored(ctx context.Context, log *slog.Logger, vector []float32) (RowStatus, *vecstore.Record) {
	matches, err := e.vectors.FindSimilar(ctx, vector, vecstore.TypeRow, reuseLookupTopK, e.reuseThreshold)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("engine: duplicate lookup failed, treating as no duplicate", slog.Any("error", err))
		}
		return "", nil
	}
	for _, m := range matches {
		if m.Record.Source == vecstore.SourceInput {
			return StatusDuplicate, m.Record
		}
	}
	for _, m := range matches {
		if m.Record.Source == vecstore.SourceResult {
			return StatusReused, m.Record
		}
	}
	return "", nil
}

// classifySurvivors runs one classifier call for the batch survivors and
// annotates per-row outcomes. A failed call marks every survivor with the
// error; the batch is not retried and sibling batches are unaffected.
func (e *Engine) classifySurvivors(ctx context.Context, log *slog.Logger, batch []dataset.Row, vectors [][]float32, survivors []int, results []RowResult) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
	}

	rows := make([]dataset.Row, len(survivors))
	for i, idx := range survivors {
		rows[i] = batch[idx]
	}

	if e.metrics != nil {
		e.metrics.GeneratorCalls.Inc()
	}
	classified, err := e.classifier.Classify(ctx, rows, "")
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("engine: classification failed for batch", slog.Any("error", err))
		for _, idx := range survivors {
			results[idx].Status = StatusError
			results[idx].Error = err.Error()
		}
		return
	}

	for i, idx := range survivors {
		results[idx].Status = StatusClassified
		results[idx].Result = classified[i]
		if vectors != nil {
			results[idx].EmbeddingRefs = e.storeRow(ctx, log, batch[idx], vectors[idx], classified[i])
		}
	}
}

// storeRow persists the input row embedding and its classification result so
// later sessions can dedup against the input and reuse the result. It
// returns the content hashes of the records it stored; store failures are
// logged, never fatal to the row.
func (e *Engine) storeRow(ctx context.Context, log *slog.Logger, row dataset.Row, vector []float32, res classify.Result) []string {
	var refs []string
	_, inputHash, err := e.vectors.Store(ctx, row.Text(), vector, vecstore.TypeRow, vecstore.SourceInput, map[string]string{
		"issue_id": row.IssueID,
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("engine: failed to store input embedding", slog.Any("error", err))
		}
	} else {
		refs = append(refs, inputHash)
	}

	// Result records reuse the input vector so future near-duplicate inputs
	// match them, but carry distinct text so they get their own storage slot.
	resultText := row.Text() + " => " + res.Summary
	_, resultHash, err := e.vectors.Store(ctx, resultText, vector, vecstore.TypeRow, vecstore.SourceResult, map[string]string{
		"issue_id":       row.IssueID,
		"module":         res.Module,
		"sub_module":     res.SubModule,
		"issue_type":     res.IssueType,
		"sub_issue_type": res.SubIssueType,
		"severity":       res.Severity,
		"summary":        res.Summary,
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("engine: failed to store result embedding", slog.Any("error", err))
		}
	} else {
		refs = append(refs, resultHash)
	}
	return refs
}

// resultFromRecord rebuilds a classification from a stored result record's
// metadata for reuse short-circuiting.
func resultFromRecord(row dataset.Row, rec *vecstore.Record) classify.Result {
	md := rec.Metadata
	return classify.Result{
		IssueID:      row.IssueID,
		Module:       md["module"],
		SubModule:    md["sub_module"],
		IssueType:    md["issue_type"],
		SubIssueType: md["sub_issue_type"],
		Severity:     md["severity"],
		Summary:      md["summary"],
	}
}

// newSessionID returns a random 16-hex-character session identifier.
func newSessionID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("engine: failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
