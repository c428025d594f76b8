// Package server implements the HTTP server that exposes the VOC processing
// engine, the governed retriever, and the vector store over a REST/SSE API.
// The server is started by the `vocsight serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocsight/vocsight-go/internal/engine"
	"github.com/vocsight/vocsight-go/internal/logging"
	"github.com/vocsight/vocsight-go/internal/store"
)

// defaultSearchLimit is the number of hits returned by GET /api/search when
// the caller does not pass an explicit limit.
const defaultSearchLimit = 8

// New constructs a Server from the processing engine and config.
func New(eng *engine.Engine, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for progress event streams.
		cfg.WriteTimeout = 15 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		engine:  eng,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
		streams: make(map[string]progressStream),
	}
	if cfg.Sessions != nil {
		s.sessions = cfg.Sessions
	}
	if cfg.Retriever != nil {
		s.retriever = cfg.Retriever
	}
	if cfg.Vectors != nil {
		s.vectors = cfg.Vectors
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("GET /api/sessions/{id}/results", s.handleSessionResults)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.handleSessionPause)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleSessionResume)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.handleSessionCancel)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set, authentication disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	var handler http.Handler = mux
	handler = authMiddleware(cfg.APIKey, handler)
	handler = rl.middleware(handler)
	handler = s.metrics.middleware(handler)
	handler = requestLogger(s.log, handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleProcess handles POST /api/process. It starts an asynchronous
// processing session for the submitted rows and returns its ID immediately;
// progress is observed via GET /api/sessions/{id}/events.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.processRequestsTotal.WithLabelValues("invalid").Inc()
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Rows) == 0 {
		s.metrics.processRequestsTotal.WithLabelValues("invalid").Inc()
		http.Error(w, "rows is required", http.StatusBadRequest)
		return
	}

	// The session outlives this request; Start detaches from the request
	// context internally.
	id, progress, err := s.engine.Start(r.Context(), req.Rows)
	if err != nil {
		s.metrics.processRequestsTotal.WithLabelValues("error").Inc()
		log.Error("process start failed", slog.Any("error", err))
		http.Error(w, "failed to start processing", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.sweepStreamsLocked(time.Now())
	s.streams[id] = progressStream{ch: progress, registered: time.Now()}
	s.mu.Unlock()

	s.metrics.processRequestsTotal.WithLabelValues("accepted").Inc()
	log.Info("session started",
		slog.String("session_id", id),
		slog.Int("rows", len(req.Rows)),
	)

	writeJSON(w, http.StatusAccepted, processResponse{SessionID: id, TotalRows: len(req.Rows)})
}

// handleSessionList handles GET /api/sessions, newest first.
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "session store not configured", http.StatusServiceUnavailable)
		return
	}

	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("session list failed", slog.Any("error", err))
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSessionGet handles GET /api/sessions/{id}.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "session store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	sess, found, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Error("session get failed",
			slog.String("session_id", id), slog.Any("error", err))
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// handleSessionResults handles GET /api/sessions/{id}/results. Rows that
// have not yet been processed are omitted; the remainder keep their input
// positions in the Index field.
func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	results, err := s.engine.Results(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	resp := make([]rowResultResponse, 0, len(results))
	for _, res := range results {
		if res.Status == "" {
			continue
		}
		rr := rowResultResponse{
			Index:       res.Index,
			IssueID:     res.Row.IssueID,
			Status:      string(res.Status),
			MatchedHash: res.MatchedHash,
			Error:       res.Error,
		}
		if res.Status == engine.StatusClassified || res.Status == engine.StatusReused {
			result := res.Result
			rr.Result = &result
		}
		resp = append(resp, rr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSessionEvents handles GET /api/sessions/{id}/events. It streams the
// session's progress updates as Server-Sent Events until the session
// finishes or the client disconnects. Each session's stream can be claimed
// by at most one client.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	s.mu.Lock()
	entry, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "no live event stream for session", http.StatusNotFound)
		return
	}
	progress := entry.ch

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	s.metrics.activeEventStreams.Inc()
	defer s.metrics.activeEventStreams.Dec()

	for {
		select {
		case <-r.Context().Done():
			log.Info("event stream client disconnected", slog.String("session_id", id))
			return
		case p, open := <-progress:
			if !open {
				fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(p)
			if err != nil {
				log.Error("progress encode error", slog.Any("error", err))
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// sweepStreamsLocked drops unclaimed streams older than the server's write
// timeout. No SSE response can outlive that timeout, so a stream that old can
// never be usefully claimed; the session's outcome stays available through
// the results endpoint. Caller must hold s.mu.
func (s *Server) sweepStreamsLocked(now time.Time) {
	ttl := s.cfg.WriteTimeout
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	cutoff := now.Add(-ttl)
	for id, entry := range s.streams {
		if entry.registered.Before(cutoff) {
			delete(s.streams, id)
		}
	}
}

// handleSessionPause handles POST /api/sessions/{id}/pause.
func (s *Server) handleSessionPause(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "pause", s.engine.Pause)
}

// handleSessionResume handles POST /api/sessions/{id}/resume.
func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "resume", s.engine.Resume)
}

// handleSessionCancel handles POST /api/sessions/{id}/cancel.
func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "cancel", s.engine.Cancel)
}

// handleTransition applies a lifecycle transition to a session and maps
// engine rejections to 409 Conflict.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	if err := fn(r.Context(), id); err != nil {
		log.Warn("session transition rejected",
			slog.String("session_id", id),
			slog.String("op", op),
			slog.Any("error", err),
		)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	log.Info("session transition", slog.String("session_id", id), slog.String("op", op))
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "op": op})
}

// handleSearch handles GET /api/search?q=...&limit=...&min=... against the
// governed retriever.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.retriever == nil {
		http.Error(w, "retriever not configured", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var minSimilarity float64
	if raw := r.URL.Query().Get("min"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 || f > 1 {
			http.Error(w, "min must be a number in [0, 1]", http.StatusBadRequest)
			return
		}
		minSimilarity = f
	}

	results, err := s.retriever.Retrieve(r.Context(), query, limit, minSimilarity)
	if err != nil {
		logging.FromContext(r.Context()).Error("search failed", slog.Any("error", err))
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	resp := searchResponse{Query: query, Results: make([]searchResult, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, searchResult{
			Text:          res.Record.Text,
			Type:          string(res.Record.Type),
			Source:        res.Record.Source,
			Hash:          res.Record.Hash,
			RawSimilarity: res.RawSimilarity,
			FinalScore:    res.FinalScore,
			Metadata:      res.Record.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /api/stats with vector store content counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.vectors == nil {
		http.Error(w, "vector store not configured", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.vectors.Stats(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("stats failed", slog.Any("error", err))
		http.Error(w, "failed to read store stats", http.StatusInternalServerError)
		return
	}

	resp := statsResponse{
		Total:    stats.Total,
		ByType:   make(map[string]int, len(stats.ByType)),
		BySource: stats.BySource,
		Oldest:   stats.Oldest,
		Newest:   stats.Newest,
	}
	for typ, n := range stats.ByType {
		resp.ByType[string(typ)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// toSessionResponse projects a store snapshot into its JSON shape.
func toSessionResponse(sess store.Session) sessionResponse {
	return sessionResponse{
		ID:                sess.ID,
		Mode:              sess.Mode,
		State:             string(sess.State),
		TotalChunks:       sess.TotalChunks,
		CompletedChunks:   sess.CompletedChunks,
		TotalRows:         sess.TotalRows,
		ProcessedRows:     sess.ProcessedRows,
		DuplicatesDropped: sess.DuplicatesDropped,
		ReuseHits:         sess.ReuseHits,
		Error:             sess.Error,
		CreatedAt:         sess.CreatedAt,
		UpdatedAt:         sess.UpdatedAt,
	}
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
