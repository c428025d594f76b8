package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vocsight/vocsight-go/internal/classify"
	"github.com/vocsight/vocsight-go/internal/dataset"
	"github.com/vocsight/vocsight-go/internal/engine"
	"github.com/vocsight/vocsight-go/internal/retrieval"
	"github.com/vocsight/vocsight-go/internal/store"
	"github.com/vocsight/vocsight-go/internal/vecstore"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must be long enough for progress event streams to run to completion.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Sessions is the session snapshot store backing GET /api/sessions.
	Sessions store.SessionStore
	// Retriever serves GET /api/search. If nil the endpoint returns 503.
	Retriever *retrieval.Retriever
	// Vectors is the embedding store backing GET /api/stats.
	// If nil the endpoint returns 503.
	Vectors *vecstore.SQLiteStore
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives all server metric registrations. Defaults to
	// prometheus.DefaultRegisterer; tests inject a fresh registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// processor is the slice of the engine the session handlers call.
// *engine.Engine satisfies it; tests inject a fake.
type processor interface {
	// Start begins an asynchronous processing session over rows.
	Start(ctx context.Context, rows []dataset.Row) (string, <-chan engine.Progress, error)
	// Results returns the per-row results accumulated so far.
	Results(id string) ([]engine.RowResult, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

// searcher is the slice of the retriever the search handler calls.
type searcher interface {
	Retrieve(ctx context.Context, query string, limit int, minSimilarity float64) ([]retrieval.Result, error)
}

// statser is the slice of the vector store the stats handler calls.
type statser interface {
	Stats(ctx context.Context) (*vecstore.Stats, error)
}

// sessionReader is the slice of the session store the session handlers call.
type sessionReader interface {
	Get(ctx context.Context, id string) (store.Session, bool, error)
	List(ctx context.Context) ([]store.Session, error)
}

// Server is the HTTP server that exposes the processing engine, the
// retriever, and the vector store over a REST/SSE API.
type Server struct {
	// engine runs processing sessions; set to *engine.Engine in production,
	// overridden by a fake in tests.
	engine processor
	// sessions reads persisted session snapshots.
	sessions sessionReader
	// retriever serves similarity search queries. Nil disables /api/search.
	retriever searcher
	// vectors reports store statistics. Nil disables /api/stats.
	vectors statser
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds all Prometheus metrics owned by this server instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()

	// mu protects streams.
	mu sync.Mutex
	// streams holds the live progress channel for each running session until
	// an event-stream client claims it. A channel has exactly one reader, so
	// claiming removes it from the map. Entries never claimed are swept once
	// they outlive the server's write timeout.
	streams map[string]progressStream
}

// progressStream is an unclaimed session progress channel and its
// registration time, used to sweep streams no client ever attached to.
type progressStream struct {
	// ch is the engine's progress channel for the session.
	ch <-chan engine.Progress
	// registered is when the stream was registered for claiming.
	registered time.Time
}

// processRequest is the JSON body for POST /api/process.
type processRequest struct {
	// Rows is the batch of VOC records to classify.
	Rows []dataset.Row `json:"rows"`
}

// processResponse is the JSON response for POST /api/process.
type processResponse struct {
	// SessionID identifies the session started for this batch.
	SessionID string `json:"sessionId"`
	// TotalRows is the number of rows accepted for processing.
	TotalRows int `json:"totalRows"`
}

// sessionResponse is the JSON projection of a session snapshot.
type sessionResponse struct {
	ID                string    `json:"id"`
	Mode              string    `json:"mode,omitempty"`
	State             string    `json:"state"`
	TotalChunks       int       `json:"totalChunks"`
	CompletedChunks   int       `json:"completedChunks"`
	TotalRows         int       `json:"totalRows"`
	ProcessedRows     int       `json:"processedRows"`
	DuplicatesDropped int       `json:"duplicatesDropped"`
	ReuseHits         int       `json:"reuseHits"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// rowResultResponse is the JSON projection of one per-row outcome.
type rowResultResponse struct {
	// Index is the row's position in the original input.
	Index int `json:"index"`
	// IssueID echoes the input row's identifier.
	IssueID string `json:"issueId"`
	// Status is the row's disposition: classified, duplicate, reused, or error.
	Status string `json:"status"`
	// Result is the classification. Present for classified and reused rows.
	Result *classify.Result `json:"result,omitempty"`
	// MatchedHash is the stored record hash that triggered a duplicate drop
	// or a reuse hit.
	MatchedHash string `json:"matchedHash,omitempty"`
	// Error is the per-row failure reason when Status is error.
	Error string `json:"error,omitempty"`
}

// searchResult is one JSON search hit with its ranking-stage scores.
type searchResult struct {
	// Text is the stored record text.
	Text string `json:"text"`
	// Type is the record type (row or one of the taxonomy label types).
	Type string `json:"type"`
	// Source is the record's origin label.
	Source string `json:"source"`
	// Hash is the record's content hash.
	Hash string `json:"hash"`
	// RawSimilarity is the unmodified cosine similarity to the query.
	RawSimilarity float64 `json:"rawSimilarity"`
	// FinalScore is the composite re-ranked score.
	FinalScore float64 `json:"finalScore"`
	// Metadata carries the record's stored key/value annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// searchResponse is the JSON response for GET /api/search.
type searchResponse struct {
	// Query echoes the search text.
	Query string `json:"query"`
	// Results is the ranked list of hits, best first.
	Results []searchResult `json:"results"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// Total is the number of stored records.
	Total int `json:"total"`
	// ByType counts records per record type.
	ByType map[string]int `json:"byType"`
	// BySource counts records per source label.
	BySource map[string]int `json:"bySource"`
	// Oldest is the earliest record timestamp (zero when empty).
	Oldest time.Time `json:"oldest"`
	// Newest is the latest record timestamp (zero when empty).
	Newest time.Time `json:"newest"`
}
