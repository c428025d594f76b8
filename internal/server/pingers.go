package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vocsight/vocsight-go/internal/vecstore"
)

// HTTPPinger probes an HTTP dependency with a cheap GET request. It is used
// for the Ollama host (both the chat backend and the embedding endpoint)
// where a full generate call would waste tokens.
type HTTPPinger struct {
	// url is the absolute URL to probe.
	url string
	// name identifies the dependency in readiness responses.
	name string
	// client is the HTTP client used for probes.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for the given base URL and name.
// The URL must be absolute; relative URLs fail every probe with a clear error.
func NewHTTPPinger(rawURL, name string) *HTTPPinger {
	return &HTTPPinger{url: rawURL, name: name, client: http.DefaultClient}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping sends a GET request to the configured URL and reports success for any
// 2xx response.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	if _, err := url.ParseRequestURI(p.url); err != nil {
		return fmt.Errorf("invalid probe url %q: %w", p.url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// StorePinger probes the vector store by running its stats query. A failed
// query means the SQLite file is unreadable or the schema is broken, both of
// which make the server unable to process rows.
type StorePinger struct {
	// store is the vector store to probe.
	store *vecstore.SQLiteStore
}

// NewStorePinger constructs a StorePinger for the given store.
func NewStorePinger(s *vecstore.SQLiteStore) *StorePinger {
	return &StorePinger{store: s}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "vector_store" }

// Ping runs the store's stats query to confirm the database is reachable.
func (p *StorePinger) Ping(ctx context.Context) error {
	if _, err := p.store.Stats(ctx); err != nil {
		return fmt.Errorf("stats query failed: %w", err)
	}
	return nil
}
