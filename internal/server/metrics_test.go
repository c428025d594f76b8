package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := newTestServer()
	s.cfg.MetricsRegistry = reg
	s.cfg.MetricsGatherer = reg
	s.metrics = newServerMetrics(reg)
	return s, reg
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ProcessCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	// An invalid body must show up under the "invalid" outcome.
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()
	s.handleProcess(w, req)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() != "vocsight_server_process_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == "invalid" {
					if m.GetCounter().GetValue() != 1 {
						t.Errorf("want counter=1, got %v", m.GetCounter().GetValue())
					}
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("vocsight_server_process_requests_total{outcome=\"invalid\"} not found in gathered metrics")
	}
}

func Test_Metrics_HTTPMiddlewareRecordsRequests(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	h := s.metrics.middleware(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/abc123/events", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() != "vocsight_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				// Session IDs must be folded into the route pattern.
				if lp.GetName() == "path" && lp.GetValue() == "/api/sessions/{id}/events" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("vocsight_http_requests_total with path=/api/sessions/{id}/events not found")
	}
}

func Test_Metrics_ActiveEventStreamsGauge(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	s.metrics.activeEventStreams.Inc()
	s.metrics.activeEventStreams.Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() == "vocsight_server_active_event_streams" {
			v := mf.GetMetric()[0].GetGauge().GetValue()
			if v != 2 {
				t.Errorf("want active_event_streams=2, got %v", v)
			}
			return
		}
	}
	t.Error("vocsight_server_active_event_streams not found in gathered metrics")
}

func Test_MetricPath_FoldsSessionIDs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"/api/process", "/api/process"},
		{"/api/sessions", "/api/sessions"},
		{"/api/sessions/abc123", "/api/sessions/{id}"},
		{"/api/sessions/abc123/events", "/api/sessions/{id}/events"},
		{"/api/sessions/abc123/pause", "/api/sessions/{id}/pause"},
	}
	for _, tc := range cases {
		if got := metricPath(tc.in); got != tc.want {
			t.Errorf("metricPath(%q): want %q, got %q", tc.in, tc.want, got)
		}
	}
}
