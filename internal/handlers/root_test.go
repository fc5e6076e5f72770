package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRoot_DescribesService(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handlers.Root(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"service":"checkout"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHealth_ReportsHealthyStore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handlers.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}
}

func TestMetrics_NotFoundWithoutRegistry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handlers.Metrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	tests := []struct {
		name      string
		header    string
		propagate bool
	}{
		{name: "generated"},
		{name: "propagated", header: "req-123", propagate: true},
		{name: "control characters replaced", header: "req-1\tinjected=true"},
		{name: "oversized replaced", header: strings.Repeat("a", maxRequestIDLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			env.handlers.RequestLogger(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusAccepted {
				t.Fatalf("unexpected status: got=%d", rec.Code)
			}
			got := rec.Header().Get("X-Request-ID")
			if got == "" || (tt.propagate && got != tt.header) || (!tt.propagate && got == tt.header) {
				t.Fatalf("unexpected request id %q", got)
			}
		})
	}
}
