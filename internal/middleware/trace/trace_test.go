package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ledger/internal/log"
)

func newTestMiddleware(buf *bytes.Buffer) *Middleware {
	logger := log.New(log.Config{
		Level:   slog.LevelDebug,
		Handler: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
	return NewMiddleware(logger, func(r *http.Request) string { return "10.0.0.1" })
}

func TestMiddleware_AssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		log.FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/accounts", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q, want req_ prefix", seen)
	}
	if got := rr.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
	out := buf.String()
	if !strings.Contains(out, "inside handler") || !strings.Contains(out, "request_id="+seen) {
		t.Errorf("handler log missing request id:\n%s", out)
	}
	if !strings.Contains(out, "status_code=201") {
		t.Errorf("completion log missing status:\n%s", out)
	}
}

func TestMiddleware_ReusesIncomingID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{name: "sane id", header: "abc-123", reused: true},
		{name: "oversized id", header: strings.Repeat("x", 65), reused: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set(RequestIDHeader, tt.header)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if got := rr.Header().Get(RequestIDHeader) == tt.header; got != tt.reused {
				t.Errorf("reused = %v, want %v", got, tt.reused)
			}
		})
	}
}

func TestMiddleware_Metrics(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))

	for _, p := range []string{"/ok", "/boom", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	got := m.GetMetrics()
	if got.TotalRequests != 3 || got.ServerErrors != 1 {
		t.Errorf("metrics = %+v, want 3 requests and 1 server error", got)
	}
}
