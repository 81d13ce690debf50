package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, perMinute int) (*Limiter, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	rl := NewLimiter(Config{RequestsPerMinute: perMinute, CleanupInterval: time.Hour, Now: c.Now})
	t.Cleanup(rl.Stop)
	return rl, c
}

func TestLimiter_Allow(t *testing.T) {
	rl, c := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d rejected", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("fourth request in window allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("other client rejected")
	}

	c.Advance(time.Minute)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("request after window reset rejected")
	}

	if got := rl.GetMetrics(); got.TotalHits != 1 || got.ClientCount != 2 {
		t.Errorf("metrics = %+v, want 1 hit and 2 clients", got)
	}
}

func TestLimiter_CleanupStaleEntries(t *testing.T) {
	rl, c := newTestLimiter(t, 3)
	rl.Allow("1.2.3.4")
	c.Advance(11 * time.Minute)
	rl.Allow("5.6.7.8")

	rl.cleanupStaleEntries()

	if got := rl.GetMetrics().ClientCount; got != 1 {
		t.Errorf("ClientCount = %d, want 1", got)
	}
}

func TestLimiter_StopTwice(t *testing.T) {
	rl := NewLimiter(DefaultConfig())
	rl.Stop()
	rl.Stop()
}

func TestMiddleware_WritesOnly(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)
	h := rl.Middleware(
		func(*http.Request) string { return "1.2.3.4" },
		WritesOnly,
		nil,
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		method string
		want   int
	}{
		{http.MethodPost, http.StatusOK},
		{http.MethodPost, http.StatusTooManyRequests},
		{http.MethodGet, http.StatusOK},
		{http.MethodPut, http.StatusTooManyRequests},
	}
	for i, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tt.method, "/api/transactions", nil))
		if rr.Code != tt.want {
			t.Errorf("request %d (%s) status = %d, want %d", i, tt.method, rr.Code, tt.want)
		}
		if tt.want == http.StatusTooManyRequests && rr.Header().Get("Retry-After") != "60" {
			t.Errorf("request %d missing Retry-After", i)
		}
	}
}
