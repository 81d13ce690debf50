package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ledger/internal/core"
	"ledger/internal/lock"
	"ledger/internal/services"
	"ledger/internal/storage"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	srv  *Server
	repo *storage.SQLiteRepository
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	now := func() time.Time { return testNow }
	rt := services.Runtime{
		Locks: lock.NewManager(5 * time.Second),
		Retry: lock.Policy{MaxAttempts: 10, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond},
		Now:   now,
	}
	cfg.Now = now
	if cfg.Ready == nil {
		cfg.Ready = repo
	}
	srv := NewServer(cfg, services.NewLedger(repo, rt, services.Options{}))
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &testServer{srv: srv, repo: repo}
}

// do sends body as JSON. A string body is sent verbatim.
func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) mustDo(t *testing.T, method, path string, body any, want int) *httptest.ResponseRecorder {
	t.Helper()
	rr := ts.do(t, method, path, body)
	if rr.Code != want {
		t.Fatalf("%s %s status = %d, want %d, body = %s", method, path, rr.Code, want, rr.Body.String())
	}
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (ts *testServer) account(t *testing.T) core.Account {
	t.Helper()
	rr := ts.mustDo(t, http.MethodPost, "/api/accounts",
		map[string]any{"name": "Checking", "type": "checking", "currency": "eur"}, http.StatusCreated)
	return decode[core.Account](t, rr)
}

func (ts *testServer) envelope(t *testing.T) core.Envelope {
	t.Helper()
	rr := ts.mustDo(t, http.MethodPost, "/api/envelopes",
		map[string]any{"name": "Groceries", "category": "Food", "monthly_limit": "500.00", "rollover_enabled": true},
		http.StatusCreated)
	return decode[core.Envelope](t, rr)
}

func (ts *testServer) openMarch(t *testing.T) {
	t.Helper()
	ts.mustDo(t, http.MethodPost, "/api/rollover", map[string]int{"year": 2025, "month": 3}, http.StatusOK)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, Config{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := ts.mustDo(t, http.MethodGet, path, nil, http.StatusOK)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s missing request id header", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s missing security headers", path)
		}
	}
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("database is locked") }

func TestReadyReportsDatabaseFailure(t *testing.T) {
	ts := newTestServer(t, Config{Ready: failingPinger{}})
	rr := ts.mustDo(t, http.MethodGet, "/readyz", nil, http.StatusServiceUnavailable)
	if !strings.Contains(rr.Body.String(), "not_ready") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestLedgerFlow(t *testing.T) {
	ts := newTestServer(t, Config{})
	acct := ts.account(t)
	if acct.Currency != "EUR" || acct.CurrentBalance.Cents != 0 {
		t.Fatalf("account = %+v", acct)
	}
	env := ts.envelope(t)
	ts.openMarch(t)

	period := decode[core.BudgetPeriod](t, ts.mustDo(t, http.MethodGet, "/api/periods/active", nil, http.StatusOK))
	if period.Year != 2025 || period.Month != 3 || !period.IsActive {
		t.Fatalf("active period = %+v", period)
	}

	ts.mustDo(t, http.MethodPost, "/api/transactions", map[string]any{
		"account_id": acct.ID, "amount": "2000.00", "description": "Salary", "category": "Income",
	}, http.StatusCreated)
	expense := decode[core.Transaction](t, ts.mustDo(t, http.MethodPost, "/api/transactions", map[string]any{
		"account_id": acct.ID, "amount": "-45.50", "description": "Market", "category": "Food", "envelope_id": env.ID,
	}, http.StatusCreated))

	bal := decode[core.AccountBalance](t, ts.mustDo(t, http.MethodGet, "/api/accounts/"+acct.ID+"/balance", nil, http.StatusOK))
	if bal.Current.Cents != 195450 || bal.Available.Cents != 195450 {
		t.Errorf("balance = %+v, want 1954.50", bal)
	}

	progress := decode[[]core.EnvelopeProgress](t, ts.mustDo(t, http.MethodGet, "/api/analytics/envelopes", nil, http.StatusOK))
	if len(progress) != 1 || progress[0].Remaining.Cents != 45450 || progress[0].Spent.Cents != 4550 {
		t.Errorf("progress = %+v", progress)
	}

	sum := decode[core.FinancialSummary](t, ts.mustDo(t, http.MethodGet, "/api/analytics/summary?month=2025-03", nil, http.StatusOK))
	if sum.Income.Cents != 200000 || sum.Expenses.Cents != 4550 || sum.TransactionCount != 2 {
		t.Errorf("summary = %+v", sum)
	}

	spending := decode[[]core.CategoryAmount](t, ts.mustDo(t, http.MethodGet, "/api/analytics/spending", nil, http.StatusOK))
	if len(spending) != 1 || spending[0].Name != "Food" || spending[0].Amount.Cents != 4550 {
		t.Errorf("spending = %+v", spending)
	}

	txs := decode[[]core.Transaction](t, ts.mustDo(t, http.MethodGet, "/api/accounts/"+acct.ID+"/transactions?month=2025-03", nil, http.StatusOK))
	if len(txs) != 2 {
		t.Errorf("transactions = %d, want 2", len(txs))
	}

	rev := decode[core.Transaction](t, ts.mustDo(t, http.MethodPost, "/api/transactions/"+expense.ID+"/reverse", nil, http.StatusCreated))
	if rev.ReversalOf == nil || *rev.ReversalOf != expense.ID || rev.Amount.Cents != 4550 {
		t.Errorf("reversal = %+v", rev)
	}
	again := decode[ErrorBody](t, ts.mustDo(t, http.MethodPost, "/api/transactions/"+expense.ID+"/reverse", nil, http.StatusUnprocessableEntity))
	if again.Code != "invalid_operation" {
		t.Errorf("second reversal code = %q", again.Code)
	}

	got := decode[core.Envelope](t, ts.mustDo(t, http.MethodGet, "/api/envelopes/"+env.ID, nil, http.StatusOK))
	if got.CurrentBalance.Cents != 50000 || got.Spent.Cents != 0 {
		t.Errorf("envelope after reversal = %+v", got)
	}

	entries := decode[[]core.EnvelopeTransaction](t, ts.mustDo(t, http.MethodGet, "/api/envelopes/"+env.ID+"/transactions", nil, http.StatusOK))
	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, string(e.Kind))
	}
	if strings.Join(kinds, ",") != "allocation,spend,refund" {
		t.Errorf("envelope log kinds = %v", kinds)
	}

	check := decode[map[string]any](t, ts.mustDo(t, http.MethodGet, "/api/consistency", nil, http.StatusOK))
	if check["consistent"] != true {
		t.Errorf("consistency = %v", check)
	}

	metrics := ts.mustDo(t, http.MethodGet, "/metrics", nil, http.StatusOK).Body.String()
	for _, want := range []string{"ledger_transactions_posted_total 2", "ledger_reversals_total 1", "ledger_rollovers_total 1"} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestAmendTransaction(t *testing.T) {
	ts := newTestServer(t, Config{})
	acct := ts.account(t)
	ts.openMarch(t)

	orig := decode[core.Transaction](t, ts.mustDo(t, http.MethodPost, "/api/transactions", map[string]any{
		"account_id": acct.ID, "amount": "-60.00", "description": "Dinner", "category": "Food",
	}, http.StatusCreated))

	amended := decode[core.Transaction](t, ts.mustDo(t, http.MethodPost, "/api/transactions/"+orig.ID+"/amend",
		map[string]any{"amount": "-40.00"}, http.StatusCreated))
	if amended.Amount.Cents != -4000 || amended.Description != "Dinner" || amended.Category != "Food" {
		t.Errorf("amended = %+v", amended)
	}

	bal := decode[core.AccountBalance](t, ts.mustDo(t, http.MethodGet, "/api/accounts/"+acct.ID+"/balance", nil, http.StatusOK))
	if bal.Current.Cents != -4000 {
		t.Errorf("balance = %d, want -4000", bal.Current.Cents)
	}
}

func TestAccountFlags(t *testing.T) {
	ts := newTestServer(t, Config{})
	acct := ts.account(t)

	updated := decode[core.Account](t, ts.mustDo(t, http.MethodPatch, "/api/accounts/"+acct.ID,
		map[string]bool{"is_hidden": true}, http.StatusOK))
	if !updated.IsHidden || !updated.IsActive {
		t.Errorf("updated = %+v", updated)
	}

	visible := decode[[]core.Account](t, ts.mustDo(t, http.MethodGet, "/api/accounts", nil, http.StatusOK))
	if len(visible) != 0 {
		t.Errorf("visible accounts = %d, want 0", len(visible))
	}
	all := decode[[]core.Account](t, ts.mustDo(t, http.MethodGet, "/api/accounts?include_hidden=true", nil, http.StatusOK))
	if len(all) != 1 {
		t.Errorf("all accounts = %d, want 1", len(all))
	}
}

func TestEnvelopeUpdates(t *testing.T) {
	ts := newTestServer(t, Config{})
	env := ts.envelope(t)

	limited := decode[core.Envelope](t, ts.mustDo(t, http.MethodPut, "/api/envelopes/"+env.ID+"/limit",
		map[string]string{"monthly_limit": "300.00"}, http.StatusOK))
	if limited.MonthlyLimit.Cents != 30000 {
		t.Errorf("limit = %d", limited.MonthlyLimit.Cents)
	}

	noRollover := decode[core.Envelope](t, ts.mustDo(t, http.MethodPut, "/api/envelopes/"+env.ID+"/rollover",
		map[string]bool{"rollover_enabled": false}, http.StatusOK))
	if noRollover.RolloverEnabled {
		t.Error("rollover still enabled")
	}

	gone := decode[core.Envelope](t, ts.mustDo(t, http.MethodDelete, "/api/envelopes/"+env.ID, nil, http.StatusOK))
	if gone.IsActive {
		t.Error("envelope still active")
	}
	active := decode[[]core.Envelope](t, ts.mustDo(t, http.MethodGet, "/api/envelopes?active=true", nil, http.StatusOK))
	if len(active) != 0 {
		t.Errorf("active envelopes = %d, want 0", len(active))
	}
}

func TestRolloverDefaultsToCurrentMonth(t *testing.T) {
	ts := newTestServer(t, Config{})
	res := decode[core.RolloverResult](t, ts.mustDo(t, http.MethodPost, "/api/rollover", nil, http.StatusOK))
	if res.To.Year != 2025 || res.To.Month != 3 {
		t.Errorf("rollover target = %v, want 2025-03", res.To)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, Config{})
	acct := ts.account(t)
	env := ts.envelope(t)
	ts.openMarch(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "unknown account", method: http.MethodGet, path: "/api/accounts/nope", wantCode: 404, wantErr: "not_found"},
		{name: "malformed body", method: http.MethodPost, path: "/api/transactions", body: "{", wantCode: 400, wantErr: "bad_request"},
		{name: "unknown field", method: http.MethodPost, path: "/api/accounts", body: map[string]string{"nmae": "x"}, wantCode: 400, wantErr: "bad_request"},
		{
			name:   "unknown envelope",
			method: http.MethodPost, path: "/api/transactions",
			body:     map[string]any{"account_id": acct.ID, "amount": "-1.00", "description": "x", "category": "Food", "envelope_id": "nope"},
			wantCode: 422, wantErr: "invalid_reference",
		},
		{
			name:   "zero amount",
			method: http.MethodPost, path: "/api/transactions",
			body:     map[string]any{"account_id": acct.ID, "amount": "0", "description": "x", "category": "Food"},
			wantCode: 422, wantErr: "validation_failed",
		},
		{
			name:   "income into envelope",
			method: http.MethodPost, path: "/api/transactions",
			body:     map[string]any{"account_id": acct.ID, "amount": "5.00", "description": "x", "category": "Food", "envelope_id": env.ID},
			wantCode: 422, wantErr: "invalid_operation",
		},
		{name: "rollover backwards", method: http.MethodPost, path: "/api/rollover", body: map[string]int{"year": 2025, "month": 2}, wantCode: 422, wantErr: "invalid_operation"},
		{name: "rollover bad month", method: http.MethodPost, path: "/api/rollover", body: map[string]int{"year": 2025, "month": 13}, wantCode: 422, wantErr: "validation_failed"},
		{name: "inverted range", method: http.MethodGet, path: "/api/analytics/summary?from=2025-03-20&to=2025-03-01", wantCode: 422, wantErr: "validation_failed"},
		{name: "limit on unknown envelope", method: http.MethodPut, path: "/api/envelopes/nope/limit", body: map[string]string{"monthly_limit": "1.00"}, wantCode: 404, wantErr: "not_found"},
		{name: "missing limit", method: http.MethodPut, path: "/api/envelopes/" + env.ID + "/limit", body: map[string]string{}, wantCode: 422, wantErr: "validation_failed"},
		{name: "negative limit", method: http.MethodPut, path: "/api/envelopes/" + env.ID + "/limit", body: map[string]string{"monthly_limit": "-1.00"}, wantCode: 422, wantErr: "validation_failed"},
		{name: "empty patch", method: http.MethodPatch, path: "/api/accounts/" + acct.ID, body: map[string]string{}, wantCode: 422, wantErr: "validation_failed"},
		{name: "unknown transaction", method: http.MethodPost, path: "/api/transactions/nope/reverse", wantCode: 404, wantErr: "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.mustDo(t, tt.method, tt.path, tt.body, tt.wantCode)
			body := decode[ErrorBody](t, rr)
			if body.Code != tt.wantErr {
				t.Errorf("code = %q, want %q (%s)", body.Code, tt.wantErr, body.Error)
			}
		})
	}

	rr := ts.do(t, http.MethodGet, "/api/transactions", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/transactions status = %d, want 405", rr.Code)
	}
}

func TestImport(t *testing.T) {
	ts := newTestServer(t, Config{})
	acct := ts.account(t)
	ts.openMarch(t)

	report := decode[core.ImportReport](t, ts.mustDo(t, http.MethodPost, "/api/import", map[string]any{
		"records": []map[string]any{
			{"account_id": acct.ID, "amount": "-10.00", "description": "Coffee", "category": "Food", "date": "2025-03-05T00:00:00Z"},
			{"account_id": "missing", "amount": "-10.00", "description": "Coffee", "category": "Food"},
		},
	}, http.StatusOK))
	if report.Posted != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Results[1].Error == "" {
		t.Error("failed record has no error message")
	}

	ts.mustDo(t, http.MethodPost, "/api/import", map[string]any{"records": []any{}}, http.StatusUnprocessableEntity)
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	ts := newTestServer(t, Config{RateLimitPerMinute: 1})

	ts.account(t)
	rr := ts.mustDo(t, http.MethodPost, "/api/accounts",
		map[string]any{"name": "Savings", "type": "savings", "currency": "EUR"}, http.StatusTooManyRequests)
	if body := decode[ErrorBody](t, rr); body.Code != "rate_limited" {
		t.Errorf("code = %q", body.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Error("missing Retry-After")
	}

	ts.mustDo(t, http.MethodGet, "/api/accounts", nil, http.StatusOK)
}
