// Package http exposes the ledger services as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/services"
)

// AnalyticsReader is the read side served under /api/analytics. Both
// services.AnalyticsAggregator and services.CachedAnalytics satisfy it.
type AnalyticsReader interface {
	FinancialSummary(ctx context.Context, r core.DateRange) (core.FinancialSummary, error)
	SpendingByCategory(ctx context.Context, r core.DateRange) ([]core.CategoryAmount, error)
	BalanceByAccountType(ctx context.Context) ([]core.AccountTypeBalance, error)
	EnvelopeProgress(ctx context.Context) ([]core.EnvelopeProgress, error)
	Overview(ctx context.Context, r core.DateRange) (core.FinanceOverview, error)
}

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the server. Only Addr is required besides the ledger.
type Config struct {
	Addr string
	// RateLimitPerMinute caps write requests per client. Zero disables it.
	RateLimitPerMinute int
	Logger             *log.Logger
	// Analytics defaults to the ledger's uncached aggregator.
	Analytics AnalyticsReader
	Ready     Pinger
	Now       func() time.Time
}

// appMetrics counts successful ledger operations served over HTTP.
type appMetrics struct {
	transactionsPosted int64
	reversals          int64
	amendments         int64
	rollovers          int64
	importedRecords    int64
	uptime             time.Time
}

type Server struct {
	http.Server
	ledger    *services.Ledger
	analytics AnalyticsReader
	ready     Pinger
	logger    *log.Logger
	now       func() time.Time

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	appMetrics       appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, ledger *services.Ledger) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}
	if cfg.Analytics == nil {
		cfg.Analytics = ledger.Analytics
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		ledger:           ledger,
		analytics:        cfg.Analytics,
		ready:            cfg.Ready,
		logger:           cfg.Logger.WithComponent(log.ComponentHTTP),
		now:              cfg.Now,
		securityDetector: security.NewDetector(),
		appMetrics:       appMetrics{uptime: time.Now()},
	}
	s.traceMiddleware = trace.NewMiddleware(cfg.Logger, s.securityDetector.ExtractClientIP)

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	if cfg.RateLimitPerMinute > 0 {
		s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute})
		handler = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, ratelimit.WritesOnly, s.handleRateLimited)(handler)
	}
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("PATCH /api/accounts/{id}", s.handleUpdateAccount)
	mux.HandleFunc("GET /api/accounts/{id}/balance", s.handleAccountBalance)
	mux.HandleFunc("GET /api/accounts/{id}/transactions", s.handleAccountTransactions)

	mux.HandleFunc("POST /api/transactions", s.handlePostTransaction)
	mux.HandleFunc("POST /api/transactions/{id}/reverse", s.handleReverseTransaction)
	mux.HandleFunc("POST /api/transactions/{id}/amend", s.handleAmendTransaction)
	mux.HandleFunc("POST /api/import", s.handleImport)

	mux.HandleFunc("POST /api/envelopes", s.handleCreateEnvelope)
	mux.HandleFunc("GET /api/envelopes", s.handleListEnvelopes)
	mux.HandleFunc("GET /api/envelopes/{id}", s.handleGetEnvelope)
	mux.HandleFunc("DELETE /api/envelopes/{id}", s.handleDeactivateEnvelope)
	mux.HandleFunc("PUT /api/envelopes/{id}/limit", s.handleUpdateEnvelopeLimit)
	mux.HandleFunc("PUT /api/envelopes/{id}/rollover", s.handleSetEnvelopeRollover)
	mux.HandleFunc("GET /api/envelopes/{id}/transactions", s.handleEnvelopeTransactions)

	mux.HandleFunc("POST /api/rollover", s.handleRollover)
	mux.HandleFunc("GET /api/periods/active", s.handleActivePeriod)

	mux.HandleFunc("GET /api/analytics/summary", s.handleSummary)
	mux.HandleFunc("GET /api/analytics/spending", s.handleSpending)
	mux.HandleFunc("GET /api/analytics/balances", s.handleBalances)
	mux.HandleFunc("GET /api/analytics/envelopes", s.handleEnvelopeProgress)
	mux.HandleFunc("GET /api/analytics/overview", s.handleOverview)
	mux.HandleFunc("GET /api/consistency", s.handleConsistency)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later").Write(w)
}

// Shutdown stops the rate limiter and then the HTTP server. It is safe to
// call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
