package http

import (
	"errors"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseDateRange(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	sum, err := s.analytics.FinancialSummary(r.Context(), rng)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(sum).Write(w)
}

func (s *Server) handleSpending(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseDateRange(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	cats, err := s.analytics.SpendingByCategory(r.Context(), rng)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(nonNil(cats)).Write(w)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.analytics.BalanceByAccountType(r.Context())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(nonNil(balances)).Write(w)
}

func (s *Server) handleEnvelopeProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.analytics.EnvelopeProgress(r.Context())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(nonNil(progress)).Write(w)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseDateRange(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	ov, err := s.analytics.Overview(r.Context(), rng)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	ov.ByCategory = nonNil(ov.ByCategory)
	ov.ByAccountType = nonNil(ov.ByAccountType)
	ov.Envelopes = nonNil(ov.Envelopes)
	NewJSONResponse().Body(ov).Write(w)
}

// handleConsistency re-sums the ledger. Divergence is reported with 200 and
// consistent=false so monitoring can read the details.
func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Consistency.Verify(r.Context())
	if err != nil && !errors.Is(err, core.ErrInvariantViolation) {
		writeError(w, r, log.OpVerify, err)
		return
	}
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Ledger consistency check failed",
			log.FieldOperation, log.OpVerify,
			"problems", len(report.Problems))
	}
	NewJSONResponse().Body(map[string]any{
		"consistent": err == nil,
		"report":     report,
	}).Write(w)
}
