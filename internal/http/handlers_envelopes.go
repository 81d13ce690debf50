package http

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"ledger/internal/core"
	"ledger/internal/log"
)

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	var in core.NewEnvelope
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	in.Name = sanitizeInput(in.Name)
	in.Category = sanitizeInput(in.Category)

	env, err := s.ledger.Envelopes.CreateEnvelope(r.Context(), in)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/envelopes/"+env.ID).
		Body(env).
		Write(w)
}

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := parseBoolQuery(r.URL.Query(), "active", false)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	envs, err := s.ledger.Envelopes.ListEnvelopes(r.Context(), activeOnly)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(nonNil(envs)).Write(w)
}

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := s.ledger.Envelopes.GetEnvelope(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(env).Write(w)
}

func (s *Server) handleDeactivateEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := s.ledger.Envelopes.DeactivateEnvelope(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(env).Write(w)
}

type limitRequest struct {
	MonthlyLimit *core.Money `json:"monthly_limit"`
}

func (s *Server) handleUpdateEnvelopeLimit(w http.ResponseWriter, r *http.Request) {
	var req limitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	if req.MonthlyLimit == nil {
		writeError(w, r, log.OpUpdate, fmt.Errorf("%w: monthly_limit is required", core.ErrValidation))
		return
	}

	env, err := s.ledger.Envelopes.UpdateEnvelopeLimit(r.Context(), r.PathValue("id"), *req.MonthlyLimit)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(env).Write(w)
}

type rolloverFlagRequest struct {
	RolloverEnabled *bool `json:"rollover_enabled"`
}

func (s *Server) handleSetEnvelopeRollover(w http.ResponseWriter, r *http.Request) {
	var req rolloverFlagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	if req.RolloverEnabled == nil {
		writeError(w, r, log.OpUpdate, fmt.Errorf("%w: rollover_enabled is required", core.ErrValidation))
		return
	}

	env, err := s.ledger.Envelopes.SetEnvelopeRollover(r.Context(), r.PathValue("id"), *req.RolloverEnabled)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(env).Write(w)
}

// handleEnvelopeTransactions lists the envelope log for ?period_id=, or for
// the active period when it is omitted.
func (s *Server) handleEnvelopeTransactions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Envelopes.ListEnvelopeTransactions(r.Context(), r.PathValue("id"), r.URL.Query().Get("period_id"))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(nonNil(entries)).Write(w)
}

type rolloverRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// handleRollover moves the budget into the requested month. An empty body
// targets the current calendar month.
func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	var req rolloverRequest
	err := decodeJSON(w, r, &req)
	switch {
	case errors.Is(err, errEmptyBody):
		p := core.PeriodOf(s.now().UTC())
		req = rolloverRequest{Year: p.Year, Month: p.Month}
	case err != nil:
		writeError(w, r, log.OpRollover, err)
		return
	}

	res, err := s.ledger.Rollover.RunRollover(r.Context(), req.Year, req.Month)
	if err != nil {
		writeError(w, r, log.OpRollover, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.rollovers, 1)
	NewJSONResponse().Body(res).Write(w)
}

func (s *Server) handleActivePeriod(w http.ResponseWriter, r *http.Request) {
	p, err := s.ledger.Envelopes.GetActivePeriod(r.Context())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(p).Write(w)
}
