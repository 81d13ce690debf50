package http

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"ledger/internal/core"
	"ledger/internal/log"
)

const maxImportRecords = 1000

func (s *Server) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	var in core.NewTransaction
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpPost, err)
		return
	}

	tx, err := s.ledger.Transactions.PostTransaction(r.Context(), sanitizeTransaction(in))
	if err != nil {
		writeError(w, r, log.OpPost, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.transactionsPosted, 1)
	NewJSONResponse().Status(http.StatusCreated).Body(tx).Write(w)
}

func (s *Server) handleReverseTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.Transactions.ReverseTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, log.OpReverse, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.reversals, 1)
	NewJSONResponse().Status(http.StatusCreated).Body(tx).Write(w)
}

// handleAmendTransaction replaces a posting. Fields left empty in the body
// keep the original's values; "envelope_id": "" detaches the envelope.
func (s *Server) handleAmendTransaction(w http.ResponseWriter, r *http.Request) {
	var in core.NewTransaction
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpAmend, err)
		return
	}

	tx, err := s.ledger.Transactions.AmendTransaction(r.Context(), r.PathValue("id"), sanitizeTransaction(in))
	if err != nil {
		writeError(w, r, log.OpAmend, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.amendments, 1)
	NewJSONResponse().Status(http.StatusCreated).Body(tx).Write(w)
}

type importRequest struct {
	Records []core.ImportRecord `json:"records"`
}

// handleImport posts a batch of statement records. Individual failures are
// reported in the body; the request itself succeeds.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpImport, err)
		return
	}
	if len(req.Records) == 0 {
		writeError(w, r, log.OpImport, fmt.Errorf("%w: no records", core.ErrValidation))
		return
	}
	if len(req.Records) > maxImportRecords {
		writeError(w, r, log.OpImport, fmt.Errorf("%w: at most %d records per request", core.ErrValidation, maxImportRecords))
		return
	}

	report, err := s.ledger.Importer.Import(r.Context(), req.Records)
	if err != nil {
		writeError(w, r, log.OpImport, err)
		return
	}
	atomic.AddInt64(&s.appMetrics.importedRecords, int64(report.Posted))
	NewJSONResponse().Body(report).Write(w)
}
