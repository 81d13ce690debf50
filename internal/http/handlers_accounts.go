package http

import (
	"fmt"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var in core.NewAccount
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	in.Name = sanitizeInput(in.Name)

	acct, err := s.ledger.Accounts.CreateAccount(r.Context(), in)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/accounts/"+acct.ID).
		Body(acct).
		Write(w)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	includeHidden, err := parseBoolQuery(r.URL.Query(), "include_hidden", false)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	accts, err := s.ledger.Accounts.ListAccounts(r.Context(), includeHidden)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(nonNil(accts)).Write(w)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Accounts.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(acct).Write(w)
}

type accountPatch struct {
	IsActive *bool `json:"is_active"`
	IsHidden *bool `json:"is_hidden"`
}

// handleUpdateAccount toggles the active and hidden flags.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var patch accountPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	if patch.IsActive == nil && patch.IsHidden == nil {
		writeError(w, r, log.OpUpdate, fmt.Errorf("%w: nothing to update", core.ErrValidation))
		return
	}

	id := r.PathValue("id")
	var (
		acct core.Account
		err  error
	)
	if patch.IsActive != nil {
		if acct, err = s.ledger.Accounts.SetAccountActive(r.Context(), id, *patch.IsActive); err != nil {
			writeError(w, r, log.OpUpdate, err)
			return
		}
	}
	if patch.IsHidden != nil {
		if acct, err = s.ledger.Accounts.SetAccountHidden(r.Context(), id, *patch.IsHidden); err != nil {
			writeError(w, r, log.OpUpdate, err)
			return
		}
	}
	NewJSONResponse().Body(acct).Write(w)
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.ledger.Accounts.GetAccountBalance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(bal).Write(w)
}

func (s *Server) handleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	rng, err := ParseDateRange(r.URL.Query(), s.now())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	txs, err := s.ledger.Accounts.ListTransactions(r.Context(), r.PathValue("id"), rng)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(nonNil(txs)).Write(w)
}
