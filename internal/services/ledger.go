package services

import (
	"ledger/internal/core"
	"ledger/internal/storage"
)

// Options tune the write path.
type Options struct {
	VerifyWrites bool
	CarryPolicy  core.CarryPolicy
}

// Ledger bundles every service over one repository and runtime.
type Ledger struct {
	Accounts     *AccountService
	Transactions *TransactionService
	Envelopes    *EnvelopeService
	Rollover     *RolloverEngine
	Analytics    *AnalyticsAggregator
	Consistency  *ConsistencyChecker
	Importer     *Importer
}

func NewLedger(repo *storage.SQLiteRepository, rt Runtime, opts Options) *Ledger {
	rt = rt.withDefaults()
	txs := NewTransactionService(repo, rt, opts.VerifyWrites)
	return &Ledger{
		Accounts:     NewAccountService(repo, rt),
		Transactions: txs,
		Envelopes:    NewEnvelopeService(repo, rt),
		Rollover:     NewRolloverEngine(repo, rt, opts.CarryPolicy),
		Analytics:    NewAnalyticsAggregator(repo, rt),
		Consistency:  NewConsistencyChecker(repo, rt),
		Importer:     NewImporter(txs, rt),
	}
}
