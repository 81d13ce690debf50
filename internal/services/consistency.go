package services

import (
	"context"
	"fmt"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/storage"
)

// ConsistencyReport lists every derived total that disagrees with its log.
type ConsistencyReport struct {
	Accounts  int      `json:"accounts"`
	Envelopes int      `json:"envelopes"`
	Problems  []string `json:"problems,omitempty"`
}

// ConsistencyChecker re-sums the ledger and the envelope log from scratch
// and compares the result with the stored balances.
type ConsistencyChecker struct {
	repo   *storage.SQLiteRepository
	logger *log.Logger
}

func NewConsistencyChecker(repo *storage.SQLiteRepository, rt Runtime) *ConsistencyChecker {
	rt = rt.withDefaults()
	return &ConsistencyChecker{repo: repo, logger: rt.Logger.WithComponent(log.ComponentLedger)}
}

// Verify checks every account and every envelope against one snapshot. Any
// mismatch is reported and returned as core.ErrInvariantViolation.
func (c *ConsistencyChecker) Verify(ctx context.Context) (ConsistencyReport, error) {
	var report ConsistencyReport
	err := c.repo.ReadTx(ctx, func(st storage.Stores) error {
		report = ConsistencyReport{}

		accounts, err := st.Ledger.ListAccounts(ctx, true)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			report.Accounts++
			if err := checkAccount(ctx, st, a.ID); err != nil {
				report.Problems = append(report.Problems, err.Error())
			}
		}

		periodID := ""
		if p, err := st.Envelopes.GetActivePeriod(ctx); err == nil {
			periodID = p.ID
		} else if !isNotFound(err) {
			return err
		}

		envelopes, err := st.Envelopes.ListEnvelopes(ctx, false)
		if err != nil {
			return err
		}
		for _, e := range envelopes {
			report.Envelopes++
			if err := checkEnvelope(ctx, st, e.ID, periodID); err != nil {
				report.Problems = append(report.Problems, err.Error())
			}
		}

		unlinked, err := st.Envelopes.UnlinkedSpends(ctx)
		if err != nil {
			return err
		}
		if unlinked > 0 {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%d envelope entries do not match their ledger transaction", unlinked))
		}
		return nil
	})
	if err != nil {
		return ConsistencyReport{}, err
	}

	if len(report.Problems) > 0 {
		c.logger.ErrorContext(ctx, "Consistency check failed",
			log.FieldOperation, log.OpVerify,
			"problems", len(report.Problems),
			"first", report.Problems[0])
		return report, fmt.Errorf("%w: %d problems found", core.ErrInvariantViolation, len(report.Problems))
	}

	c.logger.InfoContext(ctx, "Consistency check passed",
		"accounts", report.Accounts,
		"envelopes", report.Envelopes)
	return report, nil
}

// checkAccount compares the stored balance with a full re-sum of the ledger.
func checkAccount(ctx context.Context, st storage.Stores, accountID string) error {
	acct, err := st.Ledger.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	sum, err := st.Ledger.SumTransactions(ctx, accountID)
	if err != nil {
		return err
	}
	if sum != acct.CurrentBalance {
		return fmt.Errorf("%w: account %s balance %s, ledger sum %s",
			core.ErrInvariantViolation, accountID, acct.CurrentBalance, sum)
	}
	return nil
}

// checkEnvelope compares stored envelope totals with the period's log.
func checkEnvelope(ctx context.Context, st storage.Stores, envelopeID, periodID string) error {
	env, err := st.Envelopes.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return err
	}
	totals, err := st.Envelopes.Totals(ctx, envelopeID, periodID)
	if err != nil {
		return err
	}
	if env.CurrentBalance != totals.Balance() || env.Spent != totals.Spent() {
		return fmt.Errorf("%w: envelope %s stores balance %s spent %s, log says %s / %s",
			core.ErrInvariantViolation, envelopeID,
			env.CurrentBalance, env.Spent, totals.Balance(), totals.Spent())
	}
	return nil
}
