package services

import (
	"context"

	"ledger/internal/core"
	"ledger/internal/log"
)

// TransactionPoster is the part of TransactionService an importer needs.
type TransactionPoster interface {
	PostTransaction(ctx context.Context, in core.NewTransaction) (core.Transaction, error)
}

// Importer feeds statement records through the normal posting path. It does
// not deduplicate; callers hand over only records they want posted.
type Importer struct {
	poster TransactionPoster
	logger *log.Logger
}

func NewImporter(poster TransactionPoster, rt Runtime) *Importer {
	rt = rt.withDefaults()
	return &Importer{poster: poster, logger: rt.Logger.WithComponent(log.ComponentImport)}
}

// Import posts each record independently. A failing record is reported and
// skipped; only cancellation of ctx stops the batch early.
func (i *Importer) Import(ctx context.Context, records []core.ImportRecord) (core.ImportReport, error) {
	report := core.ImportReport{Results: make([]core.ImportResult, 0, len(records))}

	for idx, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := core.ImportResult{Index: idx}
		tx, err := i.poster.PostTransaction(ctx, rec.Transaction())
		if err != nil {
			res.Error = err.Error()
			res.Err = err
			report.Failed++
			i.logger.WarnContext(ctx, "Import record rejected",
				"index", idx,
				log.FieldAccountID, rec.AccountID,
				log.FieldError, err)
		} else {
			res.TransactionID = tx.ID
			report.Posted++
		}
		report.Results = append(report.Results, res)
	}

	i.logger.InfoContext(ctx, "Import finished",
		log.FieldOperation, log.OpImport,
		"posted", report.Posted,
		"failed", report.Failed)
	return report, nil
}
