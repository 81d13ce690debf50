package worker

import (
	"context"
	"fmt"

	"ledger/internal/amqp"
	"ledger/internal/core"
	"ledger/internal/log"
)

// RecordImporter posts import records through the ledger.
type RecordImporter interface {
	Import(ctx context.Context, records []core.ImportRecord) (core.ImportReport, error)
}

// ImportWorker turns queued import messages into ledger postings.
type ImportWorker struct {
	importer RecordImporter
	logger   *log.Logger
}

func NewImportWorker(importer RecordImporter, logger *log.Logger) *ImportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ImportWorker{
		importer: importer,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleImportMessage posts one queued statement line. Records the ledger
// refuses (unknown account, bad amount, inactive envelope) are rejected so
// they are not redelivered; other failures are returned for a requeue.
func (w *ImportWorker) HandleImportMessage(ctx context.Context, msg *amqp.ImportMessage) error {
	rec, err := msg.ToRecord()
	if err != nil {
		return fmt.Errorf("%w: %w", amqp.ErrReject, err)
	}

	report, err := w.importer.Import(ctx, []core.ImportRecord{rec})
	if err != nil {
		return fmt.Errorf("import record: %w", err)
	}
	if len(report.Results) != 1 {
		return fmt.Errorf("import record: expected 1 result, got %d", len(report.Results))
	}

	res := report.Results[0]
	if res.Err == nil {
		w.logger.InfoContext(ctx, "Imported transaction",
			log.FieldAccountID, rec.AccountID,
			log.FieldTransactionID, res.TransactionID,
			log.FieldAmount, rec.Amount.String())
		return nil
	}
	if core.IsUserError(res.Err) {
		return fmt.Errorf("%w: %w", amqp.ErrReject, res.Err)
	}
	return fmt.Errorf("post imported record: %w", res.Err)
}
