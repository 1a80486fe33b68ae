package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"ledger/internal/amqp"
	"ledger/internal/core"
	"ledger/internal/log"
)

// Finder loads a persisted transaction by id.
type Finder interface {
	FindByID(ctx context.Context, id int64) (core.Transaction, bool, error)
}

// Stats counts audit outcomes since start.
type Stats struct {
	Checked    int64
	Missing    int64
	Mismatched int64
}

// AuditWorker checks that every announced transaction exists in storage
// with the announced client and value.
type AuditWorker struct {
	store  Finder
	logger *log.Logger

	checked    atomic.Int64
	missing    atomic.Int64
	mismatched atomic.Int64
}

func NewAuditWorker(store Finder, logger *log.Logger) *AuditWorker {
	return &AuditWorker{
		store:  store,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleTransactionCreated audits one event. Only storage failures are
// returned, so that the delivery is retried; discrepancies are logged.
func (w *AuditWorker) HandleTransactionCreated(ctx context.Context, msg *amqp.TransactionCreatedMessage) error {
	fields := log.NewFields().WithOperation(log.OpAudit).WithTransaction(msg.ID).WithClient(msg.ClientID)

	tx, ok, err := w.store.FindByID(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("find transaction %d: %w", msg.ID, err)
	}
	w.checked.Add(1)

	if !ok {
		w.missing.Add(1)
		w.logger.Fields(ctx, slog.LevelError, "Announced transaction not found", fields)
		return nil
	}

	if tx.ClientID != msg.ClientID || tx.ValueCents != msg.ValueCents || !sameInstant(tx, msg) {
		w.mismatched.Add(1)
		w.logger.Fields(ctx, slog.LevelError, "Announced transaction differs from stored row", fields.
			With("stored_client_id", tx.ClientID).
			With("stored_value_cents", tx.ValueCents).
			With(log.FieldValueCents, msg.ValueCents))
		return nil
	}

	w.logger.Fields(ctx, slog.LevelDebug, "Transaction verified", fields)
	return nil
}

func sameInstant(tx core.Transaction, msg *amqp.TransactionCreatedMessage) bool {
	switch {
	case tx.Timestamp == nil && msg.TransactionTimestamp == nil:
		return true
	case tx.Timestamp == nil || msg.TransactionTimestamp == nil:
		return false
	default:
		return tx.Timestamp.Equal(*msg.TransactionTimestamp)
	}
}

func (w *AuditWorker) Stats() Stats {
	return Stats{
		Checked:    w.checked.Load(),
		Missing:    w.missing.Load(),
		Mismatched: w.mismatched.Load(),
	}
}
