package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/log"
)

// Store is the persistence surface the service needs.
type Store interface {
	Insert(ctx context.Context, d core.Draft) (int64, error)
	SumForClient(ctx context.Context, clientID int64) (int64, bool, error)
	SumInRange(ctx context.Context, clientID int64, r core.Range) (int64, bool, error)
	ListInRange(ctx context.Context, clientID int64, r core.Range) ([]core.Transaction, error)
}

// EventPublisher announces persisted transactions. Implementations may be slow
// or unavailable; the service only logs their errors.
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, tx core.Transaction) error
}

// CreateInput is a validated request to record a transaction.
type CreateInput struct {
	ClientID    int64
	Timestamp   *time.Time
	Value       decimal.Decimal
	Description *string
}

type Created struct {
	ID      int64
	Message string
}

type Balance struct {
	Amount decimal.Decimal
}

type Historic struct {
	Transactions []core.Transaction
}

// TransactionService applies the ledger rules on top of a Store.
type TransactionService struct {
	store     Store
	publisher EventPublisher
	mode      core.AmountMode
	logger    *log.Logger
}

// NewTransactionService builds the service. publisher may be nil.
func NewTransactionService(store Store, publisher EventPublisher, mode core.AmountMode, logger *log.Logger) *TransactionService {
	if mode == "" {
		mode = core.ModeDecimal
	}
	return &TransactionService{
		store:     store,
		publisher: publisher,
		mode:      mode,
		logger:    logger.WithComponent(log.ComponentTransaction),
	}
}

// CreateTransaction normalizes the value to cents and persists the row.
func (s *TransactionService) CreateTransaction(ctx context.Context, in CreateInput) core.Result[Created] {
	fields := log.NewFields().WithOperation(log.OpCreate).WithClient(in.ClientID)

	cents, err := core.ToCents(in.Value, s.mode)
	if err != nil {
		f := amountFault(err)
		s.logger.Fields(ctx, slog.LevelInfo, "Rejected transaction value", fields.WithError(f))
		return core.Fail[Created](f)
	}

	draft := core.Draft{
		ClientID:    in.ClientID,
		Timestamp:   utc(in.Timestamp),
		ValueCents:  cents,
		Description: in.Description,
	}

	id, err := s.store.Insert(ctx, draft)
	if err != nil {
		return core.Fail[Created](core.UnknownFault(err))
	}

	s.publish(ctx, core.Transaction{
		ID:          id,
		ClientID:    draft.ClientID,
		Timestamp:   draft.Timestamp,
		ValueCents:  draft.ValueCents,
		Description: draft.Description,
	})

	return core.Ok(Created{ID: id, Message: core.MsgTransactionCreated})
}

// GetBalance sums every transaction of the client.
func (s *TransactionService) GetBalance(ctx context.Context, clientID int64) core.Result[Balance] {
	cents, ok, err := s.store.SumForClient(ctx, clientID)
	return s.balance(ctx, log.NewFields().WithOperation(log.OpBalance).WithClient(clientID), cents, ok, err)
}

// GetVolume sums the client's transactions inside r, bounds included.
func (s *TransactionService) GetVolume(ctx context.Context, clientID int64, r core.Range) core.Result[Balance] {
	cents, ok, err := s.store.SumInRange(ctx, clientID, r)
	fields := log.NewFields().WithOperation(log.OpVolume).WithClient(clientID).WithRange(r.Start, r.End)
	return s.balance(ctx, fields, cents, ok, err)
}

// GetHistoric lists the client's transactions inside r. An empty list is
// not a fault.
func (s *TransactionService) GetHistoric(ctx context.Context, clientID int64, r core.Range) core.Result[Historic] {
	txs, err := s.store.ListInRange(ctx, clientID, r)
	if err != nil {
		return core.Fail[Historic](core.UnknownFault(err))
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	return core.Ok(Historic{Transactions: txs})
}

func (s *TransactionService) balance(ctx context.Context, fields log.LogFields, cents int64, ok bool, err error) core.Result[Balance] {
	if err != nil {
		return core.Fail[Balance](core.UnknownFault(err))
	}
	if !ok {
		s.logger.Fields(ctx, slog.LevelDebug, "No transactions matched", fields)
		return core.Fail[Balance](core.NotFoundFault(core.MsgNoValueFound))
	}
	return core.Ok(Balance{Amount: core.FromCents(cents).Decimal()})
}

func (s *TransactionService) publish(ctx context.Context, tx core.Transaction) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionCreated(ctx, tx); err != nil {
		// The row is already committed; the event is best effort.
		s.logger.Fields(ctx, slog.LevelError, "Failed to publish transaction event", log.NewFields().
			WithOperation(log.OpPublish).
			WithTransaction(tx.ID).
			WithClient(tx.ClientID).
			WithError(err))
	}
}

func amountFault(err error) *core.Fault {
	switch {
	case errors.Is(err, core.ErrNegativeAmount):
		return core.ValidationFault(core.MsgValueMustBePositive)
	case errors.Is(err, core.ErrInvalidAmount):
		return core.ValidationFault(core.MsgValueOutOfRange)
	default:
		return core.UnknownFault(err)
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
