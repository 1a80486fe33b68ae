package core

import (
	"errors"
	"time"
)

type (
	// Draft is a normalized transaction waiting to be persisted.
	Draft struct {
		ClientID    int64
		Timestamp   *time.Time
		ValueCents  int64
		Description *string
	}

	// Transaction is a persisted ledger row.
	Transaction struct {
		ID          int64
		ClientID    int64
		Timestamp   *time.Time
		ValueCents  int64
		Description *string
	}

	// Range is an inclusive time window: Start <= t <= End.
	Range struct {
		Start time.Time
		End   time.Time
	}
)

var ErrInvalidAmount = errors.New("invalid amount")

// NewRange builds an inclusive window with both bounds normalized to UTC.
func NewRange(start, end time.Time) Range {
	return Range{Start: start.UTC(), End: end.UTC()}
}

// Amount returns the transaction value as Money.
func (t Transaction) Amount() Money {
	return Money{Cents: t.ValueCents}
}
