package amqp

import (
	"encoding/json"
	"time"

	"ledger/internal/core"
)

// TransactionCreatedMessage announces a newly persisted transaction.
type TransactionCreatedMessage struct {
	ID                   int64      `json:"id"`
	ClientID             int64      `json:"client_id"`
	ValueCents           int64      `json:"value_cents"`
	TransactionTimestamp *time.Time `json:"transaction_timestamp,omitempty"`
	Timestamp            time.Time  `json:"timestamp"`
}

func NewTransactionCreatedMessage(tx core.Transaction) *TransactionCreatedMessage {
	return &TransactionCreatedMessage{
		ID:                   tx.ID,
		ClientID:             tx.ClientID,
		ValueCents:           tx.ValueCents,
		TransactionTimestamp: tx.Timestamp,
		Timestamp:            time.Now().UTC(),
	}
}

func (m *TransactionCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionCreatedMessageFromJSON(data []byte) (*TransactionCreatedMessage, error) {
	var msg TransactionCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
