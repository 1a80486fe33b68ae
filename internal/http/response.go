package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/services"
)

// historicTimeLayout renders stored UTC instants without a zone suffix.
const historicTimeLayout = "2006-01-02T15:04:05.000000"

type createdResponse struct {
	TransactionID int64  `json:"transaction_id"`
	Message       string `json:"message"`
}

type balanceResponse struct {
	Balance json.Number `json:"balance"`
}

func newBalanceResponse(b services.Balance) balanceResponse {
	return balanceResponse{Balance: json.Number(b.Amount.String())}
}

type historicItem struct {
	ClientID             int64       `json:"client_id"`
	TransactionTimestamp *string     `json:"transaction_timestamp"`
	Value                json.Number `json:"value"`
	Description          *string     `json:"description"`
}

type historicResponse struct {
	Transactions []historicItem `json:"transactions"`
}

func newHistoricResponse(h services.Historic) historicResponse {
	items := make([]historicItem, 0, len(h.Transactions))
	for _, tx := range h.Transactions {
		item := historicItem{
			ClientID:    tx.ClientID,
			Value:       json.Number(tx.Amount().Decimal().String()),
			Description: tx.Description,
		}
		if tx.Timestamp != nil {
			ts := tx.Timestamp.UTC().Format(historicTimeLayout)
			item.TransactionTimestamp = &ts
		}
		items = append(items, item)
	}
	return historicResponse{Transactions: items}
}

type faultResponse struct {
	Detail string `json:"detail"`
}

type validationResponse struct {
	Detail validationErrors `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFault renders f as {"detail": message}. The reason tag only reaches
// the logs.
func writeFault(w http.ResponseWriter, r *http.Request, f *core.Fault) {
	level := slog.LevelDebug
	if f.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	log.FromContext(r.Context()).Fields(r.Context(), level, "Request failed", log.NewFields().
		WithError(f.Cause).
		With(log.FieldReason, string(f.Reason)).
		With(log.FieldStatusCode, f.Status))

	writeJSON(w, f.Status, faultResponse{Detail: f.Message})
}

func writeValidation(w http.ResponseWriter, r *http.Request, verrs validationErrors) {
	log.FromContext(r.Context()).DebugContext(r.Context(), "Request validation failed", "errors", len(verrs))
	writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Detail: verrs})
}

// writeBodyError handles failures reading the request body.
func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, faultResponse{Detail: "Request body too large"})
		return
	}
	writeFault(w, r, core.AsFault(err))
}
