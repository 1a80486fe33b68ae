package http

import (
	"context"
	"net/http"
	"time"

	"ledger/internal/services"
)

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	in, verrs, err := parseCreateTransaction(r)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	if len(verrs) > 0 {
		writeValidation(w, r, verrs)
		return
	}

	created, fault := s.ledger.CreateTransaction(r.Context(), in).Unwrap()
	if fault != nil {
		writeFault(w, r, fault)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{
		TransactionID: created.ID,
		Message:       created.Message,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var verrs validationErrors
	id := parsePathID(r, &verrs)
	if len(verrs) > 0 {
		writeValidation(w, r, verrs)
		return
	}

	bal, fault := s.ledger.GetBalance(r.Context(), id).Unwrap()
	if fault != nil {
		writeFault(w, r, fault)
		return
	}
	writeJSON(w, http.StatusOK, newBalanceResponse(bal))
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	id, rng, verrs := parseRangeRequest(r)
	if len(verrs) > 0 {
		writeValidation(w, r, verrs)
		return
	}

	bal, fault := s.ledger.GetVolume(r.Context(), id, rng).Unwrap()
	if fault != nil {
		writeFault(w, r, fault)
		return
	}
	writeJSON(w, http.StatusOK, newBalanceResponse(bal))
}

func (s *Server) handleHistoric(w http.ResponseWriter, r *http.Request) {
	id, rng, verrs := parseRangeRequest(r)
	if len(verrs) > 0 {
		writeValidation(w, r, verrs)
		return
	}

	hist, fault := s.ledger.GetHistoric(r.Context(), id, rng).Unwrap()
	if fault != nil {
		writeFault(w, r, fault)
		return
	}
	writeJSON(w, http.StatusOK, newHistoricResponse(hist))
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks that the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "not_ready",
				"database": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "database": "ok"})
}

// compile-time check that the service satisfies the HTTP surface
var _ Ledger = (*services.TransactionService)(nil)
