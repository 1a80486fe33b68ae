package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/storage"
)

const createBody = `{"client_id":1,"transaction_timestamp":"2022-07-13T03:40:23.123Z","value":10.17,"description":"string"}`

func newTestServer(t *testing.T, mode core.AmountMode) *Server {
	t.Helper()
	repo, err := storage.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "ledger.db"), log.Discard())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	svc := services.NewTransactionService(repo, nil, mode, log.Discard())
	return NewServer(":0", svc, repo, nil, log.Discard())
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func expect(t *testing.T, rr *httptest.ResponseRecorder, status int, body string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	if body != "" && strings.TrimSpace(rr.Body.String()) != body {
		t.Fatalf("body = %s, want %s", strings.TrimSpace(rr.Body.String()), body)
	}
}

func TestCreateTransaction(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)

	rr := do(t, srv, http.MethodPost, "/transaction", createBody)
	expect(t, rr, http.StatusCreated, `{"transaction_id":1,"message":"TRANSACTION_CREATED"}`)
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}

	rr = do(t, srv, http.MethodPost, "/transaction", createBody)
	expect(t, rr, http.StatusCreated, `{"transaction_id":2,"message":"TRANSACTION_CREATED"}`)
}

func TestCreateTransactionNegativeValue(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)

	for _, value := range []string{"-10.17", "-10"} {
		body := `{"client_id":1,"value":` + value + `}`
		expect(t, do(t, srv, http.MethodPost, "/transaction", body), http.StatusBadRequest, `{"detail":"VALUE_MUST_BE_POSITIVE"}`)
	}
	expect(t, do(t, srv, http.MethodGet, "/transaction/1", ""), http.StatusNotFound, "")
}

func TestCreateTransactionLegacyMode(t *testing.T) {
	srv := newTestServer(t, core.ModeLegacy)

	expect(t, do(t, srv, http.MethodPost, "/transaction", `{"client_id":1,"value":10.1}`), http.StatusCreated, "")
	expect(t, do(t, srv, http.MethodGet, "/transaction/1", ""), http.StatusOK, `{"balance":1.01}`)

	expect(t, do(t, srv, http.MethodPost, "/transaction", `{"client_id":2,"value":-10}`), http.StatusCreated, "")
	expect(t, do(t, srv, http.MethodGet, "/transaction/2", ""), http.StatusOK, `{"balance":-10}`)

	expect(t, do(t, srv, http.MethodPost, "/transaction", `{"client_id":2,"value":-10.17}`), http.StatusBadRequest, `{"detail":"VALUE_MUST_BE_POSITIVE"}`)
}

func TestCreateTransactionLegacyModeFractionalForms(t *testing.T) {
	srv := newTestServer(t, core.ModeLegacy)

	for _, value := range []string{"-10.00", "-10.0", "-1e1"} {
		body := `{"client_id":7,"value":` + value + `}`
		expect(t, do(t, srv, http.MethodPost, "/transaction", body), http.StatusBadRequest, `{"detail":"VALUE_MUST_BE_POSITIVE"}`)
	}
	expect(t, do(t, srv, http.MethodGet, "/transaction/7", ""), http.StatusNotFound, "")

	expect(t, do(t, srv, http.MethodPost, "/transaction", `{"client_id":8,"value":10.0}`), http.StatusCreated, "")
	expect(t, do(t, srv, http.MethodGet, "/transaction/8", ""), http.StatusOK, `{"balance":1}`)
}

func TestCreateTransactionValidation(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)

	rr := do(t, srv, http.MethodPost, "/transaction", `{"value":1}`)
	expect(t, rr, http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","client_id"],"msg":"field required","type":"value_error.missing"}]}`)

	big := `{"client_id":1,"value":1,"description":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	expect(t, do(t, srv, http.MethodPost, "/transaction", big), http.StatusRequestEntityTooLarge, `{"detail":"Request body too large"}`)

	expect(t, do(t, srv, http.MethodGet, "/transaction", ""), http.StatusMethodNotAllowed, "")
}

func TestBalance(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)

	expect(t, do(t, srv, http.MethodGet, "/transaction/1", ""), http.StatusNotFound, `{"detail":"NO_VALUE_FOUND_FOR_THESE_PARAMETERS"}`)

	do(t, srv, http.MethodPost, "/transaction", createBody)
	expect(t, do(t, srv, http.MethodGet, "/transaction/1", ""), http.StatusOK, `{"balance":10.17}`)

	do(t, srv, http.MethodPost, "/transaction", createBody)
	expect(t, do(t, srv, http.MethodGet, "/transaction/1", ""), http.StatusOK, `{"balance":20.34}`)

	expect(t, do(t, srv, http.MethodGet, "/transaction/-1", ""), http.StatusNotFound, "")
	expect(t, do(t, srv, http.MethodGet, "/transaction/abc", ""), http.StatusUnprocessableEntity, "")
}

func TestBalanceOfZero(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)

	do(t, srv, http.MethodPost, "/transaction", `{"client_id":5,"value":0}`)
	expect(t, do(t, srv, http.MethodGet, "/transaction/5", ""), http.StatusOK, `{"balance":0}`)
}

func TestVolume(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)
	do(t, srv, http.MethodPost, "/transaction", createBody)

	expect(t, do(t, srv, http.MethodGet, "/transaction/1/2022-07-12T03:40:23.123Z/2022-07-14T03:40:23.123Z", ""),
		http.StatusOK, `{"balance":10.17}`)

	// Both bounds are inclusive.
	expect(t, do(t, srv, http.MethodGet, "/transaction/1/2022-07-13T03:40:23.123Z/2022-07-13T03:40:23.123Z", ""),
		http.StatusOK, `{"balance":10.17}`)

	expect(t, do(t, srv, http.MethodGet, "/transaction/1/2022-07-10T03:40:23.123Z/2022-07-11T03:40:23.123Z", ""),
		http.StatusNotFound, `{"detail":"NO_VALUE_FOUND_FOR_THESE_PARAMETERS"}`)

	// Reversed bounds match nothing.
	expect(t, do(t, srv, http.MethodGet, "/transaction/1/2022-07-14T03:40:23.123Z/2022-07-12T03:40:23.123Z", ""),
		http.StatusNotFound, "")
}

func TestVolumeInvalidDate(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)

	rr := do(t, srv, http.MethodGet, "/transaction/2/2022-07-12T03:40:23.123Z/''", "")
	expect(t, rr, http.StatusUnprocessableEntity, `{"detail":[{"loc":["path","date_end"],"msg":"invalid datetime format","type":"value_error.datetime"}]}`)

	expect(t, do(t, srv, http.MethodGet, "/historic/2/''/2022-07-12T03:40:23.123Z", ""), http.StatusUnprocessableEntity, "")
}

func TestHistoric(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)
	do(t, srv, http.MethodPost, "/transaction", `{"client_id":1,"transaction_timestamp":"2022-07-14T10:00:00Z","value":5}`)
	do(t, srv, http.MethodPost, "/transaction", createBody)
	do(t, srv, http.MethodPost, "/transaction", `{"client_id":2,"transaction_timestamp":"2022-07-13T10:00:00Z","value":1}`)

	rr := do(t, srv, http.MethodGet, "/historic/1/2022-07-12T03:40:23.123Z/2022-07-15T03:40:23.123Z", "")
	expect(t, rr, http.StatusOK,
		`{"transactions":[`+
			`{"client_id":1,"transaction_timestamp":"2022-07-13T03:40:23.123000","value":10.17,"description":"string"},`+
			`{"client_id":1,"transaction_timestamp":"2022-07-14T10:00:00.000000","value":5,"description":null}]}`)

	expect(t, do(t, srv, http.MethodGet, "/historic/9/2022-07-12T03:40:23.123Z/2022-07-15T03:40:23.123Z", ""),
		http.StatusOK, `{"transactions":[]}`)
}

func TestHistoricRendersExactCents(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)
	do(t, srv, http.MethodPost, "/transaction", `{"client_id":3,"transaction_timestamp":"2022-07-13T10:00:00Z","value":0.05}`)

	expect(t, do(t, srv, http.MethodGet, "/historic/3/2022-07-13/2022-07-14", ""), http.StatusOK,
		`{"transactions":[{"client_id":3,"transaction_timestamp":"2022-07-13T10:00:00.000000","value":0.05,"description":null}]}`)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, core.ModeDecimal)

	rr := do(t, srv, http.MethodGet, "/healthz", "")
	expect(t, rr, http.StatusOK, "")
	var health map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil || health["status"] != "ok" {
		t.Fatalf("health body = %s", rr.Body.String())
	}

	expect(t, do(t, srv, http.MethodGet, "/readyz", ""), http.StatusOK, `{"database":"ok","status":"ready"}`)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestReadyReportsDatabaseFailure(t *testing.T) {
	srv := NewServer(":0", nil, failingPinger{}, nil, log.Discard())
	expect(t, do(t, srv, http.MethodGet, "/readyz", ""), http.StatusServiceUnavailable, `{"database":"database is locked","status":"not_ready"}`)
}

type brokenLedger struct{ Ledger }

func (brokenLedger) GetBalance(context.Context, int64) core.Result[services.Balance] {
	return core.Fail[services.Balance](core.UnknownFault(errors.New("storage sum: disk I/O error")))
}

func TestUnknownFaultRendersCause(t *testing.T) {
	srv := NewServer(":0", brokenLedger{}, nil, nil, log.Discard())
	expect(t, do(t, srv, http.MethodGet, "/transaction/1", ""), http.StatusInternalServerError, `{"detail":"storage sum: disk I/O error"}`)
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := NewServer(":0", nil, nil, nil, log.Discard())
	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing security headers: %v", rr.Header())
	}
}
