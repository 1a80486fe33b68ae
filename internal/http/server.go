package http

import (
	"context"
	"net/http"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/services"
)

// maxBodyBytes bounds request bodies; larger bodies get 413.
const maxBodyBytes = 1 << 20

// Ledger is the service surface exposed over HTTP.
type Ledger interface {
	CreateTransaction(ctx context.Context, in services.CreateInput) core.Result[services.Created]
	GetBalance(ctx context.Context, clientID int64) core.Result[services.Balance]
	GetVolume(ctx context.Context, clientID int64, r core.Range) core.Result[services.Balance]
	GetHistoric(ctx context.Context, clientID int64, r core.Range) core.Result[services.Historic]
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	ledger  Ledger
	ready   Pinger
	logger  *log.Logger
	started time.Time
}

// NewServer wires the routes. ready may be nil, in which case /readyz always
// reports ready. A nil clientIP trusts only loopback and private proxies.
func NewServer(addr string, ledger Ledger, ready Pinger, clientIP *security.ClientIPResolver, logger *log.Logger) *Server {
	if clientIP == nil {
		clientIP = security.NewClientIPResolver()
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		ledger:  ledger,
		ready:   ready,
		logger:  logger.WithComponent(log.ComponentHTTP),
		started: time.Now(),
	}

	mux.HandleFunc("POST /transaction", s.handleCreateTransaction)
	mux.HandleFunc("GET /transaction/{id}", s.handleBalance)
	mux.HandleFunc("GET /transaction/{id}/{date_initial}/{date_end}", s.handleVolume)
	mux.HandleFunc("GET /historic/{id}/{date_initial}/{date_end}", s.handleHistoric)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(logger, clientIP.ClientIP)
	s.Handler = tracer.Middleware(headers.Middleware(limitBody(mux)))

	return s
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
