package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/weektoken/service/config"
	"github.com/brojonat/weektoken/service/db"
	"github.com/brojonat/weektoken/service/metrics"
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventStore is the subset of the database store the server needs.
type EventStore interface {
	CreateInstructionEvent(ctx context.Context, params db.CreateInstructionEventParams) (*db.InstructionEvent, error)
	ListInstructionEvents(ctx context.Context, params db.ListInstructionEventsParams) ([]*db.InstructionEvent, error)
	UpsertMint(ctx context.Context, params db.UpsertMintParams) (*db.Mint, error)
	ListMints(ctx context.Context, limit, offset int32) ([]*db.Mint, error)
}

// Server is the HTTP API of the local validator.
type Server struct {
	addr         string
	cfg          *config.Config
	bank         *runtime.Bank
	store        EventStore
	indexer      *Indexer
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, the events endpoint answers 503.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, bank *runtime.Bank, store EventStore, indexer *Indexer, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		bank:         bank,
		store:        store,
		indexer:      indexer,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		if s.metrics != nil {
			h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
		}
		mux.Handle(pattern, h)
	}

	// Ledger routes
	route("POST /api/v1/transactions", "/api/v1/transactions", handleSendTransaction(s.bank, s.indexer, s.logger))
	route("GET /api/v1/blockhash", "/api/v1/blockhash", handleLatestBlockhash(s.bank, s.logger))
	route("POST /api/v1/airdrop", "/api/v1/airdrop", handleAirdrop(s.bank, s.cfg.AirdropMax, s.logger))
	route("GET /api/v1/accounts/{address}", "/api/v1/accounts", handleGetAccount(s.bank, s.logger))
	route("GET /api/v1/mints", "/api/v1/mints/list", handleListMints(s.store, s.logger))
	route("GET /api/v1/mints/{address}", "/api/v1/mints", handleGetMint(s.bank, s.logger))
	route("GET /api/v1/token-accounts/{address}", "/api/v1/token-accounts", handleGetTokenAccount(s.bank, s.logger))
	route("GET /api/v1/events", "/api/v1/events", handleListEvents(s.store, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/events/{mint}", handleStreamEvents(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/events", handleStreamEvents(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE responses stay open.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"program_id", s.cfg.ProgramID.String(),
		"preflight", s.cfg.PreflightCheck,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
