package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/condvault/internal/crypto"
	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/server/handler"
	"github.com/alanyoungcy/condvault/internal/server/middleware"
	"github.com/alanyoungcy/condvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey and Signer guard the admin endpoints. Both empty disables
	// authentication.
	APIKey string
	Signer *crypto.RequestSigner

	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Proposals  *handler.ProposalHandler
	Vaults     *handler.VaultHandler
	Executions *handler.ExecutionHandler
}

// Server is the HTTP and WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, CORS and,
// when limiter is non-nil, rate limiting. Proposal creation and
// finalization additionally require admin authentication.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.APIKey, cfg.Signer)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.Handle("POST /api/proposals", admin(http.HandlerFunc(handlers.Proposals.Create)))
	mux.HandleFunc("GET /api/proposals", handlers.Proposals.List)
	mux.HandleFunc("GET /api/proposals/{id}", handlers.Proposals.Get)
	mux.Handle("POST /api/proposals/{id}/finalize", admin(http.HandlerFunc(handlers.Proposals.Finalize)))
	mux.HandleFunc("GET /api/proposals/{id}/report", handlers.Proposals.Report)
	mux.HandleFunc("GET /api/proposals/{id}/audit", handlers.Proposals.Audit)

	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/{op}", handlers.Vaults.Build)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/execute", handlers.Vaults.Execute)
	mux.HandleFunc("GET /api/proposals/{id}/vaults/{leg}/balances", handlers.Vaults.Balances)

	mux.HandleFunc("GET /api/executions/{signature}", handlers.Executions.Get)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      90 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
