// Package api exposes the account, wallet and transfer operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tokenswallet/wallet-backend/internal/config"
	"github.com/tokenswallet/wallet-backend/internal/logger"
	"github.com/tokenswallet/wallet-backend/internal/metrics"
	"github.com/tokenswallet/wallet-backend/internal/middleware"
	apperrors "github.com/tokenswallet/wallet-backend/pkg/errors"
)

// Server represents the HTTP server
type Server struct {
	config                *config.Config
	accounts              AccountService
	transfers             TransferService
	authMiddleware        *middleware.AuthMiddleware
	idempotencyMiddleware *middleware.IdempotencyMiddleware
	metrics               *metrics.Metrics
	db                    HealthChecker
	httpServer            *http.Server
}

// NewServer creates a new API server. db may be nil when running without a database.
func NewServer(
	cfg *config.Config,
	accounts AccountService,
	transfers TransferService,
	authMiddleware *middleware.AuthMiddleware,
	idempotencyMiddleware *middleware.IdempotencyMiddleware,
	m *metrics.Metrics,
	db HealthChecker,
) *Server {
	return &Server{
		config:                cfg,
		accounts:              accounts,
		transfers:             transfers,
		authMiddleware:        authMiddleware,
		idempotencyMiddleware: idempotencyMiddleware,
		metrics:               m,
		db:                    db,
	}
}

// Handler builds the routed handler with the full middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics (no auth required)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())

	// Account routes
	mux.Handle("/v1/users/register", s.route("/v1/users/register", http.HandlerFunc(s.handleRegister)))
	mux.Handle("/v1/users/login", s.route("/v1/users/login", http.HandlerFunc(s.handleLogin)))
	mux.Handle("/v1/users/logout", s.route("/v1/users/logout", http.HandlerFunc(s.handleLogout)))
	mux.Handle("/v1/auth/me", s.route("/v1/auth/me", s.user(http.HandlerFunc(s.handleMe))))

	// Wallet routes: Auth -> Idempotency -> Handler
	mux.Handle("/v1/wallets/", s.route("/v1/wallets/{chain}", s.user(http.HandlerFunc(s.handleWalletOperationsRouter))))

	// Transaction routes
	mux.Handle("/v1/transactions", s.route("/v1/transactions", s.user(http.HandlerFunc(s.handleListTransactions))))
	mux.Handle("/v1/transfers/by-email", s.route("/v1/transfers/by-email",
		middleware.RequireServiceToken(s.config.ServiceAPIToken)(
			s.idempotencyMiddleware.Handle(http.HandlerFunc(s.handleTransferByEmail)))))

	// Chain: RequestID -> Logging -> LimitBody -> Routes
	return middleware.RequestID(middleware.Logging(middleware.LimitBody(mux)))
}

// user requires a session and applies idempotency keys scoped to it
func (s *Server) user(next http.Handler) http.Handler {
	return s.authMiddleware.Authenticate(s.idempotencyMiddleware.Handle(next))
}

func (s *Server) route(pattern string, next http.Handler) http.Handler {
	return s.metrics.Instrument(pattern, next)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Substrate transfers wait for block inclusion
		WriteTimeout: s.config.SubstrateInclusionTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(context.Background(), "starting server", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			logger.Warn(r.Context(), "health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err *apperrors.AppError) {
	s.writeJSON(w, err.StatusCode, err)
}

// writeServiceError maps a service error to its response. Errors outside the
// AppError taxonomy are logged and reported as a bare internal error.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		if appErr.StatusCode >= http.StatusInternalServerError {
			logger.Error(r.Context(), "request failed", "code", appErr.Code, "error", err)
		}
		s.writeError(w, appErr)
		return
	}
	logger.Error(r.Context(), "request failed", "error", err)
	s.writeError(w, apperrors.ErrInternalError)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, apperrors.New(apperrors.ErrCodeBadRequest, "Request body too large", http.StatusRequestEntityTooLarge))
			return false
		}
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		))
		return false
	}
	return true
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeError(w, apperrors.New(
		apperrors.ErrCodeBadRequest,
		"Method not allowed",
		http.StatusMethodNotAllowed,
	))
}
