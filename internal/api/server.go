// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pair-tracker/internal/circuitbreaker"
	"github.com/pair-tracker/internal/metrics"
	"github.com/pair-tracker/internal/models"
	"github.com/pair-tracker/internal/service"
)

// Service interfaces for dependency injection and testing

// LookupServiceInterface defines the transaction lookup operations
type LookupServiceInterface interface {
	Lookup(ctx context.Context, req service.LookupRequest) (*service.LookupResult, error)
}

// PriceServiceInterface defines the price operations
type PriceServiceInterface interface {
	Prices(ctx context.Context) (*service.Prices, error)
	Summarize(ctx context.Context, rows []*models.Transaction, totals service.Totals) (*service.USDSummary, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	lookupService LookupServiceInterface
	priceService  PriceServiceInterface
	checks        map[string]HealthCheck
	breakers      *circuitbreaker.Manager
	config        *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64 // per client
	RateLimitBurst  int
}

// NewServer creates a new API server instance. checks and breakers feed
// /health and may be nil.
func NewServer(
	config *ServerConfig,
	lookupService LookupServiceInterface,
	priceService PriceServiceInterface,
	checks map[string]HealthCheck,
	breakers *circuitbreaker.Manager,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		lookupService: lookupService,
		priceService:  priceService,
		checks:        checks,
		breakers:      breakers,
		config:        config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// order matters: the request logger must exist before anything logs
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(MetricsMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/transaction", s.handleGetTransactions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/transactions", s.handleGetTransactions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/prices", s.handleGetPrices).Methods(http.MethodGet, http.MethodOptions)
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
