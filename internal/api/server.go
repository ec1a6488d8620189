// Package api provides the HTTP and WebSocket surface of the indexer.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/token-indexer/internal/endpoint"
	"github.com/token-indexer/internal/indexer"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/models"
	"github.com/token-indexer/internal/notify"
	"github.com/token-indexer/internal/storage"
)

// Service interfaces for dependency injection and testing

// IndexService drives indexing job submission and lifecycle queries
type IndexService interface {
	Submit(ctx context.Context, query string, userID *string) (*indexer.SubmitResult, error)
	JobStatus(ctx context.Context, jobID string) (*models.IndexingJob, error)
	CancelJob(jobID string) error
}

// EndpointService serves registered dynamic endpoints
type EndpointService interface {
	Execute(ctx context.Context, path string, params map[string]string) (*endpoint.Result, error)
}

// EndpointLister lists registered endpoints
type EndpointLister interface {
	List(ctx context.Context) ([]*models.DynamicEndpoint, error)
}

// StatsService serves token aggregates from the analytics mirror
type StatsService interface {
	VolumeByDay(ctx context.Context, tokenAddress string, days int) ([]storage.DailyVolume, error)
	TopSenders(ctx context.Context, tokenAddress string, limit int) ([]storage.SenderStat, error)
}

// Pinger reports backing-store connectivity for the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server

	indexService    IndexService
	endpointService EndpointService
	endpointLister  EndpointLister
	statsService    StatsService // nil when the analytics mirror is disabled
	bus             *notify.Bus
	pingers         map[string]Pinger
	logger          *logging.Logger
	config          *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	indexService IndexService,
	endpointService EndpointService,
	endpointLister EndpointLister,
	statsService StatsService,
	bus *notify.Bus,
	pingers map[string]Pinger,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		indexService:    indexService,
		endpointService: endpointService,
		endpointLister:  endpointLister,
		statsService:    statsService,
		bus:             bus,
		pingers:         pingers,
		logger:          logger,
		config:          config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/index", s.handleSubmitIndex).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods("DELETE")

	api.HandleFunc("/endpoints", s.handleListEndpoints).Methods("GET")
	api.HandleFunc("/endpoints/{path}", s.handleServeEndpoint).Methods("GET")

	api.HandleFunc("/tokens/{address}/stats", s.handleTokenStats).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	s.router.HandleFunc("/ws/jobs/{id}", s.handleJobWebSocket).Methods("GET")
}

// Router exposes the configured router for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving requests
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
