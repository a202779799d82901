// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/service"
	"github.com/vault-snapshots/internal/types"
	"github.com/vault-snapshots/internal/worker"
)

// IngestServiceInterface runs one acquisition-and-persist cycle
type IngestServiceInterface interface {
	Ingest(ctx context.Context, chainID string, source types.TriggerSource) (*service.IngestResult, error)
}

// SnapshotQueryServiceInterface lists stored snapshots
type SnapshotQueryServiceInterface interface {
	List(ctx context.Context, chainID string, limit int) (*service.SnapshotListing, error)
}

// PollerStatusProvider reports background poller state
type PollerStatusProvider interface {
	Status() *worker.PollerStatus
}

// Pinger checks store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// IngestTimeout bounds how long an ingest request waits for the pipeline
	IngestTimeout time.Duration
	// IngestSecret protects /ingest; empty leaves it open
	IngestSecret string
	// IngestRPS is the per-client request rate on /ingest; zero or less disables limiting
	IngestRPS float64
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	ingestService IngestServiceInterface
	queryService  SnapshotQueryServiceInterface
	poller        PollerStatusProvider
	store         Pinger
	logger        *logging.Logger
	config        *ServerConfig
}

// NewServer creates a new API server instance. poller may be nil when no poller runs in this process.
func NewServer(
	config *ServerConfig,
	ingestService IngestServiceInterface,
	queryService SnapshotQueryServiceInterface,
	poller PollerStatusProvider,
	store Pinger,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.IngestTimeout <= 0 {
		config.IngestTimeout = 45 * time.Second
	}

	s := &Server{
		router:        mux.NewRouter(),
		ingestService: ingestService,
		queryService:  queryService,
		poller:        poller,
		store:         store,
		logger:        logger.WithField("component", "api"),
		config:        config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(RequestIDMiddleware(s.logger))
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	writeTimeout := s.config.WriteTimeout
	if writeTimeout < s.config.IngestTimeout+5*time.Second {
		writeTimeout = s.config.IngestTimeout + 5*time.Second
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/poller/status", s.handlePollerStatus).Methods(http.MethodGet)

	s.router.Handle("/snapshots", CompressionMiddleware(http.HandlerFunc(s.handleListSnapshots))).Methods(http.MethodGet)

	var ingest http.Handler = http.HandlerFunc(s.handleIngest)
	ingest = SharedSecretMiddleware(s.config.IngestSecret)(ingest)
	if s.config.IngestRPS > 0 {
		ingest = RateLimitMiddleware(NewRateLimiter(s.config.IngestRPS, 2))(ingest)
	}
	s.router.Handle("/ingest", ingest).Methods(http.MethodGet, http.MethodPost)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
