// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/service"
	"github.com/grant-reconciler/internal/types"
)

// Service interfaces for dependency injection and testing

// ViewServiceInterface assembles project views
type ViewServiceInterface interface {
	AssembleAll(ctx context.Context, scope string, opts service.ListOptions, session *service.Session) (*types.ProjectList, error)
	AssembleProjectView(ctx context.Context, chainID int64, session *service.Session) (*types.ProjectView, error)
}

// CatalogServiceInterface lists and creates catalog rows
type CatalogServiceInterface interface {
	List(ctx context.Context) ([]types.CatalogEntry, error)
	Create(ctx context.Context, p *types.NewCatalogProject) (*types.CatalogEntry, error)
}

// GovernanceServiceInterface serves companies, treasury and funding history
type GovernanceServiceInterface interface {
	Companies(ctx context.Context) ([]types.Company, error)
	CompanyQueue(ctx context.Context, address string, session *service.Session, opts service.ListOptions) ([]types.CompanyQueueEntry, []types.ViewError, error)
	OwnerProjects(ctx context.Context, address string, session *service.Session, opts service.ListOptions) (*types.ProjectList, error)
	Treasury(ctx context.Context) (types.TreasurySummary, error)
	FundingHistory(ctx context.Context, from, to *uint64) ([]types.GrantEvent, error)
}

// ActionServiceInterface submits intents and reports their state
type ActionServiceInterface interface {
	Submit(ctx context.Context, session *service.Session, intent types.Intent) (*service.ActionSnapshot, error)
	Action(session *service.Session, key string) (*service.ActionSnapshot, bool)
	WriteEnabled() bool
}

// IntentBuilderInterface converts action requests into intents
type IntentBuilderInterface interface {
	Build(ctx context.Context, req *service.ActionRequest) (types.Intent, error)
}

// ScoringServiceInterface computes impact scores
type ScoringServiceInterface interface {
	Score(ctx context.Context, chainID int64, githubURL, description string) *types.ScoreResult
	ScoreMetrics(ctx context.Context, chainID int64, githubURL, description string, m types.RepoMetrics, degraded bool) *types.ScoreResult
}

// MetricsServiceInterface fetches repository metrics
type MetricsServiceInterface interface {
	FetchMetrics(ctx context.Context, githubURL string) (*types.RepoMetrics, error)
}

// ContractReaderInterface is the generic chain read surface
type ContractReaderInterface interface {
	Call(ctx context.Context, functionName string, args []interface{}) (interface{}, error)
	GetLogs(ctx context.Context, eventName string, from, to *uint64) ([]types.ChainLog, error)
}

// Dependencies groups the services the server routes to. Catalog may be nil
// when no catalog store is configured.
type Dependencies struct {
	Views      ViewServiceInterface
	Catalog    CatalogServiceInterface
	Governance GovernanceServiceInterface
	Actions    ActionServiceInterface
	Intents    IntentBuilderInterface
	Scoring    ScoringServiceInterface
	Metrics    MetricsServiceInterface
	Contract   ContractReaderInterface
	Sessions   *service.SessionStore
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  float64 // per client
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if deps.Sessions == nil {
		deps.Sessions = service.NewSessionStore(0)
	}
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: config,
		logger: logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	// order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

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

	// Catalog
	api.HandleFunc("/projects", s.handleListCatalog).Methods("GET")
	api.HandleFunc("/projects", s.handleCreateCatalog).Methods("POST")

	// Enrichment
	api.HandleFunc("/github", s.handleGitHubMetrics).Methods("POST")
	api.HandleFunc("/score", s.handleScore).Methods("POST")

	// Generic chain reads
	api.HandleFunc("/contract/read", s.handleContractRead).Methods("POST")
	api.HandleFunc("/contract/events", s.handleContractEvents).Methods("POST")

	// Views
	api.HandleFunc("/views/projects", s.handleListViews).Methods("GET")
	api.HandleFunc("/views/projects/{chainId:[0-9]+}", s.handleGetView).Methods("GET")
	api.HandleFunc("/views/projects/{chainId:[0-9]+}/score", s.handleScoreView).Methods("POST")

	// Governance
	api.HandleFunc("/companies", s.handleCompanies).Methods("GET")
	api.HandleFunc("/companies/{address}/projects", s.handleCompanyQueue).Methods("GET")
	api.HandleFunc("/owners/{address}/projects", s.handleOwnerProjects).Methods("GET")
	api.HandleFunc("/grants", s.handleFundingHistory).Methods("GET")
	api.HandleFunc("/treasury", s.handleTreasury).Methods("GET")

	// Actions
	api.HandleFunc("/actions", s.handleSubmitAction).Methods("POST")
	api.HandleFunc("/actions/{key}", s.handleGetAction).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writes := s.deps.Actions != nil && s.deps.Actions.WriteEnabled()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"service":      "grant-reconciler",
		"writeEnabled": writes,
		"sessions":     s.deps.Sessions.Len(),
	})
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
