package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/FairForge/datasetd/internal/capability"
	"github.com/FairForge/datasetd/internal/config"
	"github.com/FairForge/datasetd/internal/dataset"
	"github.com/FairForge/datasetd/internal/dispatch"
	"github.com/FairForge/datasetd/internal/events"
	"github.com/FairForge/datasetd/internal/gateway"
	"github.com/FairForge/datasetd/internal/policy"
	"github.com/FairForge/datasetd/internal/storage"
)

// ObjectStore is the slice of the object-storage service this server
// consumes: an existence/metadata probe and a delete.
type ObjectStore interface {
	Head(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Server owns the HTTP surface.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	repo     dataset.Repository
	gateway  *gateway.Gateway
	issuer   capability.Issuer
	store    ObjectStore
	notifier dispatch.Notifier
	events   *events.EventLogger
	metrics  *Metrics
	limiter  *RateLimiter

	startTime time.Time
}

// NewServer wires the server. All collaborators are interfaces so tests
// can substitute fakes.
func NewServer(cfg *config.Config, logger *zap.Logger, repo dataset.Repository,
	issuer capability.Issuer, store ObjectStore, notifier dispatch.Notifier) *Server {

	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    chi.NewRouter(),
		repo:      repo,
		gateway:   gateway.New(repo, logger),
		issuer:    issuer,
		store:     store,
		notifier:  notifier,
		events:    events.NewEventLogger(logger),
		metrics:   NewMetrics(),
		limiter:   NewRateLimiter(),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/datasets", func(r chi.Router) {
		r.Use(s.requireJWT)
		r.Use(s.rateLimitMiddleware)

		r.Get("/", s.handleListDatasets)
		r.Post("/make_dataset_upload_url", s.handleMakeUploadURL)
		r.Post("/make_dataset_preview_url", s.handleMakePreviewURL)
		r.Post("/process_dataset", s.handleProcessDataset)

		r.With(s.datasetGate(policy.VerbCreateChild)).
			Post("/make_dataset_append_url/{datasetID}", s.handleMakeAppendURL)
		r.With(s.datasetGate(policy.VerbCreateChild)).
			Post("/duplicate/{datasetID}", s.handleDuplicateDataset)

		r.With(s.datasetGate(policy.VerbRead)).Get("/{datasetID}", s.handleGetDataset)
		r.With(s.datasetGate(policy.VerbUpdate)).Patch("/{datasetID}", s.handlePatchDataset)
		r.With(s.datasetGate(policy.VerbDelete)).Delete("/{datasetID}", s.handleDeleteDataset)
	})

	s.router.Route("/internal/jobs", func(r chi.Router) {
		r.Use(s.requireCallbackToken)
		r.Post("/dataset_ready", s.handleDatasetReady)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ready": true})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving.
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
