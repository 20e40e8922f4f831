// Package api exposes the interpretation engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/emr-interpretation-server/internal/definition"
	"github.com/emr-interpretation-server/internal/domain"
	"github.com/emr-interpretation-server/internal/inventory"
	"github.com/emr-interpretation-server/internal/metric"
	"github.com/emr-interpretation-server/internal/middleware"
	"github.com/emr-interpretation-server/internal/service"
)

// DefinitionStore is the definition persistence surface the API needs.
type DefinitionStore interface {
	Save(ctx context.Context, def *definition.ObservationDefinition) error
	Get(ctx context.Context, slug string) (*definition.ObservationDefinition, error)
	List(ctx context.Context) ([]*definition.ObservationDefinition, error)
	Delete(ctx context.Context, slug string) error
}

// Reconciler triggers inventory availability reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, locationID, productID string) (*inventory.InventoryItem, error)
}

// Server represents the HTTP server
type Server struct {
	config      *domain.Config
	interpreter *service.ObservationInterpreter
	definitions DefinitionStore
	registry    *metric.Registry
	reconciler  Reconciler
	log         *logrus.Logger
	router      *gin.Engine
	server      *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(
	config *domain.Config,
	interpreter *service.ObservationInterpreter,
	definitions DefinitionStore,
	registry *metric.Registry,
	reconciler Reconciler,
	logger *logrus.Logger,
) *Server {
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())

	server := &Server{
		config:      config,
		interpreter: interpreter,
		definitions: definitions,
		registry:    registry,
		reconciler:  reconciler,
		log:         logger,
		router:      router,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/observations/interpret", s.handleInterpretObservation)
		v1.POST("/definitions", s.handleSaveDefinition)
		v1.GET("/definitions", s.handleListDefinitions)
		v1.GET("/definitions/:slug", s.handleGetDefinition)
		v1.DELETE("/definitions/:slug", s.handleDeleteDefinition)
		v1.GET("/metrics", s.handleListMetrics)
		v1.POST("/charge-items/price", s.handlePriceChargeItem)
		v1.POST("/inventory/reconcile", s.handleReconcileInventory)
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server started")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
