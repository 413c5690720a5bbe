package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/config"
	"github.com/semyenov/graphql-microservices-sub001/internal/eventstore"
	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
	"github.com/semyenov/graphql-microservices-sub001/internal/outbox"
	"github.com/semyenov/graphql-microservices-sub001/internal/projection"
	"github.com/semyenov/graphql-microservices-sub001/internal/tracing"
)

// Server is the operational HTTP surface: health, metrics and
// projection progress. It is not the public application API.
type Server struct {
	cfg         config.Config
	db          *gorm.DB
	store       eventstore.EventStore
	outbox      *outbox.GormOutboxStore
	checkpoints projection.CheckpointStore
	metrics     *metrics.Metrics
	httpServer  *http.Server
}

// NewServer creates the ops HTTP server
func NewServer(cfg config.Config, db *gorm.DB, store eventstore.EventStore, outboxStore *outbox.GormOutboxStore, checkpoints projection.CheckpointStore, collector *metrics.Metrics, tracer tracing.Tracer) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(requestTracing(tracer))

	s := &Server{
		cfg:         cfg,
		db:          db,
		store:       store,
		outbox:      outboxStore,
		checkpoints: checkpoints,
		metrics:     collector,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      router,
			ReadTimeout:  cfg.Server.Timeout,
			WriteTimeout: cfg.Server.Timeout,
		},
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)
	router.GET("/projections", s.handleProjections)

	return s
}

// Start starts the HTTP server and blocks until it exits
func (s *Server) Start() error {
	log.Info().Str("address", s.cfg.Server.Address).Msg("Starting ops API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports database reachability and component health
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	dbHealthy := true

	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		dbHealthy = false
		status = http.StatusServiceUnavailable
	}
	s.metrics.SetHealth("database", dbHealthy)

	c.JSON(status, gin.H{
		"status":     healthWord(status == http.StatusOK),
		"uptime":     s.metrics.Uptime().String(),
		"components": s.metrics.GetHealthChecks(),
	})
}

// handleMetrics exposes the in-process counters and gauges
func (s *Server) handleMetrics(c *gin.Context) {
	backlog, err := s.outbox.Backlog(c.Request.Context())
	if err == nil {
		s.metrics.SetGauge(metrics.OutboxBacklog, backlog)
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int64(s.metrics.Uptime() / time.Second),
		"counters":       s.metrics.GetCounters(),
		"gauges":         s.metrics.GetGauges(),
	})
}

// projectionStatus is one row of the /projections response
type projectionStatus struct {
	Name            string    `json:"name"`
	Position        int64     `json:"position"`
	Lag             int64     `json:"lag"`
	Active          bool      `json:"active"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// handleProjections reports per-projection checkpoint progress and lag
// against the event log head
func (s *Server) handleProjections(c *gin.Context) {
	ctx := c.Request.Context()

	head, err := s.store.HeadPosition(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read log head"})
		return
	}

	checkpoints, err := s.checkpoints.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list projections"})
		return
	}

	statuses := make([]projectionStatus, 0, len(checkpoints))
	for _, cp := range checkpoints {
		statuses = append(statuses, projectionStatus{
			Name:            cp.ProjectionName,
			Position:        cp.LastProcessedPosition,
			Lag:             head - cp.LastProcessedPosition,
			Active:          cp.IsActive,
			LastProcessedAt: cp.LastProcessedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"head":        head,
		"projections": statuses,
	})
}

func healthWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
