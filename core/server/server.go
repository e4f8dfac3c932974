package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/config"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/pipeline"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/sink"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/worker"
)

type Server struct {
	config     *ServerConfig
	dispatcher *worker.Dispatcher
	router     *gin.Engine
	registry   *prometheus.Registry
	promSink   domain.MetricSink

	mu       sync.RWMutex
	settings config.Settings
}

func NewServer(options ...ConfigOption) (*Server, error) {
	cfg := &ServerConfig{
		Settings:    config.DefaultSettings(),
		WorkerCount: 4,
		BatchSize:   100,
		Port:        "8080",
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	promSink, err := sink.NewPromSink(registry)
	if err != nil {
		return nil, err
	}

	server := &Server{
		config:   cfg,
		router:   gin.Default(),
		registry: registry,
		settings: cfg.Settings,
	}

	server.dispatcher = worker.NewDispatcher(
		cfg.Store, cfg.Consumer,
		server.buildPipeline(cfg.Settings, promSink),
		cfg.WorkerCount, cfg.BatchSize,
	)

	server.promSink = promSink
	server.setupRoutes()
	return server, nil
}

// buildPipeline assembles the sink chain for one settings snapshot. A
// disabled snapshot yields no pipeline at all; the dispatcher then
// drops events on the floor.
func (s *Server) buildPipeline(settings config.Settings, promSink domain.MetricSink) *pipeline.Pipeline {
	if !settings.Enabled {
		return nil
	}
	metricSink := promSink
	if s.config.ForwardQueue != nil {
		metricSink = sink.NewMultiSink(promSink, sink.NewForwardSink(s.config.ForwardQueue))
	}
	return pipeline.New(settings, pipeline.NewCooldownState(), metricSink)
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Metrics endpoint
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	// API routes
	api := s.router.Group("/api/v1")
	{
		api.POST("/events", s.handleEvent)
		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handleUpdateSettings)
		api.POST("/aggregates", s.handleGetAggregates)
	}
}

// handleEvent is the host adapter: it translates one device event
// callback into a queued envelope keyed by device id, keeping the
// pipeline itself off the HTTP path.
func (s *Server) handleEvent(c *gin.Context) {
	var envelope domain.EventEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.currentSettings().Enabled {
		c.JSON(http.StatusAccepted, gin.H{"message": "telemetry disabled, event discarded"})
		return
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to serialize event"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.config.EventQueue.Publish(ctx, []byte(envelope.Device.ID), data); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish event"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "event accepted for processing"})
}

func (s *Server) currentSettings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentSettings())
}

// handleUpdateSettings swaps the settings snapshot atomically and
// replaces the whole pipeline, cooldown state included. Sessions in
// flight finish against the snapshot they started with.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var settings config.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings = settings.Normalize()

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	s.dispatcher.SetPipeline(s.buildPipeline(settings, s.promSink))
	log.Printf("Settings updated: enabled=%t cooldown=%ds filter=%q",
		settings.Enabled, settings.CooldownSeconds, settings.EventFilter)

	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleGetAggregates(c *gin.Context) {
	var query domain.AggregateQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if query.StartTime.IsZero() || query.EndTime.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_time and end_time are required"})
		return
	}

	if query.Granularity == "" {
		query.Granularity = "hour"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	results, err := s.config.Store.GetAggregates(ctx, query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get aggregates"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) Start(ctx context.Context) error {
	// Start the event dispatcher
	go func() {
		if err := s.dispatcher.Start(ctx, s.config.EventQueue); err != nil && ctx.Err() == nil {
			log.Printf("Dispatcher error: %v", err)
		}
	}()

	server := &http.Server{
		Addr:    ":" + s.config.Port,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Server starting on port %s", s.config.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Close() error {
	if s.config.EventQueue != nil {
		s.config.EventQueue.Close()
	}
	if s.config.ForwardQueue != nil {
		s.config.ForwardQueue.Close()
	}
	if s.config.Store != nil {
		s.config.Store.Close()
	}
	return nil
}
