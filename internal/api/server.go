// Package api exposes the pipeline control surface: status, pause/resume,
// and validated-signal replay for operators and external tooling.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quantpulse/quantpulse/internal/broadcast"
	"github.com/quantpulse/quantpulse/internal/config"
)

// Pipeline is the control capability the server drives
type Pipeline interface {
	Pause()
	Resume()
	Paused() bool
}

// Server is the control-surface HTTP server
type Server struct {
	router   *gin.Engine
	pipeline Pipeline
	queue    *broadcast.Queue
	cache    *broadcast.Cache
	addr     string
	server   *http.Server
	started  time.Time
}

// Config contains server configuration
type Config struct {
	Host     string
	Port     int
	Pipeline Pipeline
	Queue    *broadcast.Queue
	Cache    *broadcast.Cache
}

// NewServer creates a control-surface server
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router:   router,
		pipeline: cfg.Pipeline,
		queue:    cfg.Queue,
		cache:    cfg.Cache,
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.POST("/pause", s.handlePause)
	s.router.POST("/resume", s.handleResume)
	s.router.GET("/signals/validated/:signalId/:agentId", s.handleValidatedSignal)
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting control server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping control server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// Handler returns the underlying HTTP handler (tests)
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"version":    config.Version,
		"uptime_sec": int(time.Since(s.started).Seconds()),
		"paused":     s.pipeline.Paused(),
	}
	if s.queue != nil {
		if depth, err := s.queue.Len(c.Request.Context()); err == nil {
			status["queue_depth"] = depth
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePause(c *gin.Context) {
	s.pipeline.Pause()
	log.Info().Msg("Pipeline paused via control surface")
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.pipeline.Resume()
	log.Info().Msg("Pipeline resumed via control surface")
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleValidatedSignal(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cache not configured"})
		return
	}

	v, err := s.cache.Get(c.Request.Context(), c.Param("signalId"), c.Param("agentId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "validated signal not found"})
		return
	}
	c.JSON(http.StatusOK, v)
}

// LoggerMiddleware logs each control-surface request
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("Control request")
	}
}
