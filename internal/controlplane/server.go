// Package controlplane exposes the scheduler and a one-shot scan trigger
// over HTTP, grounded on the teacher's internal/api.Server: gin.New() with
// Recovery/Logger middleware, a CORS config, route groups, and a
// Run/Shutdown lifecycle. The sync/library/auth domain the teacher's
// server implemented is gone — this package exists only so the scheduler's
// TriggerNow/NextRunTime (and the pipeline's scan) are observable from
// outside the process, since the core engine has no CLI of its own
// (spec.md's non-goal).
package controlplane

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Sesame-Disk/backupcore/internal/pipeline"
	"github.com/Sesame-Disk/backupcore/internal/scheduler"
)

// Config configures the control-plane HTTP server.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	DevMode        bool
	AllowedOrigins []string
}

// DefaultConfig returns a sane local-development configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8088",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		DevMode:      true,
	}
}

// Server is the control-plane HTTP server.
type Server struct {
	cfg    Config
	router *gin.Engine
	http   *http.Server

	pipeline *pipeline.Pipeline
	tasks    *scheduler.Registry

	resultMu   sync.RWMutex
	lastResult *pipeline.Result
}

// NewServer builds a Server wired to p (run on demand by /api/v1/scan) and
// tasks (inspected/triggered by /api/v1/schedule/*).
func NewServer(cfg Config, p *pipeline.Pipeline, tasks *scheduler.Registry) *Server {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.DevMode || len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	router.Use(cors.New(corsConfig))

	s := &Server{cfg: cfg, router: router, pipeline: p, tasks: tasks}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api/v1")
	{
		api.GET("/stats", s.handleStats)
		api.POST("/scan", s.handleScan)
		api.GET("/schedule/:name/next", s.handleScheduleNext)
		api.POST("/schedule/:name/trigger", s.handleScheduleTrigger)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleStats reports the statistics of the most recent scan run through
// /api/v1/scan; scheduled runs are not recorded here.
func (s *Server) handleStats(c *gin.Context) {
	s.resultMu.RLock()
	last := s.lastResult
	s.resultMu.RUnlock()

	if last == nil || last.Scan == nil {
		c.JSON(http.StatusOK, gin.H{"scanned": false})
		return
	}
	files, dirs, bytes := last.Scan.Stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"scanned":        true,
		"files":          files,
		"directories":    dirs,
		"total_bytes":    bytes,
		"errors":         len(last.Scan.Errors),
		"elapsed_millis": last.Scan.Elapsed.Milliseconds(),
		"cancelled":      last.Scan.Cancelled,
	})
}

// handleScan runs one pipeline pass synchronously and reports its outcome.
// A production deployment would likely route this through a scheduler.Task
// instead; it is exposed directly here for operators who want an immediate,
// out-of-band scan.
func (s *Server) handleScan(c *gin.Context) {
	if s.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no pipeline configured"})
		return
	}

	result, err := s.pipeline.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.resultMu.Lock()
	s.lastResult = result
	s.resultMu.Unlock()

	if result.Skipped {
		c.JSON(http.StatusConflict, gin.H{"error": "scan already in progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files_processed": len(result.Files)})
}

func (s *Server) handleScheduleNext(c *gin.Context) {
	task, ok := s.tasks.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	next, err := task.NextRunTime()
	if err != nil {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"next_run_time": next})
}

func (s *Server) handleScheduleTrigger(c *gin.Context) {
	task, ok := s.tasks.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	if err := task.TriggerNow(); err != nil {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": c.Param("name")})
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
