// Package api exposes the run history and stats over a read-only HTTP API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/storage"
)

// Config holds API server configuration
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8787",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Server is the read-only HTTP API server
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	repo       storage.Repository
	logger     *slog.Logger
}

// NewServer creates the API server and registers its routes
func NewServer(cfg Config, repo storage.Repository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		config: cfg,
		router: router,
		repo:   repo,
		logger: logger,
	}

	router.GET("/health", s.getHealth)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:id", s.getRun)
		v1.GET("/stats", s.getStats)
	}

	return s
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) listRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 {
		limit = 20
	}

	runs, err := s.repo.ListRuns(limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// runDetail is a run with its per-match records
type runDetail struct {
	storage.MatchRun
	Results []storage.MatchResultRecord `json:"results"`
}

func (s *Server) getRun(c *gin.Context) {
	runID := c.Param("id")

	run, err := s.repo.GetRun(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	results, err := s.repo.GetRunResults(runID)
	if err != nil {
		s.logger.Error("failed to load run results", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run results"})
		return
	}

	c.JSON(http.StatusOK, runDetail{MatchRun: *run, Results: results})
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.repo.GetStats()
	if err != nil {
		s.logger.Error("failed to load stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Start runs the HTTP server until it is shut down
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", s.config.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}
