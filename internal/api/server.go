package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/middleware"
	"github.com/hla-match-prediction/internal/service"
)

// ProbabilityCalculator computes the match probability of one patient/donor pair.
type ProbabilityCalculator interface {
	CalculateMatchProbability(ctx context.Context, input service.MatchProbabilityInput) (*domain.MatchProbabilityResult, error)
}

// SubjectMatcher imputes a patient/donor pair and exposes its genotype pair comparisons.
type SubjectMatcher interface {
	MatchSubjects(ctx context.Context, input service.GenotypeMatcherInput) (*service.GenotypeMatcherResult, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	probability   ProbabilityCalculator
	matcher       SubjectMatcher
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	startedAt     time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, probability ProbabilityCalculator, matcher SubjectMatcher, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	if gin.Mode() != gin.TestMode {
		if cfg.Logging.Level == "debug" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())

	server := &Server{
		configManager: configManager,
		probability:   probability,
		matcher:       matcher,
		logger:        logger,
		router:        router,
		startedAt:     time.Now(),
		checks:        make(map[string]HealthCheck),
	}

	server.setupRoutes()

	return server
}

// AddHealthCheck registers a dependency reported by GET /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
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
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/match-probability", s.handleMatchProbability)
		v1.POST("/genotype-matches", s.handleGenotypeMatches)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.RLock()
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	dependencies := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(ctx); err != nil {
			dependencies[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		dependencies[name] = "ok"
	}

	cfg := s.configManager.GetConfig()
	c.JSON(code, gin.H{
		"status":       status,
		"timestamp":    time.Now().UTC(),
		"version":      cfg.MCP.ServerVersion,
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
		"dependencies": dependencies,
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+middleware.RequestIDHeader)
		c.Header("Access-Control-Expose-Headers", middleware.RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
