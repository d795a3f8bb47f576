package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
	"github.com/mantonx/dicomingest/internal/middleware"
	"github.com/mantonx/dicomingest/internal/modules/modulemanager"
)

const shutdownTimeout = 10 * time.Second

// Server serves the health endpoint and every module's routes
type Server struct {
	cfg      config.ServerConfig
	registry *modulemanager.ModuleRegistry
	router   *gin.Engine
	logger   hclog.Logger
}

// New builds the router for the modules in registry. Modules must already
// be loaded.
func New(cfg config.ServerConfig, registry *modulemanager.ModuleRegistry, logger hclog.Logger) *Server {
	logger = logger.Named("http")
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.ErrorLogger(s.logger))

	// CORS for local dashboards
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/api/health", s.health)

	s.registry.RegisterRoutes(r)
	return r
}

// health reports every module; any unhealthy module fails the check
func (s *Server) health(c *gin.Context) {
	modules := s.registry.HealthCheck(c.Request.Context())

	status := http.StatusOK
	overall := modulemanager.HealthStateHealthy
	for _, h := range modules {
		switch h.Status {
		case modulemanager.HealthStateUnhealthy:
			status = http.StatusServiceUnavailable
			overall = modulemanager.HealthStateUnhealthy
		case modulemanager.HealthStateDegraded:
			if overall == modulemanager.HealthStateHealthy {
				overall = modulemanager.HealthStateDegraded
			}
		}
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"modules": modules,
	})
}

// Run serves on cfg.Listen until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
