// Package http provides the HTTP API for embediq.
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/embediq/backend/internal/auth"
	"github.com/embediq/backend/internal/datasource"
	"github.com/embediq/backend/internal/engine"
	"github.com/embediq/backend/internal/postgres"
)

// InstanceManager is the slice of the manager API the handlers consume.
type InstanceManager interface {
	Acquire(ctx context.Context, tenantID string) (engine.Engine, error)
	Evict(ctx context.Context, tenantID string) error
}

// TokenVerifier authenticates bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.Identity, error)
}

// DocumentStore reads and purges document-status rows.
type DocumentStore interface {
	ListDocuments(ctx context.Context, tenantID string) ([]postgres.DocumentStatus, error)
	PurgeTenant(ctx context.Context, tenantID string) error
}

// DatasourceStore persists per-tenant data source configurations.
type DatasourceStore interface {
	Save(ctx context.Context, tenantID string, cfg datasource.Config) (datasource.Config, error)
	Get(ctx context.Context, tenantID, id string) (datasource.Config, error)
	List(ctx context.Context, tenantID string) ([]datasource.Config, error)
	Update(ctx context.Context, tenantID, id string, cfg datasource.Config) (datasource.Config, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// ConnectionChecker runs live checks against configured data sources.
type ConnectionChecker interface {
	Check(ctx context.Context, cfg datasource.Config) datasource.CheckResult
}

// HealthCheck is one named readiness probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit caps requests per second per client IP on the API routes.
	// Zero uses the default of 20.
	RateLimit float64
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Manager  InstanceManager
	Verifier TokenVerifier
	Store    DocumentStore
	Checks   []HealthCheck

	// Datasources enables the data source management endpoints when set.
	Datasources DatasourceStore

	// Types is the data source type catalog. Defaults to the built-ins.
	Types *datasource.Registry

	// Checker runs live data source checks. Defaults to datasource.NewChecker.
	Checker ConnectionChecker
}

// Server provides HTTP endpoints for embediq.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(cfg *Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("instance manager is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if deps.Store == nil {
		deps.Store = postgres.NewStore(nil, logger)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if deps.Types == nil {
		deps.Types = datasource.NewRegistry()
	}
	if deps.Checker == nil {
		deps.Checker = datasource.NewChecker(logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1",
		middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(s.config.RateLimit))),
		s.requireBearerToken)
	v1.POST("/search", s.handleSearch)
	v1.POST("/query", s.handleQuery)
	v1.POST("/documents", s.handleInsertDocument)
	v1.GET("/documents", s.handleListDocuments)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.DELETE("/admin/tenants/:id", s.handleEvictTenant)

	if s.deps.Datasources != nil {
		ds := v1.Group("/datasources")
		ds.GET("/types", s.handleListDatasourceTypes)
		ds.GET("/types/:name", s.handleGetDatasourceType)
		ds.POST("", s.handleCreateDatasource)
		ds.GET("", s.handleListDatasources)
		ds.GET("/:id", s.handleGetDatasource)
		ds.PUT("/:id", s.handleUpdateDatasource)
		ds.DELETE("/:id", s.handleDeleteDatasource)
		ds.POST("/:id/validate", s.handleCheckDatasource)
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
