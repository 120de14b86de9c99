// Package server exposes the admin API: inspect tools, runs and cooldowns,
// trigger runs, reload plugins, and serve metrics.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/registry"
	"github.com/sentrakit/agentcore/internal/runner"
	"github.com/sentrakit/agentcore/internal/store"
	"github.com/sentrakit/agentcore/internal/telemetry"
)

// RunLauncher starts runs and lists the tool vocabulary. *runner.Runner is
// the production implementation.
type RunLauncher interface {
	Run(ctx context.Context, objective string, opts registry.CallOptions, conversation []string) runner.RunResult
	ListAvailableTools() []registry.Descriptor
}

// Server wires the admin API handlers to their dependencies. Store may be
// nil; run endpoints then report persistence as unavailable.
type Server struct {
	cfg       config.ServerConfig
	registry  *registry.Registry
	launcher  RunLauncher
	store     *store.Store
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func New(cfg config.ServerConfig, reg *registry.Registry, launcher RunLauncher, st *store.Store, tel *telemetry.Telemetry) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("server.jwt_secret not configured")
	}
	return &Server{
		cfg:       cfg,
		registry:  reg,
		launcher:  launcher,
		store:     st,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[SERVER] ", log.LstdFlags),
	}, nil
}

// Echo builds the configured echo instance with all routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s: %v", code, req.Method, req.URL.Path, err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/login", s.login)

	protected := api.Group("")
	protected.Use(authMiddleware([]byte(s.cfg.JWTSecret)))
	protected.GET("/tools", s.listTools)
	protected.GET("/runs", s.listRuns)
	protected.GET("/runs/:id", s.getRun)
	protected.GET("/cooldowns", s.listCooldowns)
	protected.GET("/costs", s.costs)
	protected.POST("/run", s.startRun)
	protected.POST("/reload/plugins", s.reloadPlugins)
	protected.POST("/reload/envs", s.reloadEnvs)

	return e
}

// Start runs the admin API until the listener fails.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Addr
	}
	if addr == "" {
		addr = ":8642"
	}
	e := s.Echo()
	s.logger.Printf("listening on %s", addr)
	return e.Start(addr)
}
