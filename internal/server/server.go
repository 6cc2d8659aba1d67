// Package server runs the local diagnostics endpoint of the chat client:
// health probes, Prometheus metrics and a summary of the client state.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"ecochat/internal/observability"
)

// Transport reports the push connection state.
type Transport interface {
	Connected() bool
}

// Cache is the optional Redis snapshot store.
type Cache interface {
	Enabled() bool
	Ping(ctx context.Context) error
}

// State is the client summary served on /state.
type State struct {
	Connected   bool            `json:"connected"`
	MemberID    int64           `json:"memberId"`
	OpenRoomID  int64           `json:"openRoomId,omitempty"`
	Rooms       int             `json:"rooms"`
	Invitations int             `json:"invitations"`
	TotalUnread int             `json:"totalUnread"`
	Flags       map[string]bool `json:"flags,omitempty"`
}

// Options wires a Server.
type Options struct {
	Addr      string
	Transport Transport
	Cache     Cache
	State     func() State
}

// Server is the diagnostics HTTP server.
type Server struct {
	opts Options
	app  *fiber.App
}

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

func metricsMiddleware() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New("ecochat-client")
	})
	return prom
}

// New builds the fiber app. Call Start to listen.
func New(opts Options) *Server {
	s := &Server{opts: opts}
	app := fiber.New(fiber.Config{
		AppName:               "ecochat diagnostics",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metricsMiddleware().Middleware)
	app.Use(requestLogger())
}

// SetupRoutes configures the diagnostics routes
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/state", s.StateSummary)
	metricsMiddleware().RegisterAt(app, "/metrics")
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		rid, _ := c.Locals("requestid").(string)
		observability.GlobalLogger.Debug("diagnostics request",
			slog.String("request_id", rid),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return err
	}
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether the push connection is up and the cache,
// when configured, answers. A client without Redis is still ready.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	transportStatus := "connected"
	if s.opts.Transport == nil || !s.opts.Transport.Connected() {
		transportStatus = "reconnecting"
	}

	redisStatus := "disabled"
	if s.opts.Cache != nil && s.opts.Cache.Enabled() {
		redisStatus = "healthy"
		if err := s.opts.Cache.Ping(ctx); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if transportStatus != "connected" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"transport": transportStatus,
			"redis":     redisStatus,
		},
		"time": time.Now(),
	})
}

// StateSummary serves the current client state.
func (s *Server) StateSummary(c *fiber.Ctx) error {
	if s.opts.State == nil {
		return fiber.NewError(fiber.StatusNotFound, "state not available")
	}
	return c.JSON(s.opts.State())
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	observability.GlobalLogger.Info("diagnostics server listening", slog.String("addr", s.opts.Addr))
	return s.app.Listen(s.opts.Addr)
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
