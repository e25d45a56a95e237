// Package server exposes the censor service over HTTP.
package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/client"
	"github.com/phoenix4ge/censor/store"
	"github.com/phoenix4ge/censor/syncer"
	"github.com/phoenix4ge/censor/threshold"
)

// HealthPath is the liveness endpoint.
const HealthPath = "/healthz"

// ActorHeader names the administrator behind a configuration change.
const ActorHeader = "X-Actor"

// Service is the part of *client.Client the API serves.
type Service interface {
	Moderate(ctx context.Context, in client.ModerateInput) (*client.ModerateResult, error)
	Moderation(ctx context.Context, requestID string) (*store.ModerationRecord, error)

	Model(ctx context.Context, uc censor.UsageContext) (*store.ModelRecord, error)
	UpdateModel(ctx context.Context, uc censor.UsageContext, m threshold.Model, actor string) (*store.ModelRecord, error)
	GrantOverride(ctx context.Context, uc censor.UsageContext, category, actor, reason string) (*store.ModelRecord, error)
	RevokeOverride(ctx context.Context, uc censor.UsageContext, category, actor string) (*store.ModelRecord, error)

	Push(ctx context.Context, uc censor.UsageContext) (*syncer.Outcome, error)
	Pull(ctx context.Context, uc censor.UsageContext) (*syncer.Outcome, error)
	Reconcile(ctx context.Context, uc censor.UsageContext) (*client.ReconcileResult, error)
	AcceptRecommendation(ctx context.Context, uc censor.UsageContext, out *syncer.Outcome, actor string) (*store.ModelRecord, error)
	SyncHistory(ctx context.Context, filter store.SyncFilter) ([]store.SyncRecord, error)

	Ping(ctx context.Context) error
}

var _ Service = (*client.Client)(nil)

// Config configures the HTTP server.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration

	// BodyLimit bounds uploaded images.
	BodyLimit int

	// MetricsPath serves Registry when both are set.
	MetricsPath string
	Registry    *prometheus.Registry
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 15 * time.Second,
		BodyLimit:       25 << 20,
		MetricsPath:     "/metrics",
	}
}

// Server is the censor HTTP API.
type Server struct {
	app    *fiber.App
	svc    Service
	config Config
	log    logrus.FieldLogger
}

// New creates the server and registers its routes.
func New(svc Service, config Config, logger logrus.FieldLogger) *Server {
	if config.BodyLimit <= 0 {
		config.BodyLimit = DefaultConfig().BodyLimit
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             config.BodyLimit,
		ReadTimeout:           60 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})
	app.Use(recover.New())

	s := &Server{
		app:    app,
		svc:    svc,
		config: config,
		log:    logger.WithField("component", "http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get(HealthPath, s.health)

	if s.config.Registry != nil && s.config.MetricsPath != "" {
		handler := fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{Registry: s.config.Registry}))
		s.app.Get(s.config.MetricsPath, func(c *fiber.Ctx) error {
			handler(c.Context())
			return nil
		})
	}

	v1 := s.app.Group("/v1")
	v1.Post("/moderate", s.moderate)
	v1.Get("/moderations/:request_id", s.getModeration)

	v1.Get("/models/:context", s.getModel)
	v1.Put("/models/:context", s.putModel)
	v1.Post("/models/:context/overrides", s.grantOverride)
	v1.Delete("/models/:context/overrides/:category", s.revokeOverride)

	v1.Get("/sync/history", s.syncHistory)
	v1.Post("/sync/:context/push", s.push)
	v1.Post("/sync/:context/pull", s.pull)
	v1.Post("/sync/:context/reconcile", s.reconcile)
	v1.Post("/sync/:context/accept", s.accept)
}

// App returns the underlying fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.log.WithField("addr", s.config.Addr).Info("http server listening")
	return s.app.Listen(s.config.Addr)
}

// Shutdown stops accepting requests and waits for the running ones.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(s.config.ShutdownTimeout)
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.svc.Ping(c.UserContext()); err != nil {
		s.log.WithError(err).Warn("health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
