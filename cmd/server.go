package cmd

import (
	"time"

	"doc-reconciler/core/bus"
	"doc-reconciler/core/history"
	"doc-reconciler/core/loader"
	"doc-reconciler/core/logger"
	"doc-reconciler/core/metrics"
	"doc-reconciler/core/middleware/auth"
	"doc-reconciler/core/middleware/rayid"
	"doc-reconciler/core/reconcile"
	"doc-reconciler/core/server"
	"doc-reconciler/feature/status"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const statusShutdownTimeout = 5 * time.Second

// newStatusApp builds the fiber app serving health, cycle status, history and metrics.
func newStatusApp(cfg server.Config, loop *reconcile.Loop, hist history.Recorder, handle *bus.Handle, m *metrics.Metrics, logg *zap.Logger) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// RayID first so every later log line can carry it
	app.Use(rayid.New())

	app.Use(func(c *fiber.Ctx) error {
		l := logger.WithRayID(logg, c)
		l.Debug("Request started",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
		)
		err := c.Next()
		if err != nil {
			l.Error("Request error", zap.Error(err))
		}
		return err
	})

	// Probes reach /health without a key
	app.Use(auth.New(auth.Config{ApiKey: cfg.ApiKey, Skip: []string{"/health"}}))

	busState := func() string { return handle.State().String() }
	svc := status.NewService(loop, hist, busState, logg)

	mgr := loader.NewManager()
	mgr.Register(status.NewFeature(svc, m.Registry()))

	loaded, err := mgr.LoadAll(app)
	if err != nil {
		return nil, err
	}
	logg.Info("Status features loaded", zap.Strings("features", loaded))
	return app, nil
}
