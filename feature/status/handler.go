package status

import (
	"doc-reconciler/core/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxHistory = 200

// Handler handles HTTP requests for reconciler status.
type Handler struct {
	service  *Service
	gatherer prometheus.Gatherer
}

// NewHandler creates a new HTTP handler. gatherer may be nil to omit /metrics.
func NewHandler(service *Service, gatherer prometheus.Gatherer) *Handler {
	return &Handler{service: service, gatherer: gatherer}
}

// RegisterRoutes registers the status routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/health", h.HandleHealth)

	group := app.Group("/status")
	group.Get("/", h.HandleStatus)
	group.Get("/history", h.HandleHistory)

	if h.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// HandleHealth reports liveness and the bus connection state.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(h.service.Health())
}

// HandleStatus returns the report of the last finished cycle.
func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	report, ok := h.service.Last()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no cycle has finished yet",
		})
	}
	return c.JSON(report)
}

// HandleHistory returns recent cycles, newest first. Query: limit (default 20).
func (h *Handler) HandleHistory(c *fiber.Ctx) error {
	if !h.service.HistoryEnabled() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "cycle history is not enabled",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > maxHistory {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 200",
		})
	}

	runs, err := h.service.History(c.Context(), limit)
	if err != nil {
		logger.WithRayID(h.service.logger, c).Error("Failed to list cycle history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(runs)
}
