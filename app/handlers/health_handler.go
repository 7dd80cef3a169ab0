package handlers

import (
	"context"
	"time"

	"github.com/amirphl/Kusanagi/utils"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// HealthCheck probes one dependency
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler reports liveness of the service and its dependencies
type HealthHandler struct {
	responder
	checks  []HealthCheck
	version string
}

func NewHealthHandler(version string, logger *zap.Logger, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{
		responder: newResponder(logger, 3*time.Second),
		checks:    checks,
		version:   version,
	}
}

// Health pings every dependency and answers 503 when one is down.
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} dto.APIResponse
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/health [get]
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/health")
	defer cancel()

	deps := make(fiber.Map, len(h.checks))
	healthy := true
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			healthy = false
			deps[check.Name] = "down"
			h.logger.Warn("health check failed", zap.String("dependency", check.Name), zap.Error(err))
			continue
		}
		deps[check.Name] = "ok"
	}

	data := fiber.Map{
		"status":       "ok",
		"timestamp":    utils.UTCNow().Unix(),
		"version":      h.version,
		"service":      utils.ServiceName,
		"dependencies": deps,
	}
	if !healthy {
		data["status"] = "degraded"
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Service is degraded", "SERVICE_DEGRADED", data)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Service is healthy", data)
}
