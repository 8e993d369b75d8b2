package handlers

import (
	"time"

	"lifeline/internal/registry"
	"lifeline/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	registry *registry.Registry
	redis    *services.RedisService // nil in single-instance mode
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(reg *registry.Registry, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{registry: reg, redis: redis}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	snapshot := h.registry.Snapshot()

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "healthy"
		if err := h.redis.Ping(c.Context()); err != nil {
			redisStatus = "unreachable"
		}
	}

	return c.JSON(fiber.Map{
		"status":          "healthy",
		"connections":     h.registry.Count(),
		"active_sessions": snapshot.ActiveSessions,
		"redis":           redisStatus,
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}
