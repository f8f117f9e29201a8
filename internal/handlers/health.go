package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// HealthHandler handles health check requests
type HealthHandler struct {
	remoteEnabled bool
	backend       string
	checks        map[string]HealthCheck
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(remoteEnabled bool, backend string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{remoteEnabled: remoteEnabled, backend: backend, checks: checks}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := "healthy"
	dependencies := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			dependencies[name] = err.Error()
			status = "degraded"
			continue
		}
		dependencies[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":        status,
		"agent_enabled": h.remoteEnabled,
		"store_backend": h.backend,
		"dependencies":  dependencies,
		"timestamp":     time.Now().Format(time.RFC3339),
	})
}
