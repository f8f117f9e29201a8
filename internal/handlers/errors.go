package handlers

import (
	"errors"
	"log"

	"agentforge/internal/models"
	"agentforge/internal/orchestrator"
	"agentforge/internal/services"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service and orchestrator errors to a status code and a fiber.Map body
func respondError(c *fiber.Ctx, err error, action string) error {
	status := fiber.StatusInternalServerError

	switch {
	case orchestrator.IsValidation(err), errors.Is(err, services.ErrNoSpecifications):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, services.ErrProjectNotFound),
		errors.Is(err, services.ErrDocumentNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, services.ErrInvocationInProgress):
		status = fiber.StatusConflict
	case orchestrator.IsCancellation(err):
		status = fiber.StatusServiceUnavailable
	}

	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [CODEGEN] %s: %v", action, err)
	}

	return c.Status(status).JSON(fiber.Map{
		"error":   action,
		"message": err.Error(),
	})
}
