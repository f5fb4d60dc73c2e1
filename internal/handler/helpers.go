package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/jackhman/opsli-boot/internal/service"
)

var errInvalidBody = errors.New("invalid request body")

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrDuplicateCode),
		errors.Is(err, service.ErrDuplicateID),
		errors.Is(err, service.ErrNodeInUse),
		errors.Is(err, service.ErrVersionConflict):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrParentNotFound),
		errors.Is(err, service.ErrCyclicParent):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, service.ErrOrgNotFound),
		errors.Is(err, service.ErrRoleNotFound),
		errors.Is(err, service.ErrMenuNotFound),
		errors.Is(err, service.ErrAssignmentNotFound),
		errors.Is(err, service.ErrMembershipNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrAccountLocked),
		errors.Is(err, service.ErrAccountInactive),
		errors.Is(err, service.ErrUnauthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, service.ErrIdentityMissing):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrSessionStore):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

// respondError writes err in the {"error": ...} shape. Server-side
// failures are logged and their detail is not sent to the client.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		slog.ErrorContext(c.UserContext(), "request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Any("error", err),
		)
		return c.Status(status).JSON(fiber.Map{
			"error": utils.StatusMessage(status),
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
