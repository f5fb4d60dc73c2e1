package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/jackhman/opsli-boot/internal/service"
)

// RequirePermission lets the request through when the authenticated
// account holds perm. Must run after AuthMiddleware.
func RequirePermission(users *service.UserService, perm string) fiber.Handler {
	return RequireAnyPermission(users, perm)
}

// RequireAnyPermission lets the request through when the account holds at
// least one of perms.
func RequireAnyPermission(users *service.UserService, perms ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountID := AccountID(c)
		if accountID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		for _, perm := range perms {
			ok, err := users.HasPermission(c.UserContext(), accountID, perm)
			if err != nil {
				slog.ErrorContext(c.UserContext(), "permission check failed",
					slog.String("account_id", accountID),
					slog.String("permission", perm),
					slog.Any("error", err),
				)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "failed to check permission",
				})
			}
			if ok {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":                "forbidden: missing required permission",
			"required_permissions": perms,
		})
	}
}
