package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jackhman/opsli-boot/internal/service"
)

const (
	LocalAccountID = "account_id"
	LocalUsername  = "username"
	LocalToken     = "token"
)

// TokenFromRequest reads the session token from the header called name,
// falling back to the query parameter of the same name. The header wins.
func TokenFromRequest(c *fiber.Ctx, name string) string {
	if token := c.Get(name); token != "" {
		return token
	}
	return c.Query(name)
}

// AuthMiddleware lets a request through only with a live session and
// stores the account behind it in fiber.Locals for downstream handlers.
func AuthMiddleware(sessions *service.SessionService, tokenName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := TokenFromRequest(c, tokenName)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing session token",
			})
		}

		if !sessions.VerifySession(c.UserContext(), token) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired session",
			})
		}

		c.Locals(LocalAccountID, sessions.ResolveAccountID(token))
		c.Locals(LocalUsername, sessions.ResolveUsername(token))
		c.Locals(LocalToken, token)

		return c.Next()
	}
}

// AccountID returns the account stored by AuthMiddleware
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalAccountID).(string)
	return id
}

// Token returns the session token stored by AuthMiddleware
func Token(c *fiber.Ctx) string {
	token, _ := c.Locals(LocalToken).(string)
	return token
}
