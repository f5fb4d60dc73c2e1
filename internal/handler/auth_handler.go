package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jackhman/opsli-boot/internal/handler/middleware"
	"github.com/jackhman/opsli-boot/internal/service"
	"github.com/jackhman/opsli-boot/pkg/validator"
)

type AuthHandler struct {
	authService *service.AuthService
	sessions    *service.SessionService
	validator   *validator.Validator
	tokenName   string
}

func NewAuthHandler(
	authService *service.AuthService,
	sessions *service.SessionService,
	validator *validator.Validator,
	tokenName string,
) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		validator:   validator,
		tokenName:   tokenName,
	}
}

// Login handles user login
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req service.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	resp, err := h.authService.Login(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

// Logout revokes the presented session. Revoking an unknown or already
// revoked session succeeds.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token := middleware.TokenFromRequest(c, h.tokenName)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing session token",
		})
	}

	if err := h.authService.Logout(c.UserContext(), token); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "logged out",
	})
}

// Verify reports whether the presented session is live
// GET /api/v1/auth/verify
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token := middleware.TokenFromRequest(c, h.tokenName)
	if !h.sessions.VerifySession(c.UserContext(), token) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"valid": false,
			"error": "invalid or expired session",
		})
	}

	return c.JSON(fiber.Map{
		"valid":      true,
		"account_id": h.sessions.ResolveAccountID(token),
		"username":   h.sessions.ResolveUsername(token),
	})
}

// Me returns the profile behind the current session
// GET /api/v1/users/me (protected route)
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	profile, err := h.authService.Me(c.UserContext(), middleware.Token(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}
