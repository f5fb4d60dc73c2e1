package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jackhman/opsli-boot/internal/handler/middleware"
	"github.com/jackhman/opsli-boot/internal/service"
)

// UserHandler serves the derived state of the current account
type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetMyRoles returns the current account's roles
// GET /api/v1/users/me/roles
func (h *UserHandler) GetMyRoles(c *fiber.Ctx) error {
	roles, err := h.userService.Roles(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"roles": roles,
		"count": len(roles),
	})
}

// GetMyPermissions returns the current account's permission codes
// GET /api/v1/users/me/perms
func (h *UserHandler) GetMyPermissions(c *fiber.Ctx) error {
	perms, err := h.userService.Permissions(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"permissions": perms,
		"count":       len(perms),
	})
}

// GetMyMenus returns the menus the current account may open
// GET /api/v1/users/me/menus
func (h *UserHandler) GetMyMenus(c *fiber.Ctx) error {
	menus, err := h.userService.Menus(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"menus": menus,
		"count": len(menus),
	})
}
