package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jackhman/opsli-boot/internal/service"
	"github.com/jackhman/opsli-boot/pkg/validator"
)

type RoleHandler struct {
	roleService *service.RoleService
	validator   *validator.Validator
}

func NewRoleHandler(roleService *service.RoleService, validator *validator.Validator) *RoleHandler {
	return &RoleHandler{
		roleService: roleService,
		validator:   validator,
	}
}

// AssignRoleToUser assigns a role to a user (admin only)
// POST /api/v1/admin/users/:userId/roles/:roleId
func (h *RoleHandler) AssignRoleToUser(c *fiber.Ctx) error {
	err := h.roleService.AssignRoleToUser(c.UserContext(), c.Params("userId"), c.Params("roleId"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "role assigned",
	})
}

// RemoveRoleFromUser removes a role from a user (admin only)
// DELETE /api/v1/admin/users/:userId/roles/:roleId
func (h *RoleHandler) RemoveRoleFromUser(c *fiber.Ctx) error {
	err := h.roleService.RemoveRoleFromUser(c.UserContext(), c.Params("userId"), c.Params("roleId"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "role removed",
	})
}

// SetRoleMenus replaces the menus and buttons granted by a role (admin only)
// PUT /api/v1/admin/roles/:id/menus
func (h *RoleHandler) SetRoleMenus(c *fiber.Ctx) error {
	var req struct {
		MenuIDs []string `json:"menu_ids" validate:"dive,required"`
	}

	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, errInvalidBody.Error())
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.roleService.SetRoleMenus(c.UserContext(), c.Params("id"), req.MenuIDs); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "role menus updated",
		"count":   len(req.MenuIDs),
	})
}
