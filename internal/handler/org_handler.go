package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/service"
	"github.com/jackhman/opsli-boot/pkg/validator"
)

type OrgHandler struct {
	orgService *service.OrgService
	validator  *validator.Validator
}

func NewOrgHandler(orgService *service.OrgService, validator *validator.Validator) *OrgHandler {
	return &OrgHandler{
		orgService: orgService,
		validator:  validator,
	}
}

type orgRequest struct {
	ID       string `json:"id" validate:"omitempty,max=64"`
	ParentID string `json:"parent_id" validate:"omitempty,max=64"`
	TenantID string `json:"tenant_id" validate:"omitempty,max=64"`
	OrgCode  string `json:"org_code" validate:"required,code,max=64"`
	OrgName  string `json:"org_name" validate:"required,max=128"`
	Version  int64  `json:"version" validate:"gte=0"`
}

func (r orgRequest) org() *domain.Org {
	return &domain.Org{
		ID:       r.ID,
		ParentID: r.ParentID,
		TenantID: r.TenantID,
		OrgCode:  r.OrgCode,
		OrgName:  r.OrgName,
		Version:  r.Version,
	}
}

type orgIDsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// bind parses and validates the body into req
func (h *OrgHandler) bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return errInvalidBody
	}
	return h.validator.Validate(req)
}

// CreateOrg inserts a node
// POST /api/v1/orgs
func (h *OrgHandler) CreateOrg(c *fiber.Ctx) error {
	var req orgRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	org, err := h.orgService.Insert(c.UserContext(), req.org())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(org)
}

// GetOrg returns one node
// GET /api/v1/orgs/:id
func (h *OrgHandler) GetOrg(c *fiber.Ctx) error {
	org, err := h.orgService.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(org)
}

// UpdateOrg rewrites a node and cascades to its subtree
// PUT /api/v1/orgs/:id
func (h *OrgHandler) UpdateOrg(c *fiber.Ctx) error {
	var req orgRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	req.ID = c.Params("id")

	org, err := h.orgService.Update(c.UserContext(), req.org())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(org)
}

// DeleteOrg removes a node with its subtree
// DELETE /api/v1/orgs/:id
func (h *OrgHandler) DeleteOrg(c *fiber.Ctx) error {
	if err := h.orgService.Delete(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteOrgs removes several nodes with their subtrees, all or nothing
// POST /api/v1/orgs/delete
func (h *OrgHandler) DeleteOrgs(c *fiber.Ctx) error {
	var req orgIDsRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.orgService.DeleteAll(c.UserContext(), req.IDs); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HasChildren reports child counts for each requested parent
// POST /api/v1/orgs/has-children
func (h *OrgHandler) HasChildren(c *fiber.Ctx) error {
	var req orgIDsRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	counts, err := h.orgService.HasChildren(c.UserContext(), req.IDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(counts)
}

// ListChildren returns the direct children of a node; "0" lists the top level
// GET /api/v1/orgs/:id/children
func (h *OrgHandler) ListChildren(c *fiber.Ctx) error {
	children, err := h.orgService.ListChildren(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if children == nil {
		children = []*domain.Org{}
	}
	return c.JSON(children)
}

// BindUser adds a user to an org
// POST /api/v1/orgs/:id/users/:userId
func (h *OrgHandler) BindUser(c *fiber.Ctx) error {
	if err := h.orgService.BindUser(c.UserContext(), c.Params("userId"), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnbindUser removes a user from an org
// DELETE /api/v1/orgs/:id/users/:userId
func (h *OrgHandler) UnbindUser(c *fiber.Ctx) error {
	if err := h.orgService.UnbindUser(c.UserContext(), c.Params("userId"), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
