package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jackhman/opsli-boot/internal/handler/middleware"
	"github.com/jackhman/opsli-boot/internal/service"
)

// Permission codes guarding the admin surface
const (
	PermOrgSelect      = "system_org_select"
	PermOrgInsert      = "system_org_insert"
	PermOrgUpdate      = "system_org_update"
	PermOrgDelete      = "system_org_delete"
	PermOrgMembers     = "system_org_user"
	PermUserRoleGrant  = "system_user_grant"
	PermRoleMenusGrant = "system_role_grant"
)

type Handlers struct {
	Auth   *AuthHandler
	User   *UserHandler
	Org    *OrgHandler
	Role   *RoleHandler
	Health *HealthHandler
}

func SetupRoutes(
	app *fiber.App,
	h Handlers,
	authMiddleware fiber.Handler,
	users *service.UserService,
) {
	require := func(perm string) fiber.Handler {
		return middleware.RequirePermission(users, perm)
	}

	// Health checks (public)
	app.Get("/health", h.Health.Health)
	app.Get("/ready", h.Health.Ready)

	// API v1
	api := app.Group("/api/v1")

	// Auth routes (public)
	auth := api.Group("/auth")
	auth.Post("/login", h.Auth.Login)
	auth.Post("/logout", h.Auth.Logout)
	auth.Get("/verify", h.Auth.Verify)

	// Current account (protected)
	me := api.Group("/users/me", authMiddleware)
	me.Get("/", h.Auth.Me)
	me.Get("/roles", h.User.GetMyRoles)
	me.Get("/perms", h.User.GetMyPermissions)
	me.Get("/menus", h.User.GetMyMenus)

	// Organization tree
	orgs := api.Group("/orgs", authMiddleware)
	orgs.Post("/", require(PermOrgInsert), h.Org.CreateOrg)
	orgs.Post("/delete", require(PermOrgDelete), h.Org.DeleteOrgs)
	orgs.Post("/has-children", require(PermOrgSelect), h.Org.HasChildren)
	orgs.Get("/:id", require(PermOrgSelect), h.Org.GetOrg)
	orgs.Put("/:id", require(PermOrgUpdate), h.Org.UpdateOrg)
	orgs.Delete("/:id", require(PermOrgDelete), h.Org.DeleteOrg)
	orgs.Get("/:id/children", require(PermOrgSelect), h.Org.ListChildren)
	orgs.Post("/:id/users/:userId", require(PermOrgMembers), h.Org.BindUser)
	orgs.Delete("/:id/users/:userId", require(PermOrgMembers), h.Org.UnbindUser)

	// Role grants
	admin := api.Group("/admin", authMiddleware)
	admin.Post("/users/:userId/roles/:roleId", require(PermUserRoleGrant), h.Role.AssignRoleToUser)
	admin.Delete("/users/:userId/roles/:roleId", require(PermUserRoleGrant), h.Role.RemoveRoleFromUser)
	admin.Put("/roles/:id/menus", require(PermRoleMenusGrant), h.Role.SetRoleMenus)
}
