package repository

import (
	"context"

	"github.com/jackhman/opsli-boot/internal/domain"
)

type RoleRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Role, error)

	// User-Role assignments
	AssignRoleToUser(ctx context.Context, userID, roleID string) error
	RemoveRoleFromUser(ctx context.Context, userID, roleID string) error
	GetUserRoles(ctx context.Context, userID string) ([]*domain.Role, error)
	GetUsersWithRole(ctx context.Context, roleID string) ([]string, error)

	// Menus and the permission codes they carry
	SetRoleMenus(ctx context.Context, roleID string, menuIDs []string) error
	GetUserMenus(ctx context.Context, userID string) ([]*domain.Menu, error)
	GetUserPermissions(ctx context.Context, userID string) ([]string, error)
}
