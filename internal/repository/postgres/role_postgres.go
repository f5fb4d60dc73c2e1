package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository"
)

type roleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new PostgreSQL role repository
func NewRoleRepository(db *sqlx.DB) repository.RoleRepository {
	return &roleRepository{db: db}
}

// GetByID retrieves a role by ID
func (r *roleRepository) GetByID(ctx context.Context, id string) (*domain.Role, error) {
	query := `SELECT id, role_code, role_name, tenant_id, created_at, updated_at FROM sys_role WHERE id = $1`

	var role domain.Role
	err := conn(ctx, r.db).GetContext(ctx, &role, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// AssignRoleToUser assigns a role to a user
func (r *roleRepository) AssignRoleToUser(ctx context.Context, userID, roleID string) error {
	query := `
		INSERT INTO sys_user_role_ref (user_id, role_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, role_id) DO NOTHING`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, userID, roleID); err != nil {
		return fmt.Errorf("failed to assign role to user: %w", translateError(err))
	}
	return nil
}

// RemoveRoleFromUser removes a role from a user
func (r *roleRepository) RemoveRoleFromUser(ctx context.Context, userID, roleID string) error {
	query := `DELETE FROM sys_user_role_ref WHERE user_id = $1 AND role_id = $2`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to remove role from user: %w", err)
	}
	return expectOne(result, fmt.Errorf("user role assignment: %w", repository.ErrNotFound))
}

// GetUserRoles retrieves every role held by a user
func (r *roleRepository) GetUserRoles(ctx context.Context, userID string) ([]*domain.Role, error) {
	query := `
		SELECT r.id, r.role_code, r.role_name, r.tenant_id, r.created_at, r.updated_at
		FROM sys_role r
		INNER JOIN sys_user_role_ref ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.role_code`

	var roles []*domain.Role
	if err := conn(ctx, r.db).SelectContext(ctx, &roles, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	return roles, nil
}

// GetUsersWithRole lists the users holding a role
func (r *roleRepository) GetUsersWithRole(ctx context.Context, roleID string) ([]string, error) {
	query := `SELECT user_id FROM sys_user_role_ref WHERE role_id = $1 ORDER BY user_id`

	var ids []string
	if err := conn(ctx, r.db).SelectContext(ctx, &ids, query, roleID); err != nil {
		return nil, fmt.Errorf("failed to get users with role: %w", err)
	}
	return ids, nil
}

// SetRoleMenus replaces the menus bound to a role
func (r *roleRepository) SetRoleMenus(ctx context.Context, roleID string, menuIDs []string) error {
	return withinTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		if _, err := q.ExecContext(ctx, `DELETE FROM sys_role_menu_ref WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to clear role menus: %w", err)
		}

		query := `
			INSERT INTO sys_role_menu_ref (role_id, menu_id)
			VALUES ($1, $2)
			ON CONFLICT (role_id, menu_id) DO NOTHING`
		for _, menuID := range menuIDs {
			if _, err := q.ExecContext(ctx, query, roleID, menuID); err != nil {
				return fmt.Errorf("failed to bind menu %s: %w", menuID, translateError(err))
			}
		}
		return nil
	})
}

// GetUserMenus retrieves the navigable menus reachable through a user's roles
func (r *roleRepository) GetUserMenus(ctx context.Context, userID string) ([]*domain.Menu, error) {
	query := `
		SELECT DISTINCT m.id, m.parent_id, m.menu_name, m.url, m.perms, m.type, m.sort_no
		FROM sys_menu m
		INNER JOIN sys_role_menu_ref rm ON rm.menu_id = m.id
		INNER JOIN sys_user_role_ref ur ON ur.role_id = rm.role_id
		WHERE ur.user_id = $1 AND m.type = $2
		ORDER BY m.sort_no, m.id`

	var menus []*domain.Menu
	if err := conn(ctx, r.db).SelectContext(ctx, &menus, query, userID, domain.MenuTypeMenu); err != nil {
		return nil, fmt.Errorf("failed to get user menus: %w", err)
	}
	return menus, nil
}

// GetUserPermissions retrieves the distinct permission codes granted to a user
func (r *roleRepository) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT m.perms
		FROM sys_menu m
		INNER JOIN sys_role_menu_ref rm ON rm.menu_id = m.id
		INNER JOIN sys_user_role_ref ur ON ur.role_id = rm.role_id
		WHERE ur.user_id = $1 AND m.perms <> ''
		ORDER BY m.perms`

	var perms []string
	if err := conn(ctx, r.db).SelectContext(ctx, &perms, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}
	return perms, nil
}
