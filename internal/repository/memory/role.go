package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository"
)

// RoleRepository implements repository.RoleRepository on a Store
type RoleRepository struct {
	s *Store
}

var _ repository.RoleRepository = (*RoleRepository)(nil)

func (r *RoleRepository) GetByID(ctx context.Context, id string) (*domain.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	role, ok := r.s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, repository.ErrNotFound)
	}
	return &role, nil
}

func (r *RoleRepository) AssignRoleToUser(ctx context.Context, userID, roleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, repository.ErrNotFound)
	}
	addTo(r.s.userRoles, userID, roleID)
	return nil
}

func (r *RoleRepository) RemoveRoleFromUser(ctx context.Context, userID, roleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.userRoles[userID][roleID]; !ok {
		return fmt.Errorf("user role assignment: %w", repository.ErrNotFound)
	}
	delete(r.s.userRoles[userID], roleID)
	return nil
}

func (r *RoleRepository) GetUserRoles(ctx context.Context, userID string) ([]*domain.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var roles []*domain.Role
	for _, id := range r.s.userRoles[userID].sorted() {
		if role, ok := r.s.roles[id]; ok {
			roles = append(roles, &role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].RoleCode < roles[j].RoleCode })
	return roles, nil
}

func (r *RoleRepository) GetUsersWithRole(ctx context.Context, roleID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var ids []string
	for userID, roles := range r.s.userRoles {
		if _, ok := roles[roleID]; ok {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RoleRepository) SetRoleMenus(ctx context.Context, roleID string, menuIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, repository.ErrNotFound)
	}
	menus := make(set, len(menuIDs))
	for _, id := range menuIDs {
		if _, ok := r.s.menus[id]; !ok {
			return fmt.Errorf("menu %s: %w", id, repository.ErrNotFound)
		}
		menus[id] = struct{}{}
	}
	r.s.roleMenus[roleID] = menus
	return nil
}

func (r *RoleRepository) GetUserMenus(ctx context.Context, userID string) ([]*domain.Menu, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var menus []*domain.Menu
	for _, m := range r.userMenus(userID) {
		if m.Type == domain.MenuTypeMenu {
			menu := m
			menus = append(menus, &menu)
		}
	}
	sort.Slice(menus, func(i, j int) bool {
		if menus[i].Sort != menus[j].Sort {
			return menus[i].Sort < menus[j].Sort
		}
		return menus[i].ID < menus[j].ID
	})
	return menus, nil
}

func (r *RoleRepository) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	perms := make(set)
	for _, m := range r.userMenus(userID) {
		if m.Perms != "" {
			perms[m.Perms] = struct{}{}
		}
	}
	return perms.sorted(), nil
}

// userMenus requires r.s.mu held
func (r *RoleRepository) userMenus(userID string) map[string]domain.Menu {
	out := make(map[string]domain.Menu)
	for roleID := range r.s.userRoles[userID] {
		for menuID := range r.s.roleMenus[roleID] {
			if m, ok := r.s.menus[menuID]; ok {
				out[menuID] = m
			}
		}
	}
	return out
}
