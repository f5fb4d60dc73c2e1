package service

import (
	"context"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/pkg/userstate"
)

// UserService serves an account's derived state through the user state
// cache, rebuilding categories from the repositories on a miss.
type UserService struct {
	cache *userstate.Cache
}

func NewUserService(cache *userstate.Cache) *UserService {
	return &UserService{cache: cache}
}

func (s *UserService) Profile(ctx context.Context, accountID string) (*domain.Profile, error) {
	var profile domain.Profile
	if err := s.cache.Load(ctx, accountID, userstate.CategoryProfile, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *UserService) Roles(ctx context.Context, accountID string) ([]*domain.Role, error) {
	var roles []*domain.Role
	if err := s.cache.Load(ctx, accountID, userstate.CategoryRoles, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *UserService) Permissions(ctx context.Context, accountID string) ([]string, error) {
	return s.cache.Permissions(ctx, accountID)
}

func (s *UserService) Menus(ctx context.Context, accountID string) ([]*domain.Menu, error) {
	var menus []*domain.Menu
	if err := s.cache.Load(ctx, accountID, userstate.CategoryMenus, &menus); err != nil {
		return nil, err
	}
	return menus, nil
}

// HasPermission is used by the authorization middleware
func (s *UserService) HasPermission(ctx context.Context, accountID, perm string) (bool, error) {
	return s.cache.HasPermission(ctx, accountID, perm)
}
