package service

import (
	"context"
	"fmt"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository"
	"github.com/jackhman/opsli-boot/pkg/userstate"
)

// IdentityProvider rebuilds user state categories from the repositories
type IdentityProvider struct {
	userRepo repository.UserRepository
	roleRepo repository.RoleRepository
}

var _ userstate.Provider = (*IdentityProvider)(nil)

func NewIdentityProvider(userRepo repository.UserRepository, roleRepo repository.RoleRepository) *IdentityProvider {
	return &IdentityProvider{userRepo: userRepo, roleRepo: roleRepo}
}

func (p *IdentityProvider) Load(ctx context.Context, accountID string, category userstate.Category) (any, error) {
	switch category {
	case userstate.CategoryProfile:
		return p.profile(ctx, accountID)
	case userstate.CategoryRoles:
		return p.roleRepo.GetUserRoles(ctx, accountID)
	case userstate.CategoryPerms:
		return p.roleRepo.GetUserPermissions(ctx, accountID)
	case userstate.CategoryMenus:
		return p.roleRepo.GetUserMenus(ctx, accountID)
	}
	return nil, fmt.Errorf("%w: %q", userstate.ErrUnknownCategory, category)
}

func (p *IdentityProvider) profile(ctx context.Context, accountID string) (*domain.Profile, error) {
	user, err := p.userRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	orgIDs, err := p.userRepo.GetOrgIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &domain.Profile{
		ID:       user.ID,
		Username: user.Username,
		RealName: user.RealName,
		Email:    user.Email,
		TenantID: user.TenantID,
		Status:   user.Status,
		OrgIDs:   orgIDs,
	}, nil
}
