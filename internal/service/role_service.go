package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackhman/opsli-boot/internal/repository"
	"github.com/jackhman/opsli-boot/pkg/events"
)

var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrAssignmentNotFound = errors.New("role assignment not found")
	ErrMenuNotFound       = errors.New("menu not found")
)

// RoleService mutates role assignments and role grants. Every mutation
// announces the affected accounts so their cached state is rebuilt.
type RoleService struct {
	roleRepo  repository.RoleRepository
	publisher events.Publisher
	logger    *slog.Logger
}

func NewRoleService(roleRepo repository.RoleRepository, publisher events.Publisher, logger *slog.Logger) *RoleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleService{
		roleRepo:  roleRepo,
		publisher: publisher,
		logger:    logger,
	}
}

// AssignRoleToUser grants a role to a user
func (s *RoleService) AssignRoleToUser(ctx context.Context, userID, roleID string) error {
	if err := s.ensureRole(ctx, roleID); err != nil {
		return err
	}

	if err := s.roleRepo.AssignRoleToUser(ctx, userID, roleID); err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.AccountChanged{AccountID: userID, Reason: events.ReasonRoles})
	return nil
}

// RemoveRoleFromUser revokes a role from a user
func (s *RoleService) RemoveRoleFromUser(ctx context.Context, userID, roleID string) error {
	err := s.roleRepo.RemoveRoleFromUser(ctx, userID, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAssignmentNotFound
	}
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.AccountChanged{AccountID: userID, Reason: events.ReasonRoles})
	return nil
}

// SetRoleMenus replaces the menus, and so the permission codes, of a role
func (s *RoleService) SetRoleMenus(ctx context.Context, roleID string, menuIDs []string) error {
	if err := s.ensureRole(ctx, roleID); err != nil {
		return err
	}

	err := s.roleRepo.SetRoleMenus(ctx, roleID, menuIDs)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrMenuNotFound, err)
	}
	if err != nil {
		return err
	}

	holders, err := s.roleRepo.GetUsersWithRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("role %s menus saved but holders could not be listed: %w", roleID, err)
	}
	events.PublishAll(ctx, s.publisher, events.ReasonPermissions, holders...)

	s.logger.InfoContext(ctx, "role menus replaced",
		slog.String("role_id", roleID),
		slog.Int("menus", len(menuIDs)),
		slog.Int("holders", len(holders)),
	)
	return nil
}

func (s *RoleService) ensureRole(ctx context.Context, roleID string) error {
	_, err := s.roleRepo.GetByID(ctx, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRoleNotFound
	}
	return err
}
