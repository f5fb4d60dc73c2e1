package repository

import (
	"context"

	"github.com/jackhman/opsli-boot/internal/domain"
)

// OrgRepository persists the organization forest. Every method called with
// a context returned inside WithinTx joins that transaction.
type OrgRepository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetByID(ctx context.Context, id string) (*domain.Org, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Org, error)
	ListByParentID(ctx context.Context, parentID string) ([]*domain.Org, error)
	ListByParentIDForUpdate(ctx context.Context, parentID string) ([]*domain.Org, error)

	CountByCode(ctx context.Context, tenantID, code, excludeID string) (int, error)
	CountChildren(ctx context.Context, parentIDs []string) ([]domain.HasChildren, error)

	// Create stores org with Version 1
	Create(ctx context.Context, org *domain.Org) error
	// Update writes org only if the stored version equals org.Version,
	// then bumps org.Version. A mismatch is ErrVersionConflict.
	Update(ctx context.Context, org *domain.Org) error
	Delete(ctx context.Context, org *domain.Org) error

	// Membership
	CountReferences(ctx context.Context, orgIDs []string) (int, error)
	BindUser(ctx context.Context, userID, orgID string) error
	UnbindUser(ctx context.Context, userID, orgID string) error
}
