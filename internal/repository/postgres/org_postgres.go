package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository"
)

const orgColumns = `id, parent_id, parent_ids, tenant_id, org_code, org_name, version, created_at, updated_at`

type orgRepository struct {
	db *sqlx.DB
}

// NewOrgRepository creates a new PostgreSQL org repository
func NewOrgRepository(db *sqlx.DB) repository.OrgRepository {
	return &orgRepository{db: db}
}

// WithinTx runs fn inside a single transaction
func (r *orgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withinTx(ctx, r.db, fn)
}

// GetByID retrieves an org by its ID
func (r *orgRepository) GetByID(ctx context.Context, id string) (*domain.Org, error) {
	return r.get(ctx, `SELECT `+orgColumns+` FROM sys_org WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves an org and locks its row until the transaction ends
func (r *orgRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Org, error) {
	return r.get(ctx, `SELECT `+orgColumns+` FROM sys_org WHERE id = $1 FOR UPDATE`, id)
}

func (r *orgRepository) get(ctx context.Context, query, id string) (*domain.Org, error) {
	var org domain.Org
	err := conn(ctx, r.db).GetContext(ctx, &org, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("org %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get org: %w", err)
	}
	return &org, nil
}

// ListByParentID retrieves the direct children of a parent
func (r *orgRepository) ListByParentID(ctx context.Context, parentID string) ([]*domain.Org, error) {
	return r.list(ctx, `SELECT `+orgColumns+` FROM sys_org WHERE parent_id = $1 ORDER BY org_code`, parentID)
}

// ListByParentIDForUpdate retrieves and locks the direct children of a parent
func (r *orgRepository) ListByParentIDForUpdate(ctx context.Context, parentID string) ([]*domain.Org, error) {
	return r.list(ctx, `SELECT `+orgColumns+` FROM sys_org WHERE parent_id = $1 ORDER BY org_code FOR UPDATE`, parentID)
}

func (r *orgRepository) list(ctx context.Context, query, parentID string) ([]*domain.Org, error) {
	var orgs []*domain.Org
	if err := conn(ctx, r.db).SelectContext(ctx, &orgs, query, parentID); err != nil {
		return nil, fmt.Errorf("failed to list orgs: %w", err)
	}
	return orgs, nil
}

// CountByCode counts orgs of a tenant holding code, ignoring excludeID
func (r *orgRepository) CountByCode(ctx context.Context, tenantID, code, excludeID string) (int, error) {
	query := `SELECT COUNT(*) FROM sys_org WHERE tenant_id = $1 AND org_code = $2 AND id <> $3`

	var count int
	if err := conn(ctx, r.db).GetContext(ctx, &count, query, tenantID, code, excludeID); err != nil {
		return 0, fmt.Errorf("failed to count org code: %w", err)
	}
	return count, nil
}

// CountChildren returns child counts for the parents that have children
func (r *orgRepository) CountChildren(ctx context.Context, parentIDs []string) ([]domain.HasChildren, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	q := conn(ctx, r.db)
	query, args, err := sqlx.In(`
		SELECT parent_id, COUNT(*) AS count
		FROM sys_org
		WHERE parent_id IN (?)
		GROUP BY parent_id`, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build children query: %w", err)
	}

	var counts []domain.HasChildren
	if err := q.SelectContext(ctx, &counts, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to count children: %w", err)
	}
	return counts, nil
}

// Create inserts a new org
func (r *orgRepository) Create(ctx context.Context, org *domain.Org) error {
	query := `
		INSERT INTO sys_org (
			id, parent_id, parent_ids, tenant_id, org_code, org_name,
			version, created_at, updated_at
		) VALUES (
			:id, :parent_id, :parent_ids, :tenant_id, :org_code, :org_name,
			:version, :created_at, :updated_at
		)`

	now := time.Now()
	org.Version = 1
	org.CreatedAt = now
	org.UpdatedAt = now

	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, org); err != nil {
		return fmt.Errorf("failed to create org: %w", translateError(err))
	}
	return nil
}

// Update writes org if its version is still current
func (r *orgRepository) Update(ctx context.Context, org *domain.Org) error {
	query := `
		UPDATE sys_org
		SET parent_id = :parent_id,
			parent_ids = :parent_ids,
			tenant_id = :tenant_id,
			org_code = :org_code,
			org_name = :org_name,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version`

	org.UpdatedAt = time.Now()
	result, err := conn(ctx, r.db).NamedExecContext(ctx, query, org)
	if err != nil {
		return fmt.Errorf("failed to update org: %w", translateError(err))
	}
	if err := expectOne(result, fmt.Errorf("org %s: %w", org.ID, repository.ErrVersionConflict)); err != nil {
		return err
	}

	org.Version++
	return nil
}

// Delete removes org if its version is still current
func (r *orgRepository) Delete(ctx context.Context, org *domain.Org) error {
	query := `DELETE FROM sys_org WHERE id = $1 AND version = $2`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, org.ID, org.Version)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("org %s: %w", org.ID, repository.ErrInUse)
	}
	if err != nil {
		return fmt.Errorf("failed to delete org: %w", err)
	}
	return expectOne(result, fmt.Errorf("org %s: %w", org.ID, repository.ErrVersionConflict))
}

// CountReferences counts user memberships pointing at any of orgIDs
func (r *orgRepository) CountReferences(ctx context.Context, orgIDs []string) (int, error) {
	if len(orgIDs) == 0 {
		return 0, nil
	}

	q := conn(ctx, r.db)
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM sys_user_org_ref WHERE org_id IN (?)`, orgIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to build reference query: %w", err)
	}

	var count int
	if err := q.GetContext(ctx, &count, q.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("failed to count org references: %w", err)
	}
	return count, nil
}

// BindUser adds a user to an org
func (r *orgRepository) BindUser(ctx context.Context, userID, orgID string) error {
	query := `
		INSERT INTO sys_user_org_ref (user_id, org_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, org_id) DO NOTHING`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, userID, orgID); err != nil {
		return fmt.Errorf("failed to bind user to org: %w", translateError(err))
	}
	return nil
}

// UnbindUser removes a user from an org
func (r *orgRepository) UnbindUser(ctx context.Context, userID, orgID string) error {
	query := `DELETE FROM sys_user_org_ref WHERE user_id = $1 AND org_id = $2`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to unbind user from org: %w", err)
	}
	return expectOne(result, fmt.Errorf("membership %s/%s: %w", userID, orgID, repository.ErrNotFound))
}
