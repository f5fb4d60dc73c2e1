package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository"
)

// OrgRepository implements repository.OrgRepository on a Store
type OrgRepository struct {
	s *Store
}

var _ repository.OrgRepository = (*OrgRepository)(nil)

func (r *OrgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.s.withinTx(ctx, fn)
}

func (r *OrgRepository) GetByID(ctx context.Context, id string) (*domain.Org, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	org, ok := r.s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("org %s: %w", id, repository.ErrNotFound)
	}
	return &org, nil
}

func (r *OrgRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Org, error) {
	return r.GetByID(ctx, id)
}

func (r *OrgRepository) ListByParentID(ctx context.Context, parentID string) ([]*domain.Org, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Org
	for _, org := range r.s.orgs {
		if org.ParentID == parentID {
			o := org
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgCode < out[j].OrgCode })
	return out, nil
}

func (r *OrgRepository) ListByParentIDForUpdate(ctx context.Context, parentID string) ([]*domain.Org, error) {
	return r.ListByParentID(ctx, parentID)
}

func (r *OrgRepository) CountByCode(ctx context.Context, tenantID, code, excludeID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, org := range r.s.orgs {
		if org.TenantID == tenantID && org.OrgCode == code && org.ID != excludeID {
			count++
		}
	}
	return count, nil
}

func (r *OrgRepository) CountChildren(ctx context.Context, parentIDs []string) ([]domain.HasChildren, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[string]int)
	for _, org := range r.s.orgs {
		counts[org.ParentID]++
	}

	var out []domain.HasChildren
	for _, id := range parentIDs {
		if n := counts[id]; n > 0 {
			out = append(out, domain.HasChildren{ParentID: id, Count: n})
		}
	}
	return out, nil
}

func (r *OrgRepository) Create(ctx context.Context, org *domain.Org) error {
	if err := r.beforeWrite(ctx, "create", org); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.orgs[org.ID]; ok {
		return fmt.Errorf("org %s: %w", org.ID, repository.ErrDuplicateKey)
	}
	for _, o := range r.s.orgs {
		if o.TenantID == org.TenantID && o.OrgCode == org.OrgCode {
			return fmt.Errorf("org code %s: %w", org.OrgCode, repository.ErrDuplicate)
		}
	}

	now := time.Now()
	org.Version = 1
	org.CreatedAt = now
	org.UpdatedAt = now
	r.s.orgs[org.ID] = *org
	return nil
}

func (r *OrgRepository) Update(ctx context.Context, org *domain.Org) error {
	if err := r.beforeWrite(ctx, "update", org); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.orgs[org.ID]
	if !ok || current.Version != org.Version {
		return fmt.Errorf("org %s: %w", org.ID, repository.ErrVersionConflict)
	}
	for id, o := range r.s.orgs {
		if id != org.ID && o.TenantID == org.TenantID && o.OrgCode == org.OrgCode {
			return fmt.Errorf("org code %s: %w", org.OrgCode, repository.ErrDuplicate)
		}
	}

	org.Version++
	org.CreatedAt = current.CreatedAt
	org.UpdatedAt = time.Now()
	r.s.orgs[org.ID] = *org
	return nil
}

func (r *OrgRepository) Delete(ctx context.Context, org *domain.Org) error {
	if err := r.beforeWrite(ctx, "delete", org); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.orgs[org.ID]
	if !ok || current.Version != org.Version {
		return fmt.Errorf("org %s: %w", org.ID, repository.ErrVersionConflict)
	}
	for _, orgs := range r.s.userOrgs {
		if _, used := orgs[org.ID]; used {
			return fmt.Errorf("org %s: %w", org.ID, repository.ErrInUse)
		}
	}
	delete(r.s.orgs, org.ID)
	return nil
}

func (r *OrgRepository) CountReferences(ctx context.Context, orgIDs []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, orgs := range r.s.userOrgs {
		for _, id := range orgIDs {
			if _, ok := orgs[id]; ok {
				count++
			}
		}
	}
	return count, nil
}

func (r *OrgRepository) BindUser(ctx context.Context, userID, orgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.orgs[orgID]; !ok {
		return fmt.Errorf("org %s: %w", orgID, repository.ErrNotFound)
	}
	addTo(r.s.userOrgs, userID, orgID)
	return nil
}

func (r *OrgRepository) UnbindUser(ctx context.Context, userID, orgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.userOrgs[userID][orgID]; !ok {
		return fmt.Errorf("membership %s/%s: %w", userID, orgID, repository.ErrNotFound)
	}
	delete(r.s.userOrgs[userID], orgID)
	return nil
}

func (r *OrgRepository) beforeWrite(ctx context.Context, op string, org *domain.Org) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.s.BeforeWrite != nil {
		return r.s.BeforeWrite(op, org)
	}
	return nil
}
