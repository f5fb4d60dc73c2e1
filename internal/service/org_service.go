package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository"
	"github.com/jackhman/opsli-boot/pkg/events"
)

var (
	ErrOrgNotFound        = errors.New("org not found")
	ErrParentNotFound     = errors.New("parent org not found")
	ErrDuplicateCode      = errors.New("org code already exists")
	ErrDuplicateID        = errors.New("org id already exists")
	ErrNodeInUse          = errors.New("org is still referenced")
	ErrCyclicParent       = errors.New("org cannot be placed under itself or a descendant")
	ErrVersionConflict    = errors.New("org was modified concurrently")
	ErrMembershipNotFound = errors.New("user is not a member of org")
)

// OrgService maintains the organization forest.
//
// Every node stores its ancestor path and inherits its parent's tenant.
// Mutations run in one repository transaction: touched rows are locked,
// references are checked before anything is written, and descendants are
// rewritten parent before child.
type OrgService struct {
	repo      repository.OrgRepository
	publisher events.Publisher
	logger    *slog.Logger
}

func NewOrgService(repo repository.OrgRepository, publisher events.Publisher, logger *slog.Logger) *OrgService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrgService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// Insert creates a node. A missing parent means top level, where the
// caller's tenant is kept; below the top the parent's tenant wins.
func (s *OrgService) Insert(ctx context.Context, in *domain.Org) (*domain.Org, error) {
	org := *in
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if org.ParentID == "" {
		org.ParentID = domain.TopParentID
	}

	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.place(ctx, &org); err != nil {
			return err
		}
		if err := s.ensureUniqueCode(ctx, &org); err != nil {
			return err
		}
		return translate(s.repo.Create(ctx, &org))
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "org created",
		slog.String("org_id", org.ID),
		slog.String("parent_id", org.ParentID),
		slog.String("tenant_id", org.TenantID),
	)
	return &org, nil
}

// Update rewrites a node and, when its tenant or position changed, every
// descendant. A non-zero in.Version must match the stored version. An
// empty in.ParentID keeps the current parent and an empty in.TenantID
// keeps the current tenant.
func (s *OrgService) Update(ctx context.Context, in *domain.Org) (*domain.Org, error) {
	var (
		org        domain.Org
		cascaded   int
		moved      bool
		retenanted bool
	)

	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByIDForUpdate(ctx, in.ID)
		if err != nil {
			return translate(err)
		}
		if in.Version != 0 && in.Version != current.Version {
			return fmt.Errorf("org %s at version %d, got %d: %w", current.ID, current.Version, in.Version, ErrVersionConflict)
		}

		org = *current
		org.OrgCode = in.OrgCode
		org.OrgName = in.OrgName
		if in.ParentID != "" {
			org.ParentID = in.ParentID
		}
		if in.TenantID != "" {
			org.TenantID = in.TenantID
		}

		if err := s.place(ctx, &org); err != nil {
			return err
		}
		if err := s.ensureUniqueCode(ctx, &org); err != nil {
			return err
		}

		moved = org.ParentID != current.ParentID
		retenanted = org.TenantID != current.TenantID
		rewrite := moved || retenanted || org.ParentIDs != current.ParentIDs

		var descendants []*domain.Org
		if rewrite {
			descendants, err = s.subtree(ctx, current)
			if err != nil {
				return err
			}
		}

		// a tenant change reaches every descendant, a move only the node
		if moved || retenanted {
			guarded := []string{org.ID}
			if retenanted {
				guarded = append(guarded, ids(descendants)...)
			}
			if err := s.ensureUnreferenced(ctx, guarded); err != nil {
				return err
			}
		}
		if retenanted {
			if err := s.ensureUniqueCodes(ctx, &org, descendants); err != nil {
				return err
			}
		}

		if err := translate(s.repo.Update(ctx, &org)); err != nil {
			return err
		}

		if rewrite {
			cascaded, err = s.cascade(ctx, &org, descendants)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "org updated",
		slog.String("org_id", org.ID),
		slog.Bool("moved", moved),
		slog.Bool("tenant_changed", retenanted),
		slog.Int("descendants_rewritten", cascaded),
	)
	return &org, nil
}

// Delete removes a node and its whole subtree
func (s *OrgService) Delete(ctx context.Context, id string) error {
	return s.DeleteAll(ctx, []string{id})
}

// DeleteAll removes every listed node with its subtree. If any node that
// would be removed is referenced nothing is removed.
func (s *OrgService) DeleteAll(ctx context.Context, orgIDs []string) error {
	if len(orgIDs) == 0 {
		return nil
	}

	var removed int
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		seen := make(map[string]bool)
		var targets []*domain.Org

		for _, id := range orgIDs {
			if seen[id] {
				continue
			}
			root, err := s.repo.GetByIDForUpdate(ctx, id)
			if err != nil {
				return translate(err)
			}
			descendants, err := s.subtree(ctx, root)
			if err != nil {
				return err
			}
			for _, o := range append([]*domain.Org{root}, descendants...) {
				if !seen[o.ID] {
					seen[o.ID] = true
					targets = append(targets, o)
				}
			}
		}

		if err := s.ensureUnreferenced(ctx, ids(targets)); err != nil {
			return err
		}

		// deepest first, so no node outlives its parent
		sort.SliceStable(targets, func(i, j int) bool {
			return len(targets[i].Ancestors()) > len(targets[j].Ancestors())
		})
		for _, o := range targets {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := translate(s.repo.Delete(ctx, o)); err != nil {
				return err
			}
		}
		removed = len(targets)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "orgs deleted",
		slog.Any("org_ids", orgIDs),
		slog.Int("removed", removed),
	)
	return nil
}

// HasChildren reports the child count of each parent, zero included, in
// request order. It reads outside any transaction.
func (s *OrgService) HasChildren(ctx context.Context, parentIDs []string) ([]domain.HasChildren, error) {
	counts, err := s.repo.CountChildren(ctx, parentIDs)
	if err != nil {
		return nil, err
	}

	byParent := make(map[string]int, len(counts))
	for _, c := range counts {
		byParent[c.ParentID] = c.Count
	}

	out := make([]domain.HasChildren, 0, len(parentIDs))
	for _, id := range parentIDs {
		out = append(out, domain.HasChildren{ParentID: id, Count: byParent[id]})
	}
	return out, nil
}

func (s *OrgService) Get(ctx context.Context, id string) (*domain.Org, error) {
	org, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return org, nil
}

func (s *OrgService) ListChildren(ctx context.Context, parentID string) ([]*domain.Org, error) {
	if parentID == "" {
		parentID = domain.TopParentID
	}
	return s.repo.ListByParentID(ctx, parentID)
}

// BindUser makes userID a member of orgID, which then counts as a reference
func (s *OrgService) BindUser(ctx context.Context, userID, orgID string) error {
	if err := translate(s.repo.BindUser(ctx, userID, orgID)); err != nil {
		return err
	}
	s.publisher.Publish(ctx, events.AccountChanged{AccountID: userID, Reason: events.ReasonOrg})
	return nil
}

func (s *OrgService) UnbindUser(ctx context.Context, userID, orgID string) error {
	err := s.repo.UnbindUser(ctx, userID, orgID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrMembershipNotFound
	}
	if err != nil {
		return err
	}
	s.publisher.Publish(ctx, events.AccountChanged{AccountID: userID, Reason: events.ReasonOrg})
	return nil
}

// place derives ParentIDs and, below the top, TenantID from org's parent
func (s *OrgService) place(ctx context.Context, org *domain.Org) error {
	if org.ParentID == domain.TopParentID {
		org.ParentIDs = domain.TopParentID
		return nil
	}

	parent, err := s.repo.GetByIDForUpdate(ctx, org.ParentID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrParentNotFound, org.ParentID)
	}
	if err != nil {
		return err
	}
	if parent.ID == org.ID || parent.HasAncestor(org.ID) {
		return fmt.Errorf("%w: %s under %s", ErrCyclicParent, org.ID, parent.ID)
	}

	org.TenantID = parent.TenantID
	org.ParentIDs = parent.ChildPath()
	return nil
}

func (s *OrgService) ensureUniqueCode(ctx context.Context, org *domain.Org) error {
	count, err := s.repo.CountByCode(ctx, org.TenantID, org.OrgCode, org.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, org.OrgCode)
	}
	return nil
}

// ensureUniqueCodes checks a subtree moving into root's tenant: no two of
// its nodes may share a code and none may clash with that tenant's nodes.
func (s *OrgService) ensureUniqueCodes(ctx context.Context, root *domain.Org, descendants []*domain.Org) error {
	codes := map[string]string{root.OrgCode: root.ID}
	for _, node := range descendants {
		if other, ok := codes[node.OrgCode]; ok {
			return fmt.Errorf("%w: %s held by %s and %s", ErrDuplicateCode, node.OrgCode, other, node.ID)
		}
		codes[node.OrgCode] = node.ID

		count, err := s.repo.CountByCode(ctx, root.TenantID, node.OrgCode, node.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s in tenant %s", ErrDuplicateCode, node.OrgCode, root.TenantID)
		}
	}
	return nil
}

func (s *OrgService) ensureUnreferenced(ctx context.Context, orgIDs []string) error {
	count, err := s.repo.CountReferences(ctx, orgIDs)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d references", ErrNodeInUse, count)
	}
	return nil
}

// subtree locks and returns every descendant of root in breadth-first
// order, so each node comes after its parent.
func (s *OrgService) subtree(ctx context.Context, root *domain.Org) ([]*domain.Org, error) {
	var out []*domain.Org
	visited := map[string]bool{root.ID: true}
	queue := []string{root.ID}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parentID := queue[0]
		queue = queue[1:]

		children, err := s.repo.ListByParentIDForUpdate(ctx, parentID)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child.ID] {
				return nil, fmt.Errorf("%w: %s reached twice below %s", ErrCyclicParent, child.ID, root.ID)
			}
			visited[child.ID] = true
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out, nil
}

// cascade rewrites descendants (breadth-first, as returned by subtree)
// from their already rewritten parents.
func (s *OrgService) cascade(ctx context.Context, root *domain.Org, descendants []*domain.Org) (int, error) {
	written := map[string]*domain.Org{root.ID: root}

	for _, node := range descendants {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		parent, ok := written[node.ParentID]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrParentNotFound, node.ParentID)
		}

		node.ParentIDs = parent.ChildPath()
		node.TenantID = parent.TenantID
		if err := translate(s.repo.Update(ctx, node)); err != nil {
			return 0, err
		}
		written[node.ID] = node
	}
	return len(descendants), nil
}

// translate maps repository errors onto the org error set
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrOrgNotFound, err)
	case errors.Is(err, repository.ErrVersionConflict):
		return fmt.Errorf("%w: %w", ErrVersionConflict, err)
	case errors.Is(err, repository.ErrDuplicateKey):
		return fmt.Errorf("%w: %w", ErrDuplicateID, err)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrDuplicateCode, err)
	case errors.Is(err, repository.ErrInUse):
		return fmt.Errorf("%w: %w", ErrNodeInUse, err)
	}
	return err
}

func ids(orgs []*domain.Org) []string {
	out := make([]string, len(orgs))
	for i, o := range orgs {
		out[i] = o.ID
	}
	return out
}
