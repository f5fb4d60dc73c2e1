package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository/memory"
	"github.com/jackhman/opsli-boot/pkg/events"
)

type orgFixture struct {
	store     *memory.Store
	orgs      *OrgService
	published *recordingPublisher
}

func newOrgFixture(t *testing.T) *orgFixture {
	t.Helper()
	store := memory.NewStore()
	published := &recordingPublisher{}
	return &orgFixture{
		store:     store,
		orgs:      NewOrgService(store.Orgs(), published, nil),
		published: published,
	}
}

func (f *orgFixture) insert(t *testing.T, id, parentID, tenantID string) *domain.Org {
	t.Helper()
	org, err := f.orgs.Insert(context.Background(), &domain.Org{
		ID:       id,
		ParentID: parentID,
		TenantID: tenantID,
		OrgCode:  "code-" + id,
		OrgName:  "Org " + id,
	})
	require.NoError(t, err)
	return org
}

func (f *orgFixture) get(t *testing.T, id string) *domain.Org {
	t.Helper()
	org, err := f.orgs.Get(context.Background(), id)
	require.NoError(t, err)
	return org
}

// snapshot walks the whole forest from the top sentinel
func (f *orgFixture) snapshot(t *testing.T) map[string]domain.Org {
	t.Helper()
	out := make(map[string]domain.Org)
	queue := []string{domain.TopParentID}
	for len(queue) > 0 {
		children, err := f.orgs.ListChildren(context.Background(), queue[0])
		require.NoError(t, err)
		queue = queue[1:]
		for _, c := range children {
			out[c.ID] = *c
			queue = append(queue, c.ID)
		}
	}
	return out
}

// assertTreeInvariants checks path and tenant inheritance for every node
func (f *orgFixture) assertTreeInvariants(t *testing.T) {
	t.Helper()
	all := f.snapshot(t)
	for _, org := range all {
		if org.IsTop() {
			assert.Equal(t, domain.TopParentID, org.ParentIDs, "top org %s", org.ID)
			continue
		}
		parent, ok := all[org.ParentID]
		if !assert.True(t, ok, "parent of %s missing", org.ID) {
			continue
		}
		assert.Equal(t, parent.ParentIDs+","+parent.ID, org.ParentIDs, "path of %s", org.ID)
		assert.Equal(t, parent.TenantID, org.TenantID, "tenant of %s", org.ID)
	}
}

func TestOrgService_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	a := f.insert(t, "A", "", "T1")
	assert.Equal(t, "0", a.ParentID)
	assert.Equal(t, "0", a.ParentIDs)
	assert.Equal(t, "T1", a.TenantID)

	b := f.insert(t, "B", "A", "ignored")
	assert.Equal(t, "0,A", b.ParentIDs)
	assert.Equal(t, "T1", b.TenantID)

	_, err := f.orgs.Update(ctx, &domain.Org{ID: "A", TenantID: "T2", OrgCode: a.OrgCode, OrgName: a.OrgName})
	require.NoError(t, err)

	b = f.get(t, "B")
	assert.Equal(t, "T2", b.TenantID)
	assert.Equal(t, "0,A", b.ParentIDs)

	require.NoError(t, f.orgs.Delete(ctx, "A"))
	assert.Empty(t, f.snapshot(t))
}

func TestOrgService_TenantPropagatesThroughSubtree(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	root := f.insert(t, "R", "", "T1")
	f.insert(t, "C1", "R", "")
	f.insert(t, "C2", "R", "")
	f.insert(t, "G1", "C1", "")
	f.insert(t, "G2", "C1", "")
	f.insert(t, "GG", "G2", "")
	f.insert(t, "Other", "", "T9")

	_, err := f.orgs.Update(ctx, &domain.Org{ID: "R", TenantID: "T2", OrgCode: root.OrgCode, OrgName: root.OrgName})
	require.NoError(t, err)

	for _, id := range []string{"R", "C1", "C2", "G1", "G2", "GG"} {
		assert.Equal(t, "T2", f.get(t, id).TenantID, id)
	}
	assert.Equal(t, "T9", f.get(t, "Other").TenantID)
	f.assertTreeInvariants(t)
}

func TestOrgService_MoveRewritesDescendantPaths(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	f.insert(t, "A", "", "T1")
	f.insert(t, "B", "A", "")
	c := f.insert(t, "C", "B", "")
	f.insert(t, "D", "C", "")
	f.insert(t, "E", "D", "")
	f.insert(t, "X", "", "T2")

	moved, err := f.orgs.Update(ctx, &domain.Org{ID: "C", ParentID: "X", OrgCode: c.OrgCode, OrgName: c.OrgName})
	require.NoError(t, err)
	assert.Equal(t, "0,X", moved.ParentIDs)
	assert.Equal(t, "T2", moved.TenantID)

	assert.Equal(t, "0,X,C", f.get(t, "D").ParentIDs)
	assert.Equal(t, "0,X,C,D", f.get(t, "E").ParentIDs)
	assert.Equal(t, "T2", f.get(t, "E").TenantID)
	f.assertTreeInvariants(t)

	// back to the top level
	_, err = f.orgs.Update(ctx, &domain.Org{ID: "C", ParentID: domain.TopParentID, OrgCode: c.OrgCode, OrgName: c.OrgName})
	require.NoError(t, err)
	assert.Equal(t, "0,C,D", f.get(t, "E").ParentIDs)
	f.assertTreeInvariants(t)
}

func TestOrgService_UpdateKeepsParentWhenOmitted(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	f.insert(t, "A", "", "T1")
	b := f.insert(t, "B", "A", "")

	updated, err := f.orgs.Update(ctx, &domain.Org{ID: "B", OrgCode: b.OrgCode, OrgName: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "A", updated.ParentID)
	assert.Equal(t, "0,A", updated.ParentIDs)
	assert.Equal(t, "renamed", updated.OrgName)
	assert.Equal(t, b.Version+1, updated.Version)
}

func TestOrgService_ReferencedNodeIsGuarded(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	a := f.insert(t, "A", "", "T1")
	b := f.insert(t, "B", "A", "")
	f.insert(t, "X", "", "T2")
	require.NoError(t, f.orgs.BindUser(ctx, "u1", "B"))

	before := f.snapshot(t)

	_, err := f.orgs.Update(ctx, &domain.Org{ID: "B", ParentID: "X", OrgCode: b.OrgCode, OrgName: b.OrgName})
	assert.ErrorIs(t, err, ErrNodeInUse)

	// re-tenanting A would re-tenant the referenced B
	_, err = f.orgs.Update(ctx, &domain.Org{ID: "A", TenantID: "T3", OrgCode: a.OrgCode, OrgName: a.OrgName})
	assert.ErrorIs(t, err, ErrNodeInUse)

	assert.ErrorIs(t, f.orgs.Delete(ctx, "B"), ErrNodeInUse)
	assert.ErrorIs(t, f.orgs.Delete(ctx, "A"), ErrNodeInUse)
	assert.ErrorIs(t, f.orgs.DeleteAll(ctx, []string{"X", "A"}), ErrNodeInUse)

	assert.Equal(t, before, f.snapshot(t))

	// renaming is not guarded
	_, err = f.orgs.Update(ctx, &domain.Org{ID: "B", OrgCode: b.OrgCode, OrgName: "renamed"})
	require.NoError(t, err)

	// moving A under X also moves it to T2, which reaches B
	_, err = f.orgs.Update(ctx, &domain.Org{ID: "A", ParentID: "X", OrgCode: a.OrgCode, OrgName: a.OrgName})
	assert.ErrorIs(t, err, ErrNodeInUse)

	require.NoError(t, f.orgs.UnbindUser(ctx, "u1", "B"))
	require.NoError(t, f.orgs.Delete(ctx, "A"))
}

func TestOrgService_MoveWithinTenantGuardsOnlyTheNode(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	f.insert(t, "A", "", "T1")
	b := f.insert(t, "B", "A", "")
	f.insert(t, "C", "B", "")
	f.insert(t, "X", "", "T1")
	require.NoError(t, f.orgs.BindUser(ctx, "u1", "C"))

	_, err := f.orgs.Update(ctx, &domain.Org{ID: "B", ParentID: "X", OrgCode: b.OrgCode, OrgName: b.OrgName})
	require.NoError(t, err)
	assert.Equal(t, "0,X,B", f.get(t, "C").ParentIDs)
	f.assertTreeInvariants(t)
}

func TestOrgService_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	f.insert(t, "A", "", "T1")
	b := f.insert(t, "B", "", "T1")

	_, err := f.orgs.Insert(ctx, &domain.Org{ID: "C", TenantID: "T1", OrgCode: "code-A", OrgName: "dup"})
	assert.ErrorIs(t, err, ErrDuplicateCode)

	// another tenant may reuse it
	_, err = f.orgs.Insert(ctx, &domain.Org{ID: "D", TenantID: "T2", OrgCode: "code-A", OrgName: "ok"})
	require.NoError(t, err)

	_, err = f.orgs.Update(ctx, &domain.Org{ID: "B", OrgCode: "code-A", OrgName: b.OrgName})
	assert.ErrorIs(t, err, ErrDuplicateCode)

	// keeping its own code is not a duplicate
	_, err = f.orgs.Update(ctx, &domain.Org{ID: "B", OrgCode: b.OrgCode, OrgName: "renamed"})
	assert.NoError(t, err)
}

func TestOrgService_DuplicateID(t *testing.T) {
	f := newOrgFixture(t)
	f.insert(t, "A", "", "T1")

	_, err := f.orgs.Insert(context.Background(), &domain.Org{ID: "A", TenantID: "T1", OrgCode: "fresh", OrgName: "again"})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.NotErrorIs(t, err, ErrDuplicateCode)
	assert.Equal(t, "code-A", f.get(t, "A").OrgCode)
}

func TestOrgService_TenantChangeChecksDescendantCodes(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	a := f.insert(t, "A", "", "T1")
	f.insert(t, "B", "A", "")
	_, err := f.orgs.Insert(ctx, &domain.Org{ID: "X", TenantID: "T2", OrgCode: "code-B", OrgName: "X"})
	require.NoError(t, err)
	before := f.snapshot(t)

	_, err = f.orgs.Update(ctx, &domain.Org{ID: "A", TenantID: "T2", OrgCode: a.OrgCode, OrgName: a.OrgName})
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.Equal(t, before, f.snapshot(t))

	n, err := f.store.Orgs().CountByCode(ctx, "T2", "code-B", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a root renamed to its child's code clashes once both share the new tenant
	_, err = f.orgs.Update(ctx, &domain.Org{ID: "A", TenantID: "T3", OrgCode: "code-B", OrgName: a.OrgName})
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.Equal(t, before, f.snapshot(t))
}

func TestOrgService_MoveIntoTenantChecksDescendantCodes(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	a := f.insert(t, "A", "", "T1")
	f.insert(t, "B", "A", "")
	f.insert(t, "P", "", "T2")
	_, err := f.orgs.Insert(ctx, &domain.Org{ID: "Y", ParentID: "P", OrgCode: "code-B", OrgName: "Y"})
	require.NoError(t, err)

	_, err = f.orgs.Update(ctx, &domain.Org{ID: "A", ParentID: "P", OrgCode: a.OrgCode, OrgName: a.OrgName})
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.Equal(t, "T1", f.get(t, "B").TenantID)
	f.assertTreeInvariants(t)
}

func TestOrgService_ParentNotFound(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	a := f.insert(t, "A", "", "T1")

	_, err := f.orgs.Insert(ctx, &domain.Org{ID: "B", ParentID: "missing", OrgCode: "b", OrgName: "b"})
	assert.ErrorIs(t, err, ErrParentNotFound)

	_, err = f.orgs.Update(ctx, &domain.Org{ID: "A", ParentID: "missing", OrgCode: a.OrgCode, OrgName: a.OrgName})
	assert.ErrorIs(t, err, ErrParentNotFound)

	_, err = f.orgs.Update(ctx, &domain.Org{ID: "missing", OrgCode: "x", OrgName: "x"})
	assert.ErrorIs(t, err, ErrOrgNotFound)

	assert.ErrorIs(t, f.orgs.Delete(ctx, "missing"), ErrOrgNotFound)
}

func TestOrgService_RejectsCycles(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	a := f.insert(t, "A", "", "T1")
	f.insert(t, "B", "A", "")
	f.insert(t, "C", "B", "")
	before := f.snapshot(t)

	_, err := f.orgs.Update(ctx, &domain.Org{ID: "A", ParentID: "A", OrgCode: a.OrgCode, OrgName: a.OrgName})
	assert.ErrorIs(t, err, ErrCyclicParent)

	_, err = f.orgs.Update(ctx, &domain.Org{ID: "A", ParentID: "C", OrgCode: a.OrgCode, OrgName: a.OrgName})
	assert.ErrorIs(t, err, ErrCyclicParent)

	assert.Equal(t, before, f.snapshot(t))
}

func TestOrgService_StaleVersion(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	a := f.insert(t, "A", "", "T1")
	_, err := f.orgs.Update(ctx, &domain.Org{ID: "A", OrgCode: a.OrgCode, OrgName: "first", Version: a.Version})
	require.NoError(t, err)

	_, err = f.orgs.Update(ctx, &domain.Org{ID: "A", OrgCode: a.OrgCode, OrgName: "second", Version: a.Version})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, "first", f.get(t, "A").OrgName)
}

func TestOrgService_FailedCascadeLeavesTreeUntouched(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	a := f.insert(t, "A", "", "T1")
	f.insert(t, "B", "A", "")
	f.insert(t, "C", "B", "")
	before := f.snapshot(t)

	boom := errors.New("disk full")
	f.store.BeforeWrite = func(op string, org *domain.Org) error {
		if op == "update" && org.ID == "C" {
			return boom
		}
		return nil
	}

	_, err := f.orgs.Update(ctx, &domain.Org{ID: "A", TenantID: "T2", OrgCode: a.OrgCode, OrgName: a.OrgName})
	require.ErrorIs(t, err, boom)

	f.store.BeforeWrite = nil
	assert.Equal(t, before, f.snapshot(t))
}

func TestOrgService_DeleteAllOverlappingTargets(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	f.insert(t, "A", "", "T1")
	f.insert(t, "B", "A", "")
	f.insert(t, "C", "B", "")
	f.insert(t, "D", "A", "")
	f.insert(t, "K", "", "T1")

	var deleted []string
	f.store.BeforeWrite = func(op string, org *domain.Org) error {
		if op == "delete" {
			deleted = append(deleted, org.ID)
		}
		return nil
	}

	require.NoError(t, f.orgs.DeleteAll(ctx, []string{"B", "A", "B"}))

	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, deleted)
	assert.Equal(t, "A", deleted[len(deleted)-1])
	pos := make(map[string]int)
	for i, id := range deleted {
		pos[id] = i
	}
	assert.Less(t, pos["C"], pos["B"])

	all := f.snapshot(t)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "K")
}

func TestOrgService_HasChildren(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)

	f.insert(t, "A", "", "T1")
	f.insert(t, "B", "A", "")
	f.insert(t, "C", "A", "")

	got, err := f.orgs.HasChildren(ctx, []string{"B", "A", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []domain.HasChildren{
		{ParentID: "B", Count: 0},
		{ParentID: "A", Count: 2},
		{ParentID: "missing", Count: 0},
	}, got)
}

func TestOrgService_CancelledContext(t *testing.T) {
	f := newOrgFixture(t)
	a := f.insert(t, "A", "", "T1")
	f.insert(t, "B", "A", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orgs.Update(ctx, &domain.Org{ID: "A", TenantID: "T2", OrgCode: a.OrgCode, OrgName: a.OrgName})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "T1", f.get(t, "B").TenantID)
}

func TestOrgService_MembershipPublishes(t *testing.T) {
	ctx := context.Background()
	f := newOrgFixture(t)
	f.insert(t, "A", "", "T1")

	require.NoError(t, f.orgs.BindUser(ctx, "u1", "A"))
	require.NoError(t, f.orgs.UnbindUser(ctx, "u1", "A"))

	assert.ErrorIs(t, f.orgs.BindUser(ctx, "u1", "missing"), ErrOrgNotFound)
	assert.ErrorIs(t, f.orgs.UnbindUser(ctx, "u1", "A"), ErrMembershipNotFound)

	assert.Equal(t, []events.AccountChanged{
		{AccountID: "u1", Reason: events.ReasonOrg},
		{AccountID: "u1", Reason: events.ReasonOrg},
	}, f.published.Events())
}
