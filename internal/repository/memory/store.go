package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jackhman/opsli-boot/internal/domain"
)

type txKey struct{}

// Store is an in-memory backing for the org, user and role repositories.
// It is intended for tests and local development wiring. WithinTx
// serializes transactions and restores the org tables when fn fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	orgs      map[string]domain.Org
	users     map[string]domain.User
	roles     map[string]domain.Role
	menus     map[string]domain.Menu
	userOrgs  map[string]set
	userRoles map[string]set
	roleMenus map[string]set

	// BeforeWrite, when set, runs before every org create, update or
	// delete and fails the write with its error.
	BeforeWrite func(op string, org *domain.Org) error
}

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func NewStore() *Store {
	return &Store{
		orgs:      make(map[string]domain.Org),
		users:     make(map[string]domain.User),
		roles:     make(map[string]domain.Role),
		menus:     make(map[string]domain.Menu),
		userOrgs:  make(map[string]set),
		userRoles: make(map[string]set),
		roleMenus: make(map[string]set),
	}
}

func (s *Store) Orgs() *OrgRepository   { return &OrgRepository{s: s} }
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }
func (s *Store) Roles() *RoleRepository { return &RoleRepository{s: s} }

// AddUser seeds an account
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddRole seeds a role
func (s *Store) AddRole(r domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
}

// AddMenu seeds a menu or button
func (s *Store) AddMenu(m domain.Menu) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menus[m.ID] = m
}

func (s *Store) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	orgs := make(map[string]domain.Org, len(s.orgs))
	for k, v := range s.orgs {
		orgs[k] = v
	}
	refs := copySets(s.userOrgs)
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.orgs = orgs
		s.userOrgs = refs
		s.mu.Unlock()
		return err
	}
	return nil
}

func copySets(in map[string]set) map[string]set {
	out := make(map[string]set, len(in))
	for k, v := range in {
		c := make(set, len(v))
		for id := range v {
			c[id] = struct{}{}
		}
		out[k] = c
	}
	return out
}

func addTo(m map[string]set, key, value string) {
	if m[key] == nil {
		m[key] = make(set)
	}
	m[key][value] = struct{}{}
}
