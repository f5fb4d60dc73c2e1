// Package userstate caches facts derived from an account (profile, roles,
// permission codes, menus) in the shared key/value store.
//
// Entries carry no TTL. They are only ever deleted, never patched, and the
// next read rebuilds them from the Provider.
package userstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackhman/opsli-boot/pkg/events"
	"github.com/jackhman/opsli-boot/pkg/kvstore"
)

type Category string

const (
	CategoryProfile Category = "profile"
	CategoryRoles   Category = "roles"
	CategoryPerms   Category = "perms"
	CategoryMenus   Category = "menus"
)

// Categories lists every category InvalidateAll clears
var Categories = []Category{CategoryProfile, CategoryRoles, CategoryPerms, CategoryMenus}

// writeBackTimeout bounds the store write of a rebuilt entry
const writeBackTimeout = 2 * time.Second

var (
	ErrEmptyAccount    = errors.New("userstate: empty account id")
	ErrUnknownCategory = errors.New("userstate: unknown category")
	ErrNoProvider      = errors.New("userstate: no provider configured")
)

// Provider rebuilds a category from the system of record on a cache miss.
// The returned value must be JSON-encodable.
type Provider interface {
	Load(ctx context.Context, accountID string, category Category) (any, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, accountID string, category Category) (any, error)

func (f ProviderFunc) Load(ctx context.Context, accountID string, category Category) (any, error) {
	return f(ctx, accountID, category)
}

// Cache is the read-through user state cache.
//
// Every invalidation bumps an in-process generation for the account. A
// rebuild only writes back when the generation it started under is still
// current, so a loader that raced an invalidation never resurrects the
// data it read before the change. Generations are locked per account; a
// slow write-back only holds up invalidations of its own account.
type Cache struct {
	store    kvstore.Store
	provider Provider
	logger   *slog.Logger

	mu       sync.Mutex
	accounts map[string]*generation
}

type generation struct {
	mu sync.Mutex
	n  uint64
}

func New(store kvstore.Store, provider Provider, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:    store,
		provider: provider,
		logger:   logger,
		accounts: make(map[string]*generation),
	}
}

// Key is the store key of one category of one account
func Key(accountID string, category Category) string {
	return "user:" + string(category) + ":" + accountID
}

func validate(accountID string, category Category) error {
	if accountID == "" {
		return ErrEmptyAccount
	}
	for _, c := range Categories {
		if c == category {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
}

// Get returns the cached JSON of a category, or false on a miss
func (c *Cache) Get(ctx context.Context, accountID string, category Category) ([]byte, bool, error) {
	if err := validate(accountID, category); err != nil {
		return nil, false, err
	}

	value, ok, err := c.store.Get(ctx, Key(accountID, category))
	if err != nil || !ok {
		return nil, false, err
	}
	return []byte(value), true, nil
}

// Set stores value as the category's JSON, without expiry
func (c *Cache) Set(ctx context.Context, accountID string, category Category, value any) error {
	if err := validate(accountID, category); err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s for %s: %w", category, accountID, err)
	}
	return c.store.Put(ctx, Key(accountID, category), string(raw), 0)
}

// Invalidate deletes one category of an account
func (c *Cache) Invalidate(ctx context.Context, accountID string, category Category) error {
	if err := validate(accountID, category); err != nil {
		return err
	}

	c.bump(accountID)
	return c.store.Delete(ctx, Key(accountID, category))
}

// InvalidateAll deletes every category of an account. Each category is
// attempted even when an earlier one fails; the failures are joined.
func (c *Cache) InvalidateAll(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrEmptyAccount
	}

	c.bump(accountID)

	var errs []error
	for _, category := range Categories {
		if err := c.store.Delete(ctx, Key(accountID, category)); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", category, err))
		}
	}
	return errors.Join(errs...)
}

// Load decodes a category into dst, rebuilding it through the Provider on
// a miss. A store read failure falls through to the Provider; a failed
// write-back is logged and does not fail the read.
func (c *Cache) Load(ctx context.Context, accountID string, category Category, dst any) error {
	raw, ok, err := c.Get(ctx, accountID, category)
	if err != nil {
		if errors.Is(err, ErrEmptyAccount) || errors.Is(err, ErrUnknownCategory) {
			return err
		}
		c.logger.WarnContext(ctx, "user state read failed, loading from source",
			slog.String("account_id", accountID),
			slog.String("category", string(category)),
			slog.Any("error", err),
		)
	}
	if ok {
		if err := json.Unmarshal(raw, dst); err == nil {
			return nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable user state",
			slog.String("account_id", accountID),
			slog.String("category", string(category)),
		)
	}

	if c.provider == nil {
		return ErrNoProvider
	}

	gen := c.current(accountID)
	value, err := c.provider.Load(ctx, accountID, category)
	if err != nil {
		return fmt.Errorf("failed to load %s for %s: %w", category, accountID, err)
	}

	raw, err = json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s for %s: %w", category, accountID, err)
	}

	if err := c.writeBack(ctx, accountID, category, gen, raw); err != nil {
		c.logger.WarnContext(ctx, "user state write-back failed",
			slog.String("account_id", accountID),
			slog.String("category", string(category)),
			slog.Any("error", err),
		)
	}

	return json.Unmarshal(raw, dst)
}

// writeBack stores raw unless the account was invalidated after gen was
// read. The account's generation stays locked until the write returns, so
// an invalidation cannot slip between the check and the write.
func (c *Cache) writeBack(ctx context.Context, accountID string, category Category, gen uint64, raw []byte) error {
	g := c.generation(accountID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.n != gen {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, writeBackTimeout)
	defer cancel()
	return c.store.Put(ctx, Key(accountID, category), string(raw), 0)
}

func (c *Cache) generation(accountID string) *generation {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.accounts[accountID]
	if !ok {
		g = &generation{}
		c.accounts[accountID] = g
	}
	return g
}

func (c *Cache) current(accountID string) uint64 {
	g := c.generation(accountID)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func (c *Cache) bump(accountID string) {
	g := c.generation(accountID)
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
}

// Permissions returns the account's permission codes
func (c *Cache) Permissions(ctx context.Context, accountID string) ([]string, error) {
	var perms []string
	if err := c.Load(ctx, accountID, CategoryPerms, &perms); err != nil {
		return nil, err
	}
	return perms, nil
}

// HasPermission is a set membership test over Permissions
func (c *Cache) HasPermission(ctx context.Context, accountID, perm string) (bool, error) {
	perms, err := c.Permissions(ctx, accountID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == perm {
			return true, nil
		}
	}
	return false, nil
}

// Subscribe clears every category of an account whenever it changes
func (c *Cache) Subscribe(bus *events.Bus) {
	bus.Subscribe(func(ctx context.Context, evt events.AccountChanged) error {
		return c.InvalidateAll(ctx, evt.AccountID)
	})
}
