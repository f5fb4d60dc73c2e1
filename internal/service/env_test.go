package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jackhman/opsli-boot/internal/config"
	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository/memory"
	"github.com/jackhman/opsli-boot/pkg/events"
	"github.com/jackhman/opsli-boot/pkg/hash"
	"github.com/jackhman/opsli-boot/pkg/jwt"
	"github.com/jackhman/opsli-boot/pkg/kvstore"
	"github.com/jackhman/opsli-boot/pkg/userstate"
)

const testTokenTTL = 3600 * time.Second

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AccountChanged
	next   events.Publisher
}

func (p *recordingPublisher) Publish(ctx context.Context, evt events.AccountChanged) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	if p.next != nil {
		p.next.Publish(ctx, evt)
	}
}

func (p *recordingPublisher) Events() []events.AccountChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.AccountChanged(nil), p.events...)
}

type testEnv struct {
	mr        *miniredis.Miniredis
	kv        *kvstore.RedisStore
	clock     *testClock
	codec     *jwt.TokenCodec
	bus       *events.Bus
	published *recordingPublisher
	cache     *userstate.Cache
	store     *memory.Store
	sessions  *SessionService
	users     *UserService
	hasher    *hash.Hasher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	kv := kvstore.NewRedisStore(client, "opsli:")

	clock := &testClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	codec, err := jwt.NewTokenCodec(
		jwt.Key{ID: "k1", Secret: []byte("test-secret-0123456789abcdef")},
		testTokenTTL,
		"opsli-test",
		jwt.WithClock(clock.Now),
	)
	require.NoError(t, err)

	store := memory.NewStore()
	bus := events.NewBus(nil)
	published := &recordingPublisher{next: bus}

	cache := userstate.New(kv, NewIdentityProvider(store.Users(), store.Roles()), nil)
	cache.Subscribe(bus)

	sessions := NewSessionService(codec, kv, published, config.SessionConfig{
		TokenTTL:     testTokenTTL,
		Grace:        20 * time.Minute,
		StoreTimeout: time.Second,
		TokenName:    "token",
	}, nil)
	sessions.SetClock(clock.Now)

	hasher, err := hash.NewHasher(fastArgon2)
	require.NoError(t, err)

	return &testEnv{
		mr:        mr,
		kv:        kv,
		clock:     clock,
		codec:     codec,
		bus:       bus,
		published: published,
		cache:     cache,
		store:     store,
		sessions:  sessions,
		users:     NewUserService(cache),
		hasher:    hasher,
	}
}

var fastArgon2 = hash.Params{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func (e *testEnv) addUser(t *testing.T, id, username, password string) domain.User {
	t.Helper()
	pw, err := e.hasher.Hash(password)
	require.NoError(t, err)

	u := domain.User{
		ID:           id,
		Username:     username,
		PasswordHash: pw,
		RealName:     username,
		TenantID:     "T1",
		Status:       domain.UserStatusActive,
	}
	e.store.AddUser(u)
	return u
}
