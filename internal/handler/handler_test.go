package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackhman/opsli-boot/internal/config"
	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/handler/middleware"
	"github.com/jackhman/opsli-boot/internal/repository/memory"
	"github.com/jackhman/opsli-boot/internal/service"
	"github.com/jackhman/opsli-boot/pkg/events"
	"github.com/jackhman/opsli-boot/pkg/hash"
	"github.com/jackhman/opsli-boot/pkg/jwt"
	"github.com/jackhman/opsli-boot/pkg/kvstore"
	"github.com/jackhman/opsli-boot/pkg/userstate"
	"github.com/jackhman/opsli-boot/pkg/validator"
)

const tokenHeader = "token"

type testServer struct {
	app   *fiber.App
	store *memory.Store
	mr    *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	kv := kvstore.NewRedisStore(client, "opsli:")

	codec, err := jwt.NewTokenCodec(jwt.Key{ID: "k1", Secret: []byte("handler-test-secret-0123456789")}, time.Hour, "opsli-test")
	require.NoError(t, err)

	store := memory.NewStore()
	bus := events.NewBus(nil)
	cache := userstate.New(kv, service.NewIdentityProvider(store.Users(), store.Roles()), nil)
	cache.Subscribe(bus)

	sessions := service.NewSessionService(codec, kv, bus, config.SessionConfig{
		TokenTTL:     time.Hour,
		Grace:        20 * time.Minute,
		StoreTimeout: time.Second,
		TokenName:    tokenHeader,
	}, nil)
	users := service.NewUserService(cache)
	hasher, err := hash.NewHasher(hash.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	auth := service.NewAuthService(store.Users(), sessions, users, hasher, config.AuthConfig{MaxFailedLogins: 5, LockDuration: time.Minute}, nil)
	orgs := service.NewOrgService(store.Orgs(), bus, nil)
	roles := service.NewRoleService(store.Roles(), bus, nil)
	v := validator.NewValidator()

	app := fiber.New()
	app.Use(middleware.RecoveryMiddleware(nil))
	app.Get("/panic", func(*fiber.Ctx) error { panic("boom") })

	health := NewHealthHandler(map[string]Check{"redis": kv.Ping})

	SetupRoutes(app, Handlers{
		Auth:   NewAuthHandler(auth, sessions, v, tokenHeader),
		User:   NewUserHandler(users),
		Org:    NewOrgHandler(orgs, v),
		Role:   NewRoleHandler(roles, v),
		Health: health,
	}, middleware.AuthMiddleware(sessions, tokenHeader), users)

	seed(t, store, hasher)
	return &testServer{app: app, store: store, mr: mr}
}

func seed(t *testing.T, store *memory.Store, hasher *hash.Hasher) {
	t.Helper()
	for _, u := range []struct{ id, name string }{{"u-admin", "admin"}, {"u-guest", "guest"}} {
		pw, err := hasher.Hash("secret-pw")
		require.NoError(t, err)
		store.AddUser(domain.User{ID: u.id, Username: u.name, PasswordHash: pw, TenantID: "T1", Status: domain.UserStatusActive})
	}

	store.AddRole(domain.Role{ID: "r-admin", RoleCode: "admin"})
	var menuIDs []string
	for _, perm := range []string{
		PermOrgSelect, PermOrgInsert, PermOrgUpdate, PermOrgDelete,
		PermOrgMembers, PermUserRoleGrant, PermRoleMenusGrant,
	} {
		store.AddMenu(domain.Menu{ID: "m-" + perm, Type: domain.MenuTypeButton, Perms: perm})
		menuIDs = append(menuIDs, "m-"+perm)
	}
	store.AddMenu(domain.Menu{ID: "m-home", MenuName: "Home", Type: domain.MenuTypeMenu})
	menuIDs = append(menuIDs, "m-home")

	ctx := context.Background()
	require.NoError(t, store.Roles().SetRoleMenus(ctx, "r-admin", menuIDs))
	require.NoError(t, store.Roles().AssignRoleToUser(ctx, "u-admin", "r-admin"))
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else if len(raw) > 0 {
		out["raw"] = string(raw)
	}
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": "secret-pw",
	})
	require.Equal(t, http.StatusOK, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "wrong-pw"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, service.ErrInvalidCredentials.Error(), body["error"])

	status, body = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "password is required")

	token := s.login(t, "admin")

	status, body = s.do(t, http.MethodGet, "/api/v1/auth/verify", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "u-admin", body["account_id"])

	// the query parameter is accepted as well
	status, _ = s.do(t, http.MethodGet, "/api/v1/auth/verify?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, status)

	// and the header wins over it
	status, _ = s.do(t, http.MethodGet, "/api/v1/auth/verify?token="+token, "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = s.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "admin", body["username"])

	status, body = s.do(t, http.MethodGet, "/api/v1/users/me/perms", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["permissions"], PermOrgSelect)

	status, body = s.do(t, http.MethodGet, "/api/v1/users/me/menus", token, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthRoutes_StoreDown(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin")

	s.mr.Close()

	status, _ := s.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "secret-pw"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.NotContains(t, body["error"], "dial")
}

func TestOrgRoutes(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin")

	status, body := s.do(t, http.MethodPost, "/api/v1/orgs", admin, map[string]any{"id": "A", "tenant_id": "T1", "org_code": "HQ", "org_name": "Head office"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "0", body["parent_ids"])

	status, body = s.do(t, http.MethodPost, "/api/v1/orgs", admin, map[string]any{"id": "B", "parent_id": "A", "org_code": "SALES", "org_name": "Sales"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "0,A", body["parent_ids"])
	assert.Equal(t, "T1", body["tenant_id"])

	status, _ = s.do(t, http.MethodPost, "/api/v1/orgs", admin, map[string]any{"parent_id": "A", "org_code": "SALES", "org_name": "Again"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/orgs", admin, map[string]any{"parent_id": "nope", "org_code": "X", "org_name": "X"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/orgs", admin, map[string]any{"org_code": "bad code", "org_name": "X"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPut, "/api/v1/orgs/A", admin, map[string]any{"parent_id": "B", "org_code": "HQ", "org_name": "Head office"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, body = s.do(t, http.MethodPut, "/api/v1/orgs/A", admin, map[string]any{"tenant_id": "T2", "org_code": "HQ", "org_name": "Head office"})
	require.Equal(t, http.StatusOK, status, body)

	status, body = s.do(t, http.MethodGet, "/api/v1/orgs/B", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "T2", body["tenant_id"])

	status, _ = s.do(t, http.MethodPut, "/api/v1/orgs/A", admin, map[string]any{"org_code": "HQ", "org_name": "stale", "version": 1})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/orgs/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.do(t, http.MethodGet, "/api/v1/orgs/A/children", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["raw"], `"id":"B"`)

	status, body = s.do(t, http.MethodPost, "/api/v1/orgs/has-children", admin, map[string]any{"ids": []string{"A", "B"}})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["raw"], `{"parent_id":"A","count":1}`)
	assert.Contains(t, body["raw"], `{"parent_id":"B","count":0}`)

	status, _ = s.do(t, http.MethodPost, "/api/v1/orgs/B/users/u-guest", admin, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = s.do(t, http.MethodDelete, "/api/v1/orgs/A", admin, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodDelete, "/api/v1/orgs/B/users/u-guest", admin, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = s.do(t, http.MethodDelete, "/api/v1/orgs/B/users/u-guest", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/orgs/delete", admin, map[string]any{"ids": []string{"B", "A"}})
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/orgs/B", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestOrgRoutes_RequirePermission(t *testing.T) {
	s := newTestServer(t)
	guest := s.login(t, "guest")

	status, body := s.do(t, http.MethodPost, "/api/v1/orgs", guest, map[string]any{"org_code": "HQ", "org_name": "Head office"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body["required_permissions"], PermOrgInsert)

	status, _ = s.do(t, http.MethodGet, "/api/v1/orgs/A", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRoleRoutes_GrantTakesEffectImmediately(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "admin")
	guest := s.login(t, "guest")

	status, _ := s.do(t, http.MethodPost, "/api/v1/orgs/has-children", guest, map[string]any{"ids": []string{"0"}})
	assert.Equal(t, http.StatusForbidden, status)

	s.store.AddRole(domain.Role{ID: "r-viewer", RoleCode: "viewer"})
	status, body := s.do(t, http.MethodPut, "/api/v1/admin/roles/r-viewer/menus", admin, map[string]any{"menu_ids": []string{"m-" + PermOrgSelect}})
	require.Equal(t, http.StatusOK, status, body)

	status, body = s.do(t, http.MethodPost, "/api/v1/admin/users/u-guest/roles/r-viewer", admin, nil)
	require.Equal(t, http.StatusOK, status, body)

	status, _ = s.do(t, http.MethodPost, "/api/v1/orgs/has-children", guest, map[string]any{"ids": []string{"0"}})
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodDelete, "/api/v1/admin/users/u-guest/roles/r-viewer", admin, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/orgs/has-children", guest, map[string]any{"ids": []string{"0"}})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/admin/users/u-guest/roles/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPut, "/api/v1/admin/roles/r-viewer/menus", admin, map[string]any{"menu_ids": []string{"missing"}})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)

	s.mr.Close()
	status, body = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, map[string]any{"redis": "down"}, body["checks"])
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/panic", "", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", body["error"])
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		service.ErrDuplicateCode:      http.StatusConflict,
		service.ErrDuplicateID:        http.StatusConflict,
		service.ErrNodeInUse:          http.StatusConflict,
		service.ErrVersionConflict:    http.StatusConflict,
		service.ErrParentNotFound:     http.StatusUnprocessableEntity,
		service.ErrCyclicParent:       http.StatusUnprocessableEntity,
		service.ErrOrgNotFound:        http.StatusNotFound,
		service.ErrAccountLocked:      http.StatusUnauthorized,
		service.ErrSessionStore:       http.StatusServiceUnavailable,
		errors.New("something else"):  http.StatusInternalServerError,
		context.DeadlineExceeded:      http.StatusGatewayTimeout,
		service.ErrUnauthenticated:    http.StatusUnauthorized,
		service.ErrMembershipNotFound: http.StatusNotFound,
		service.ErrInvalidCredentials: http.StatusUnauthorized,
		service.ErrIdentityMissing:    http.StatusBadRequest,
		service.ErrAssignmentNotFound: http.StatusNotFound,
		service.ErrAccountInactive:    http.StatusUnauthorized,
		service.ErrMenuNotFound:       http.StatusNotFound,
		service.ErrRoleNotFound:       http.StatusNotFound,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
