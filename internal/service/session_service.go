package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackhman/opsli-boot/internal/config"
	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/pkg/events"
	"github.com/jackhman/opsli-boot/pkg/jwt"
	"github.com/jackhman/opsli-boot/pkg/kvstore"
)

var (
	ErrIdentityMissing = errors.New("identity is required")
	ErrSessionStore    = errors.New("session store unavailable")
)

// ticketPrefix namespaces liveness records inside the store prefix
const ticketPrefix = "ticket:"

// SessionService issues, verifies and revokes bearer sessions. A session is
// a signed token plus a liveness record keyed by the token's digest; the
// record is what makes early revocation possible.
type SessionService struct {
	codec     *jwt.TokenCodec
	store     kvstore.Store
	publisher events.Publisher
	cfg       config.SessionConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewSessionService(
	codec *jwt.TokenCodec,
	store kvstore.Store,
	publisher events.Publisher,
	cfg config.SessionConfig,
	logger *slog.Logger,
) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		codec:     codec,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source used for liveness TTLs
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateSession signs a token for identity and records it as live. When
// the record cannot be written no session exists and the token is dropped.
func (s *SessionService) CreateSession(ctx context.Context, identity *domain.Identity) (*domain.Session, error) {
	if identity == nil || identity.AccountID == "" {
		return nil, ErrIdentityMissing
	}

	token, err := s.codec.Sign(identity.AccountID, identity.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: sign token: %w", ErrSessionStore, err)
	}

	expiresAt, err := s.codec.ExpiresAt(token)
	if err != nil {
		return nil, fmt.Errorf("%w: read expiry: %w", ErrSessionStore, err)
	}

	// remaining validity plus grace
	ttl := max(expiresAt.Sub(s.now())+s.cfg.Grace, time.Second)

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	expire := strconv.FormatInt(expiresAt.UnixMilli(), 10)
	if err := s.store.Put(storeCtx, ticketKey(token), expire, ttl); err != nil {
		s.logger.ErrorContext(ctx, "failed to record session",
			slog.String("account_id", identity.AccountID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %w", ErrSessionStore, err)
	}

	return &domain.Session{
		Token:     token,
		Expire:    expiresAt.UnixMilli(),
		ExpiresAt: expiresAt,
	}, nil
}

// VerifySession reports whether token is authentic, unexpired and not
// revoked. Any doubt, including a store failure, is a false.
func (s *SessionService) VerifySession(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	if !s.codec.Verify(token) {
		return false
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	_, ok, err := s.store.Get(storeCtx, ticketKey(token))
	if err != nil {
		s.logger.WarnContext(ctx, "session liveness check failed", slog.Any("error", err))
		return false
	}
	return ok
}

// ResolveAccountID returns the account claim or "" when the token cannot be decoded
func (s *SessionService) ResolveAccountID(token string) string {
	v, err := s.codec.Claim(token, jwt.ClaimAccountID)
	if err != nil {
		return ""
	}
	return v
}

// ResolveUsername returns the username claim or "" when the token cannot be decoded
func (s *SessionService) ResolveUsername(token string) string {
	v, err := s.codec.Claim(token, jwt.ClaimUsername)
	if err != nil {
		return ""
	}
	return v
}

// SignedAccountID returns the account claim of a token signed by one of the
// codec's keys, expired or not, and "" for anything else
func (s *SessionService) SignedAccountID(token string) string {
	claims, err := s.codec.ParseSignature(token)
	if err != nil {
		return ""
	}
	return claims.AccountID
}

// RevokeSession deletes the liveness record, then announces a logout so
// every cached fact of the account is dropped. The announcement needs an
// authentic signature; the record is deleted regardless. Only a failure to
// delete the record is returned.
func (s *SessionService) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	storeCtx, cancel := s.storeContext(ctx)
	delErr := s.store.Delete(storeCtx, ticketKey(token))
	cancel()

	if delErr != nil {
		s.logger.ErrorContext(ctx, "failed to delete session record", slog.Any("error", delErr))
	}

	if accountID := s.SignedAccountID(token); accountID != "" {
		pubCtx, cancel := s.storeContext(ctx)
		s.publisher.Publish(pubCtx, events.AccountChanged{
			AccountID: accountID,
			Reason:    events.ReasonLogout,
		})
		cancel()
	}

	if delErr != nil {
		return fmt.Errorf("%w: %w", ErrSessionStore, delErr)
	}
	return nil
}

func (s *SessionService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func ticketKey(token string) string {
	return ticketPrefix + hashToken(token)
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
