package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackhman/opsli-boot/internal/config"
	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository"
	"github.com/jackhman/opsli-boot/pkg/hash"
)

// Custom errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountInactive    = errors.New("account is not active")
	ErrUnauthenticated    = errors.New("not authenticated")
)

type AuthService struct {
	userRepo repository.UserRepository
	sessions *SessionService
	users    *UserService
	hasher   *hash.Hasher
	cfg      config.AuthConfig
	logger   *slog.Logger
}

type LoginRequest struct {
	Username string `json:"username" form:"username" validate:"required,max=64"`
	Password string `json:"password" form:"password" validate:"required,min=6"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	Expire    int64     `json:"expire"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *UserDTO  `json:"user"`
}

type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	RealName string `json:"real_name"`
	TenantID string `json:"tenant_id"`
}

func NewAuthService(
	userRepo repository.UserRepository,
	sessions *SessionService,
	users *UserService,
	hasher *hash.Hasher,
	cfg config.AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo: userRepo,
		sessions: sessions,
		users:    users,
		hasher:   hasher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Login checks the password and opens a session
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.userRepo.GetByUsername(ctx, req.Username)
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.Burn(req.Password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	now := time.Now()
	if user.Status == domain.UserStatusLocked {
		return nil, ErrAccountLocked
	}
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return nil, ErrAccountLocked
	}

	valid, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		if err := s.handleFailedLogin(ctx, user, now); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if user.Status != domain.UserStatusActive {
		return nil, ErrAccountInactive
	}

	// Clear the counter and any expired lock
	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := s.userRepo.ResetFailedLogins(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	session, err := s.sessions.CreateSession(ctx, user.Identity())
	if err != nil {
		return nil, err
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, req.Password)
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to update last login",
			slog.String("account_id", user.ID),
			slog.Any("error", err),
		)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("account_id", user.ID),
		slog.String("username", user.Username),
	)

	return &LoginResponse{
		Token:     session.Token,
		Expire:    session.Expire,
		ExpiresAt: session.ExpiresAt,
		User: &UserDTO{
			ID:       user.ID,
			Username: user.Username,
			RealName: user.RealName,
			TenantID: user.TenantID,
		},
	}, nil
}

// Logout revokes the session carried by token
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.RevokeSession(ctx, token); err != nil {
		return err
	}

	if accountID := s.sessions.SignedAccountID(token); accountID != "" {
		s.logger.InfoContext(ctx, "user logged out", slog.String("account_id", accountID))
	}
	return nil
}

// Me returns the profile of the session owner
func (s *AuthService) Me(ctx context.Context, token string) (*domain.Profile, error) {
	if !s.sessions.VerifySession(ctx, token) {
		return nil, ErrUnauthenticated
	}
	return s.users.Profile(ctx, s.sessions.ResolveAccountID(token))
}

// handleFailedLogin increments failed login count and locks account if threshold is reached
func (s *AuthService) handleFailedLogin(ctx context.Context, user *domain.User, now time.Time) error {
	count, err := s.userRepo.IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		return err
	}

	if s.cfg.MaxFailedLogins <= 0 || count < s.cfg.MaxFailedLogins {
		return nil
	}

	if err := s.userRepo.Lock(ctx, user.ID, now.Add(s.cfg.LockDuration)); err != nil {
		return err
	}

	s.logger.WarnContext(ctx, "account locked after failed logins",
		slog.String("account_id", user.ID),
		slog.Int("failed_logins", count),
	)
	return nil
}

// rehash upgrades a stored hash to the current parameters. Failure only
// postpones the upgrade to the next login.
func (s *AuthService) rehash(ctx context.Context, accountID, password string) {
	encoded, err := s.hasher.Hash(password)
	if err == nil {
		err = s.userRepo.UpdatePasswordHash(ctx, accountID, encoded)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade password hash",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", slog.String("account_id", accountID))
}
