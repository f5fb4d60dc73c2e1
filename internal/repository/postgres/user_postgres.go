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

const userColumns = `
	id, username, password_hash, real_name, email, tenant_id, status,
	failed_logins, locked_until, created_at, updated_at, last_login_at`

type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sqlx.DB) repository.UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM sys_user WHERE id = $1`, id)
}

// GetByUsername retrieves a user by their login name
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM sys_user WHERE username = $1`, username)
}

func (r *userRepository) get(ctx context.Context, query, arg string) (*domain.User, error) {
	var user domain.User
	err := conn(ctx, r.db).GetContext(ctx, &user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", arg, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetOrgIDs lists the orgs a user belongs to
func (r *userRepository) GetOrgIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT org_id FROM sys_user_org_ref WHERE user_id = $1 ORDER BY org_id`

	var ids []string
	if err := conn(ctx, r.db).SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get user orgs: %w", err)
	}
	return ids, nil
}

// UpdateLastLogin updates the last login timestamp for a user
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	query := `
		UPDATE sys_user
		SET last_login_at = $1,
			updated_at = $2
		WHERE id = $3`

	now := time.Now()
	result, err := conn(ctx, r.db).ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return expectOne(result, fmt.Errorf("user %s: %w", id, repository.ErrNotFound))
}

// IncrementFailedLogins bumps the failed login counter and returns its new value
func (r *userRepository) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE sys_user
		SET failed_logins = failed_logins + 1,
			updated_at = $1
		WHERE id = $2
		RETURNING failed_logins`

	var count int
	err := conn(ctx, r.db).GetContext(ctx, &count, query, time.Now(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment failed logins: %w", err)
	}
	return count, nil
}

// ResetFailedLogins resets the failed login counter and clears any lock
func (r *userRepository) ResetFailedLogins(ctx context.Context, id string) error {
	query := `
		UPDATE sys_user
		SET failed_logins = 0,
			locked_until = NULL,
			updated_at = $1
		WHERE id = $2`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to reset failed logins: %w", err)
	}
	return expectOne(result, fmt.Errorf("user %s: %w", id, repository.ErrNotFound))
}

// Lock refuses logins for the user until the given time
func (r *userRepository) Lock(ctx context.Context, id string, until time.Time) error {
	query := `
		UPDATE sys_user
		SET locked_until = $1,
			updated_at = $2
		WHERE id = $3`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, until, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return expectOne(result, fmt.Errorf("user %s: %w", id, repository.ErrNotFound))
}

// UpdatePasswordHash replaces the stored password hash
func (r *userRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE sys_user
		SET password_hash = $1,
			updated_at = $2
		WHERE id = $3`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, passwordHash, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	return expectOne(result, fmt.Errorf("user %s: %w", id, repository.ErrNotFound))
}
