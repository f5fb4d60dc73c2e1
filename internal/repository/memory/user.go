package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackhman/opsli-boot/internal/domain"
	"github.com/jackhman/opsli-boot/internal/repository"
)

// UserRepository implements repository.UserRepository on a Store
type UserRepository struct {
	s *Store
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	return &u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, repository.ErrNotFound)
}

func (r *UserRepository) GetOrgIDs(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.userOrgs[userID].sorted(), nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	return r.mutate(ctx, id, func(u *domain.User) {
		now := time.Now()
		u.LastLoginAt = &now
	})
}

func (r *UserRepository) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	var count int
	err := r.mutate(ctx, id, func(u *domain.User) {
		u.FailedLogins++
		count = u.FailedLogins
	})
	return count, err
}

func (r *UserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	return r.mutate(ctx, id, func(u *domain.User) {
		u.FailedLogins = 0
		u.LockedUntil = nil
	})
}

func (r *UserRepository) Lock(ctx context.Context, id string, until time.Time) error {
	return r.mutate(ctx, id, func(u *domain.User) {
		u.LockedUntil = &until
	})
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	return r.mutate(ctx, id, func(u *domain.User) {
		u.PasswordHash = passwordHash
	})
}

func (r *UserRepository) mutate(ctx context.Context, id string, fn func(u *domain.User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	fn(&u)
	u.UpdatedAt = time.Now()
	r.s.users[id] = u
	return nil
}
