package repository

import (
	"context"
	"time"

	"github.com/jackhman/opsli-boot/internal/domain"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetOrgIDs(ctx context.Context, userID string) ([]string, error)
	UpdateLastLogin(ctx context.Context, id string) error
	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	ResetFailedLogins(ctx context.Context, id string) error
	Lock(ctx context.Context, id string, until time.Time) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}
