package domain

import (
	"time"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusLocked   UserStatus = "locked"
)

type User struct {
	ID           string     `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	PasswordHash string     `json:"-" db:"password_hash"`
	RealName     string     `json:"real_name" db:"real_name"`
	Email        string     `json:"email" db:"email"`
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	Status       UserStatus `json:"status" db:"status"`
	FailedLogins int        `json:"-" db:"failed_logins"`
	LockedUntil  *time.Time `json:"-" db:"locked_until"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at" db:"last_login_at"`
}

// Identity is the minimal subject a session is issued for
type Identity struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	TenantID  string `json:"tenant_id,omitempty"`
}

func (u *User) Identity() *Identity {
	return &Identity{
		AccountID: u.ID,
		Username:  u.Username,
		TenantID:  u.TenantID,
	}
}

// Profile is the cached, presentation-safe view of a user
type Profile struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	RealName string     `json:"real_name"`
	Email    string     `json:"email"`
	TenantID string     `json:"tenant_id"`
	Status   UserStatus `json:"status"`
	OrgIDs   []string   `json:"org_ids"`
}
