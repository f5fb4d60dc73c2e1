package domain

import (
	"time"
)

// Role groups menus and permissions; users hold roles
type Role struct {
	ID        string    `json:"id" db:"id"`
	RoleCode  string    `json:"role_code" db:"role_code"`
	RoleName  string    `json:"role_name" db:"role_name"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type MenuType string

const (
	MenuTypeMenu     MenuType = "1"
	MenuTypeButton   MenuType = "2"
	MenuTypeExternal MenuType = "3"
)

// Menu is a navigable entry or a button. A non-empty Perms is the
// permission code granted to holders of a role bound to the menu.
type Menu struct {
	ID       string   `json:"id" db:"id"`
	ParentID string   `json:"parent_id" db:"parent_id"`
	MenuName string   `json:"menu_name" db:"menu_name"`
	URL      string   `json:"url" db:"url"`
	Perms    string   `json:"perms" db:"perms"`
	Type     MenuType `json:"type" db:"type"`
	Sort     int      `json:"sort" db:"sort_no"`
}
