package domain

import (
	"strings"
	"time"
)

const (
	// TopParentID is the parent of every top-level org and the path they hold
	TopParentID = "0"
	// PathDelimiter separates ids in Org.ParentIDs
	PathDelimiter = ","
)

// Org is a node of the organization forest. ParentIDs is the materialized
// ancestor path, root to parent, always starting with TopParentID.
type Org struct {
	ID        string    `json:"id" db:"id"`
	ParentID  string    `json:"parent_id" db:"parent_id"`
	ParentIDs string    `json:"parent_ids" db:"parent_ids"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	OrgCode   string    `json:"org_code" db:"org_code"`
	OrgName   string    `json:"org_name" db:"org_name"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTop reports whether the org hangs directly off the top sentinel
func (o *Org) IsTop() bool {
	return o.ParentID == "" || o.ParentID == TopParentID
}

// ChildPath is the ParentIDs value every direct child of o must hold
func (o *Org) ChildPath() string {
	path := o.ParentIDs
	if path == "" {
		path = TopParentID
	}
	if !strings.HasSuffix(path, PathDelimiter) {
		path += PathDelimiter
	}
	return path + o.ID
}

// Ancestors splits ParentIDs, sentinel included
func (o *Org) Ancestors() []string {
	if o.ParentIDs == "" {
		return nil
	}
	return strings.Split(o.ParentIDs, PathDelimiter)
}

// HasAncestor reports whether id appears in o's ancestor path
func (o *Org) HasAncestor(id string) bool {
	for _, a := range o.Ancestors() {
		if a == id {
			return true
		}
	}
	return false
}

// HasChildren is the per-parent answer of a child-count fan-out
type HasChildren struct {
	ParentID string `json:"parent_id" db:"parent_id"`
	Count    int    `json:"count" db:"count"`
}
