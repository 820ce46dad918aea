package rbac

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// Action is the right half of a permission codename
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Valid reports whether the action is one of the four CRUD actions
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Well-known resources used by the administration gates
const (
	ResourceUserManagement  = "user_management"
	ResourceUserGroup       = "user_group"
	ResourceGroupPermission = "group_permission"
	ResourceGroup           = "group"
	ResourcePermission      = "permission"
	ResourceAuditLog        = "audit_log"
)

// Codename builds the "{resource}.{action}" identifier of a permission
func Codename(resource string, action Action) string {
	return resource + "." + string(action)
}

// ActionForMethod maps an HTTP verb to the CRUD action it exercises.
// The second return value is false for verbs with no mapping.
func ActionForMethod(method string) (Action, bool) {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionRead, true
	case http.MethodPost:
		return ActionCreate, true
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate, true
	case http.MethodDelete:
		return ActionDelete, true
	}
	return "", false
}

// User is the authenticated principal permission checks are evaluated for
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	IsActive    bool   `json:"is_active"`
	IsSuperuser bool   `json:"is_superuser"`
}

// active reports whether u is a non-nil, active user
func (u *User) active() bool {
	return u != nil && u.IsActive
}

// Group is a named collection of permissions users can belong to
type Group struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserGroup is a membership edge between a user and a group
type UserGroup struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	GroupID    int64     `json:"group_id"`
	IsActive   bool      `json:"is_active"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Permission is a (resource, action) capability
type Permission struct {
	ID          int64  `json:"id"`
	Resource    string `json:"resource"`
	Action      Action `json:"action"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Codename returns the "{resource}.{action}" identifier
func (p Permission) Codename() string {
	return Codename(p.Resource, p.Action)
}

// GroupPermission assigns a permission to a group. Rows with Granted=false are
// kept but contribute nothing to the effective set.
type GroupPermission struct {
	ID           int64     `json:"id"`
	GroupID      int64     `json:"group_id"`
	PermissionID int64     `json:"permission_id"`
	Granted      bool      `json:"granted"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    *int64    `json:"created_by,omitempty"`
}

// Membership is an active membership row joined with its active group
type Membership struct {
	GroupID    int64
	GroupCode  string
	GroupName  string
	AssignedAt time.Time
}

// GrantedPermission is a granted group permission joined with the permission row
type GrantedPermission struct {
	GroupID  int64
	Resource string
	Action   Action
	Name     string
}

// PermissionSet is an unordered set of permission codenames
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from codenames
func NewPermissionSet(codenames ...string) PermissionSet {
	set := make(PermissionSet, len(codenames))
	for _, c := range codenames {
		set[c] = struct{}{}
	}
	return set
}

// Clone returns an independent copy of the set
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Has reports whether the codename is in the set
func (s PermissionSet) Has(codename string) bool {
	_, ok := s[codename]
	return ok
}

// Slice returns the codenames sorted, mostly for serialization
func (s PermissionSet) Slice() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// EffectiveGroup is one active group in an effective permissions report
type EffectiveGroup struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	AssignedAt time.Time `json:"assigned_at"`
}

// EffectiveGrant is a permission together with the group that granted it
type EffectiveGrant struct {
	Codename  string `json:"codename"`
	Resource  string `json:"resource"`
	Action    Action `json:"action"`
	Name      string `json:"name"`
	GrantedBy string `json:"granted_by"`
}

// EffectivePermissions is the detailed report returned for a user.
// A permission reachable through several groups appears once per group.
type EffectivePermissions struct {
	UserID          int64            `json:"user_id"`
	Groups          []EffectiveGroup `json:"groups"`
	Permissions     []EffectiveGrant `json:"permissions"`
	PermissionCount int              `json:"permission_count"`
	GroupCount      int              `json:"group_count"`
}
