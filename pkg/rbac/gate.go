package rbac

import (
	"context"
	"net/http"
	"strings"
)

// Gate evaluates requirements for a principal and an HTTP verb.
// Every predicate denies nil or inactive users and admits active superusers
// before consulting the checker.
type Gate struct {
	checker Checker
}

// NewGate creates a gate backed by checker
func NewGate(checker Checker) *Gate {
	return &Gate{checker: checker}
}

// Allow dispatches on the requirement kind. Unknown kinds deny.
func (g *Gate) Allow(ctx context.Context, req Requirement, user *User, method string) bool {
	switch req.Kind {
	case KindModelPermission:
		return g.HasGroupPermission(ctx, user, method, req)
	case KindUserGroupAdmin:
		return g.CanManageUserGroups(ctx, user, method)
	case KindSpecificPermission:
		return g.HasSpecificPermission(ctx, user, req.Permission)
	case KindGroupMember:
		return g.IsGroupMember(ctx, user, req.Groups)
	case KindPermissionAdmin:
		return g.CanManagePermissions(ctx, user, method)
	}
	return false
}

// admit handles the shared prelude. decided is false when the checker must be asked.
func admit(user *User) (allowed, decided bool) {
	if !user.active() {
		return false, true
	}
	if user.IsSuperuser {
		return true, true
	}
	return false, false
}

// HasGroupPermission maps method to an action on the requirement's resource
func (g *Gate) HasGroupPermission(ctx context.Context, user *User, method string, req Requirement) bool {
	if allowed, decided := admit(user); decided {
		return allowed
	}

	resource := req.resourceName()
	if resource == "" {
		return false
	}
	action, ok := ActionForMethod(method)
	if !ok {
		return false
	}
	return g.checker.CheckPermission(ctx, user, resource, action)
}

// CanManageUserGroups guards membership administration
func (g *Gate) CanManageUserGroups(ctx context.Context, user *User, method string) bool {
	return g.adminCheck(ctx, user, method, ResourceUserGroup)
}

// CanManagePermissions guards group permission administration
func (g *Gate) CanManagePermissions(ctx context.Context, user *User, method string) bool {
	return g.adminCheck(ctx, user, method, ResourceGroupPermission)
}

func (g *Gate) adminCheck(ctx context.Context, user *User, method, resource string) bool {
	if allowed, decided := admit(user); decided {
		return allowed
	}

	var action Action
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		action = ActionRead
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		action = ActionUpdate
	default:
		return false
	}
	return g.checker.CheckPermission(ctx, user, resource, action)
}

// HasSpecificPermission requires exactly one (resource, action) pair
func (g *Gate) HasSpecificPermission(ctx context.Context, user *User, pair []string) bool {
	if allowed, decided := admit(user); decided {
		return allowed
	}
	if len(pair) != 2 || pair[0] == "" {
		return false
	}
	action := Action(pair[1])
	if !action.Valid() {
		return false
	}
	return g.checker.CheckPermission(ctx, user, pair[0], action)
}

// IsGroupMember requires membership in one of codes. A nil list denies.
func (g *Gate) IsGroupMember(ctx context.Context, user *User, codes []string) bool {
	if allowed, decided := admit(user); decided {
		return allowed
	}
	if codes == nil {
		return false
	}
	return g.checker.HasAnyGroup(ctx, user, codes)
}
