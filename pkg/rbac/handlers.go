package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rhdesk/hrcore/pkg/httputil"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/sirupsen/logrus"
)

// UserLookup resolves user ids for the admin endpoints. Missing users must
// be reported with an error wrapping ErrNotFound.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*User, error)
}

// Route names usable as keys in a Policy file
const (
	RouteListGroups           = "list_groups"
	RouteCreateGroup          = "create_group"
	RouteListPermissions      = "list_permissions"
	RouteCreatePermission     = "create_permission"
	RouteListGroupPermissions = "list_group_permissions"
	RouteGrantPermission      = "grant_permission"
	RouteUpdateGrant          = "update_group_permission"
	RouteRevokePermission     = "revoke_group_permission"
	RouteListUserGroups       = "list_user_groups"
	RouteAddUserGroup         = "add_user_group"
	RouteUpdateUserGroup      = "update_user_group"
	RouteRemoveUserGroup      = "remove_user_group"
	RouteEffectivePermissions = "effective_permissions"
	RouteInvalidateCache      = "invalidate_cache"
)

// Handlers provides HTTP handlers for permission administration
type Handlers struct {
	manager *Manager
	users   UserLookup
	policy  *Policy
	log     logrus.FieldLogger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager, users UserLookup, policy *Policy, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		manager: manager,
		users:   users,
		policy:  policy,
		log:     observability.OrDefault(log),
	}
}

// RegisterRoutes registers all RBAC routes, each behind its guard
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	pm := h.manager.middleware
	guarded := func(name, path, method string, def Requirement, fn http.HandlerFunc) {
		router.Handle(path, pm.Protect(h.policy.Requirement(name, def), fn)).Methods(method).Name(name)
	}

	guarded(RouteListGroups, "/api/groups", http.MethodGet, ModelPermission(ResourceGroup), h.ListGroups)
	guarded(RouteCreateGroup, "/api/groups", http.MethodPost, ModelPermission(ResourceGroup), h.CreateGroup)

	guarded(RouteListPermissions, "/api/permissions", http.MethodGet, ModelPermission(ResourcePermission), h.ListPermissions)
	guarded(RouteCreatePermission, "/api/permissions", http.MethodPost, ModelPermission(ResourcePermission), h.CreatePermission)
	guarded(RouteInvalidateCache, "/api/permissions/cache/invalidate", http.MethodPost, PermissionAdmin(), h.InvalidateCache)

	guarded(RouteListGroupPermissions, "/api/group-permissions", http.MethodGet, PermissionAdmin(), h.ListGroupPermissions)
	guarded(RouteGrantPermission, "/api/group-permissions", http.MethodPost, PermissionAdmin(), h.GrantPermission)
	guarded(RouteUpdateGrant, "/api/group-permissions/{id}", http.MethodPatch, PermissionAdmin(), h.UpdateGroupPermission)
	guarded(RouteRevokePermission, "/api/group-permissions/{id}", http.MethodDelete, PermissionAdmin(), h.RevokePermission)

	guarded(RouteListUserGroups, "/api/user-groups", http.MethodGet, UserGroupAdmin(), h.ListUserGroups)
	guarded(RouteAddUserGroup, "/api/user-groups", http.MethodPost, UserGroupAdmin(), h.AddUserGroup)
	guarded(RouteUpdateUserGroup, "/api/user-groups/{id}", http.MethodPatch, UserGroupAdmin(), h.UpdateUserGroup)
	guarded(RouteRemoveUserGroup, "/api/user-groups/{id}", http.MethodDelete, UserGroupAdmin(), h.RemoveUserGroup)

	guarded(RouteEffectivePermissions, "/api/users/{id}/effective-permissions", http.MethodGet,
		SpecificPermission(ResourceUserManagement, ActionRead), h.UserEffectivePermissions)

	// any authenticated user may read their own permissions
	router.HandleFunc("/api/me/permissions", h.MyPermissions).Methods(http.MethodGet).Name("my_permissions")
}

// storeError maps store errors to responses
func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "not found")
		return
	}
	h.log.WithError(err).WithField("path", r.URL.Path).Error("rbac store error")
	httputil.WriteInternalError(w)
}

// ListGroups lists all groups
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.manager.store.ListGroups(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []Group{}
	}
	httputil.WriteSuccess(w, groups)
}

// CreateGroup creates a group
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Code == "" || req.Name == "" {
		httputil.WriteBadRequest(w, "code and name are required")
		return
	}

	group, err := h.manager.CreateGroup(r.Context(), req.Code, req.Name)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, group)
}

// ListPermissions lists all permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.manager.store.ListPermissions(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httputil.WriteSuccess(w, perms)
}

// CreatePermission creates a permission
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resource    string `json:"resource"`
		Action      Action `json:"action"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Resource == "" || !req.Action.Valid() {
		httputil.WriteBadRequest(w, "resource and a CRUD action are required")
		return
	}

	perm := &Permission{
		Resource:    req.Resource,
		Action:      req.Action,
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.manager.CreatePermission(r.Context(), perm); err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, perm)
}

// ListGroupPermissions lists edges, filtered by ?group_id=
func (h *Handlers) ListGroupPermissions(w http.ResponseWriter, r *http.Request) {
	groupID, ok, err := httputil.ParseQueryInt64(r, "group_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var filter *int64
	if ok {
		filter = &groupID
	}

	edges, err := h.manager.store.ListGroupPermissions(r.Context(), filter)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if edges == nil {
		edges = []GroupPermission{}
	}
	httputil.WriteSuccess(w, edges)
}

// GrantPermission writes a (group, permission) edge
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GroupID      int64 `json:"group_id"`
		PermissionID int64 `json:"permission_id"`
		Granted      *bool `json:"granted"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.GroupID <= 0 || req.PermissionID <= 0 {
		httputil.WriteBadRequest(w, "group_id and permission_id are required")
		return
	}
	granted := true
	if req.Granted != nil {
		granted = *req.Granted
	}

	var actorID *int64
	if actor := UserFromContext(r.Context()); actor != nil {
		id := actor.ID
		actorID = &id
	}

	gp, err := h.manager.GrantPermission(r.Context(), req.GroupID, req.PermissionID, granted, actorID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, gp)
}

// UpdateGroupPermission sets the granted flag
func (h *Handlers) UpdateGroupPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Granted *bool `json:"granted"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Granted == nil {
		httputil.WriteBadRequest(w, "granted is required")
		return
	}

	gp, err := h.manager.SetGranted(r.Context(), id, *req.Granted)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, gp)
}

// RevokePermission deletes an edge
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.RevokePermission(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListUserGroups lists memberships, filtered by ?user_id=
func (h *Handlers) ListUserGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok, err := httputil.ParseQueryInt64(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var filter *int64
	if ok {
		filter = &userID
	}

	memberships, err := h.manager.store.ListUserGroups(r.Context(), filter)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []UserGroup{}
	}
	httputil.WriteSuccess(w, memberships)
}

// AddUserGroup adds a user to a group once the actor may manage the target
func (h *Handlers) AddUserGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  int64 `json:"user_id"`
		GroupID int64 `json:"group_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.GroupID <= 0 {
		httputil.WriteBadRequest(w, "user_id and group_id are required")
		return
	}

	target, err := h.users.GetUser(r.Context(), req.UserID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if !h.manager.service.CanManageUserGroups(r.Context(), UserFromContext(r.Context()), target) {
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	ug, err := h.manager.AddUserToGroup(r.Context(), req.UserID, req.GroupID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ug)
}

// UpdateUserGroup toggles a membership
func (h *Handlers) UpdateUserGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		httputil.WriteBadRequest(w, "is_active is required")
		return
	}

	ug, err := h.manager.SetMembershipActive(r.Context(), id, *req.IsActive)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ug)
}

// RemoveUserGroup deletes a membership
func (h *Handlers) RemoveUserGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.RemoveUserFromGroup(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// MyPermissions reports the caller's own effective permissions
func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, h.manager.service.EffectivePermissions(r.Context(), user))
}

// UserEffectivePermissions reports another user's effective permissions
func (h *Handlers) UserEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, h.manager.service.EffectivePermissions(r.Context(), user))
}

// InvalidateCache clears one user's cached set ({"user_id": n}) or all of them
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID *int64 `json:"user_id"`
	}
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var err error
	scope := "all"
	if req.UserID != nil {
		scope = "user"
		err = h.manager.service.InvalidateUserCache(r.Context(), *req.UserID)
	} else {
		err = h.manager.service.InvalidateAllCache(r.Context())
	}
	if err != nil {
		h.log.WithError(err).Error("manual cache invalidation failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "invalidated", "scope": scope})
}
