package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"
	"github.com/rhdesk/hrcore/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Config holds RBAC configuration
type Config struct {
	// CacheTTL is how long a resolved permission set stays cached
	CacheTTL time.Duration

	// CacheSize bounds the in-memory cache (ignored for Redis)
	CacheSize int
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:  DefaultCacheTTL,
		CacheSize: 10000,
	}
}

// Manager wires the store, resolver, guards and admin handlers. Every
// mutation of group permissions or memberships clears the whole cache.
type Manager struct {
	store      *SQLStore
	service    *PermissionService
	middleware *PermissionMiddleware
	log        logrus.FieldLogger
}

// NewManager creates a new RBAC manager. A nil cache gets an in-memory one sized from config.
func NewManager(db *sql.DB, cache Cache, config Config, log logrus.FieldLogger, metrics *observability.Metrics) *Manager {
	log = observability.OrDefault(log)
	if cache == nil {
		cache = NewMemoryCache(config.CacheSize, config.CacheTTL)
	}

	store := NewSQLStore(db)
	service := NewPermissionService(store, cache, ServiceOptions{
		CacheTTL: config.CacheTTL,
		Logger:   log,
		Metrics:  metrics,
	})

	return &Manager{
		store:      store,
		service:    service,
		middleware: NewPermissionMiddleware(service, log),
		log:        log,
	}
}

// Initialize runs migrations and seeds the built-in permissions
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.store.db, m.log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := SeedPermissions(ctx, m.store); err != nil {
		return fmt.Errorf("failed to seed permissions: %w", err)
	}
	return nil
}

// Store returns the RBAC store
func (m *Manager) Store() *SQLStore {
	return m.store
}

// Service returns the permission resolver
func (m *Manager) Service() *PermissionService {
	return m.service
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// RegisterRoutes mounts the administration API
func (m *Manager) RegisterRoutes(router *mux.Router, users UserLookup, policy *Policy) {
	NewHandlers(m, users, policy, m.log).RegisterRoutes(router)
}

// invalidate runs after a committed mutation; a cache failure leaves entries
// to expire on their TTL
func (m *Manager) invalidate(ctx context.Context) {
	if err := m.service.InvalidateAllCache(ctx); err != nil {
		m.log.WithError(err).Error("permission cache invalidation failed")
	}
}

// CreateGroup creates a group. New groups have no members so the cache is untouched.
func (m *Manager) CreateGroup(ctx context.Context, code, name string) (*Group, error) {
	group := &Group{Code: code, Name: name, IsActive: true}
	if err := m.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// CreatePermission creates a (resource, action) permission
func (m *Manager) CreatePermission(ctx context.Context, perm *Permission) error {
	return m.store.CreatePermission(ctx, perm)
}

// GrantPermission writes the (group, permission) edge, updating an existing one
func (m *Manager) GrantPermission(ctx context.Context, groupID, permissionID int64, granted bool, actorID *int64) (*GroupPermission, error) {
	gp := &GroupPermission{
		GroupID:      groupID,
		PermissionID: permissionID,
		Granted:      granted,
		CreatedBy:    actorID,
	}
	if err := m.store.UpsertGroupPermission(ctx, gp); err != nil {
		return nil, err
	}
	m.invalidate(ctx)
	return gp, nil
}

// SetGranted flips an edge's granted flag
func (m *Manager) SetGranted(ctx context.Context, id int64, granted bool) (*GroupPermission, error) {
	if err := m.store.SetGroupPermissionGranted(ctx, id, granted); err != nil {
		return nil, err
	}
	m.invalidate(ctx)
	return m.store.GetGroupPermission(ctx, id)
}

// RevokePermission deletes an edge
func (m *Manager) RevokePermission(ctx context.Context, id int64) error {
	if err := m.store.DeleteGroupPermission(ctx, id); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}

// AddUserToGroup creates or reactivates a membership
func (m *Manager) AddUserToGroup(ctx context.Context, userID, groupID int64) (*UserGroup, error) {
	ug := &UserGroup{UserID: userID, GroupID: groupID}
	if err := m.store.AddUserToGroup(ctx, ug); err != nil {
		return nil, err
	}
	m.invalidate(ctx)
	return ug, nil
}

// SetMembershipActive toggles a membership
func (m *Manager) SetMembershipActive(ctx context.Context, id int64, active bool) (*UserGroup, error) {
	if err := m.store.SetUserGroupActive(ctx, id, active); err != nil {
		return nil, err
	}
	m.invalidate(ctx)
	return m.store.GetUserGroup(ctx, id)
}

// RemoveUserFromGroup deletes a membership
func (m *Manager) RemoveUserFromGroup(ctx context.Context, id int64) error {
	if err := m.store.DeleteUserGroup(ctx, id); err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}
