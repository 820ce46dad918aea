package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens an in-memory sqlite database with the rbac schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every pooled connection would get its own empty :memory: database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE hr_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			codename TEXT NOT NULL UNIQUE,
			resource TEXT NOT NULL,
			action TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			UNIQUE(resource, action)
		);

		CREATE TABLE group_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			granted BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_by INTEGER,
			UNIQUE(group_id, permission_id)
		);

		CREATE TABLE user_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			group_id INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, group_id)
		);
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

// fixture holds ids created by seedFixture
type fixture struct {
	rh, direction, archived *Group
	readLeave, createLeave  *Permission
}

// seedFixture creates three groups (one inactive) and two permissions
func seedFixture(t *testing.T, store *SQLStore) fixture {
	t.Helper()
	ctx := context.Background()

	var f fixture
	f.rh = &Group{Code: "rh", Name: "Ressources humaines", IsActive: true}
	f.direction = &Group{Code: "direction", Name: "Direction", IsActive: true}
	f.archived = &Group{Code: "archived", Name: "Archived", IsActive: false}
	for _, g := range []*Group{f.rh, f.direction, f.archived} {
		require.NoError(t, store.CreateGroup(ctx, g))
	}

	f.readLeave = &Permission{Resource: "demande_conge", Action: ActionRead}
	f.createLeave = &Permission{Resource: "demande_conge", Action: ActionCreate, Description: "Submit leave"}
	require.NoError(t, store.CreatePermission(ctx, f.readLeave))
	require.NoError(t, store.CreatePermission(ctx, f.createLeave))

	return f
}

func TestSQLStore_CreateAndListGroups(t *testing.T) {
	store := NewSQLStore(setupTestDB(t))
	seedFixture(t, store)

	groups, err := store.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "archived", groups[0].Code)
	assert.False(t, groups[0].IsActive)
	assert.Equal(t, "direction", groups[1].Code)
	assert.Equal(t, "rh", groups[2].Code)
	assert.False(t, groups[2].CreatedAt.IsZero())
}

func TestSQLStore_CreatePermission(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(setupTestDB(t))
	f := seedFixture(t, store)

	assert.NotZero(t, f.readLeave.ID)
	assert.Equal(t, "demande_conge.READ", f.readLeave.Name)

	err := store.CreatePermission(ctx, &Permission{Resource: "x", Action: "APPROVE"})
	assert.Error(t, err)

	// (resource, action) is unique
	err = store.CreatePermission(ctx, &Permission{Resource: "demande_conge", Action: ActionRead})
	assert.Error(t, err)

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, ActionCreate, perms[0].Action)
	assert.Equal(t, "Submit leave", perms[0].Description)
	assert.Equal(t, ActionRead, perms[1].Action)
}

func TestSQLStore_ActiveMemberships(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(setupTestDB(t))
	f := seedFixture(t, store)

	for _, g := range []*Group{f.rh, f.direction, f.archived} {
		require.NoError(t, store.AddUserToGroup(ctx, &UserGroup{UserID: 1, GroupID: g.ID}))
	}
	// inactive membership in an active group
	ug := &UserGroup{UserID: 2, GroupID: f.rh.ID}
	require.NoError(t, store.AddUserToGroup(ctx, ug))
	require.NoError(t, store.SetUserGroupActive(ctx, ug.ID, false))

	memberships, err := store.ActiveMemberships(ctx, 1)
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, "direction", memberships[0].GroupCode)
	assert.Equal(t, "rh", memberships[1].GroupCode)
	assert.Equal(t, "Ressources humaines", memberships[1].GroupName)
	assert.False(t, memberships[1].AssignedAt.IsZero())

	memberships, err = store.ActiveMemberships(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, memberships)
}

func TestSQLStore_GrantedPermissions(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(setupTestDB(t))
	f := seedFixture(t, store)

	require.NoError(t, store.UpsertGroupPermission(ctx, &GroupPermission{GroupID: f.rh.ID, PermissionID: f.readLeave.ID, Granted: true}))
	require.NoError(t, store.UpsertGroupPermission(ctx, &GroupPermission{GroupID: f.rh.ID, PermissionID: f.createLeave.ID, Granted: false}))
	require.NoError(t, store.UpsertGroupPermission(ctx, &GroupPermission{GroupID: f.direction.ID, PermissionID: f.createLeave.ID, Granted: true}))

	granted, err := store.GrantedPermissions(ctx, []int64{f.rh.ID})
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, GrantedPermission{GroupID: f.rh.ID, Resource: "demande_conge", Action: ActionRead, Name: "demande_conge.READ"}, granted[0])

	granted, err = store.GrantedPermissions(ctx, []int64{f.rh.ID, f.direction.ID})
	require.NoError(t, err)
	assert.Len(t, granted, 2)

	granted, err = store.GrantedPermissions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, granted)
}

func TestSQLStore_UpsertKeepsOneRowPerPair(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(setupTestDB(t))
	f := seedFixture(t, store)

	actor := int64(99)
	first := &GroupPermission{GroupID: f.rh.ID, PermissionID: f.readLeave.ID, Granted: true, CreatedBy: &actor}
	require.NoError(t, store.UpsertGroupPermission(ctx, first))

	second := &GroupPermission{GroupID: f.rh.ID, PermissionID: f.readLeave.ID, Granted: false}
	require.NoError(t, store.UpsertGroupPermission(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	edges, err := store.ListGroupPermissions(ctx, &f.rh.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.False(t, edges[0].Granted)
	require.NotNil(t, edges[0].CreatedBy)
	assert.Equal(t, actor, *edges[0].CreatedBy)
}

func TestSQLStore_GroupPermissionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(setupTestDB(t))
	f := seedFixture(t, store)

	gp := &GroupPermission{GroupID: f.direction.ID, PermissionID: f.createLeave.ID, Granted: true}
	require.NoError(t, store.UpsertGroupPermission(ctx, gp))

	require.NoError(t, store.SetGroupPermissionGranted(ctx, gp.ID, false))
	got, err := store.GetGroupPermission(ctx, gp.ID)
	require.NoError(t, err)
	assert.False(t, got.Granted)
	assert.Nil(t, got.CreatedBy)

	require.NoError(t, store.DeleteGroupPermission(ctx, gp.ID))
	_, err = store.GetGroupPermission(ctx, gp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteGroupPermission(ctx, gp.ID), ErrNotFound)
	assert.ErrorIs(t, store.SetGroupPermissionGranted(ctx, gp.ID, true), ErrNotFound)

	all, err := store.ListGroupPermissions(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLStore_UserGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(setupTestDB(t))
	f := seedFixture(t, store)

	ug := &UserGroup{UserID: 5, GroupID: f.rh.ID}
	require.NoError(t, store.AddUserToGroup(ctx, ug))
	assert.True(t, ug.IsActive)

	require.NoError(t, store.SetUserGroupActive(ctx, ug.ID, false))

	// adding again reactivates the same row
	again := &UserGroup{UserID: 5, GroupID: f.rh.ID}
	require.NoError(t, store.AddUserToGroup(ctx, again))
	assert.Equal(t, ug.ID, again.ID)

	got, err := store.GetUserGroup(ctx, ug.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	userID := int64(5)
	list, err := store.ListUserGroups(ctx, &userID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteUserGroup(ctx, ug.ID))
	_, err = store.GetUserGroup(ctx, ug.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetUserGroupActive(ctx, ug.ID, true), ErrNotFound)
}

func TestSeedPermissions(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(setupTestDB(t))

	require.NoError(t, SeedPermissions(ctx, store))
	require.NoError(t, SeedPermissions(ctx, store))

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(BuiltInPermissions()))
	assert.Len(t, perms, 24)
}
