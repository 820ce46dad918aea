package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("rbac: not found")

// PermissionStore is the read side the resolver depends on. It issues exactly
// two query shapes while refilling the cache.
type PermissionStore interface {
	// ActiveMemberships returns active memberships of the user in active groups
	ActiveMemberships(ctx context.Context, userID int64) ([]Membership, error)

	// GrantedPermissions returns granted=true permission rows for the groups
	GrantedPermissions(ctx context.Context, groupIDs []int64) ([]GrantedPermission, error)
}

// SQLStore handles RBAC data persistence on database/sql
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new RBAC store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// ActiveMemberships implements PermissionStore
func (s *SQLStore) ActiveMemberships(ctx context.Context, userID int64) ([]Membership, error) {
	query := `
		SELECT g.id, g.code, g.name, ug.assigned_at
		FROM user_groups ug
		JOIN hr_groups g ON g.id = ug.group_id
		WHERE ug.user_id = $1 AND ug.is_active AND g.is_active
		ORDER BY g.code
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.GroupID, &m.GroupCode, &m.GroupName, &m.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// GrantedPermissions implements PermissionStore
func (s *SQLStore) GrantedPermissions(ctx context.Context, groupIDs []int64) ([]GrantedPermission, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(groupIDs))
	args := make([]interface{}, len(groupIDs))
	for i, id := range groupIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	query := `
		SELECT gp.group_id, p.resource, p.action, p.name
		FROM group_permissions gp
		JOIN permissions p ON p.id = gp.permission_id
		WHERE gp.granted AND gp.group_id IN (` + strings.Join(placeholders, ", ") + `)
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load group permissions: %w", err)
	}
	defer rows.Close()

	var granted []GrantedPermission
	for rows.Next() {
		var gp GrantedPermission
		var action string
		if err := rows.Scan(&gp.GroupID, &gp.Resource, &action, &gp.Name); err != nil {
			return nil, fmt.Errorf("failed to scan group permission: %w", err)
		}
		gp.Action = Action(action)
		granted = append(granted, gp)
	}

	return granted, rows.Err()
}

// CreateGroup inserts a new group
func (s *SQLStore) CreateGroup(ctx context.Context, group *Group) error {
	query := `
		INSERT INTO hr_groups (code, name, is_active, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now().UTC()
	if err := s.db.QueryRowContext(ctx, query, group.Code, group.Name, group.IsActive, now).Scan(&group.ID); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	group.CreatedAt = now
	return nil
}

// ListGroups lists all groups ordered by code
func (s *SQLStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, is_active, created_at FROM hr_groups ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Code, &g.Name, &g.IsActive, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CreatePermission inserts a new permission
func (s *SQLStore) CreatePermission(ctx context.Context, perm *Permission) error {
	if !perm.Action.Valid() {
		return fmt.Errorf("invalid action %q", perm.Action)
	}
	if perm.Name == "" {
		perm.Name = perm.Codename()
	}

	query := `
		INSERT INTO permissions (codename, resource, action, name, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		perm.Codename(), perm.Resource, string(perm.Action), perm.Name, perm.Description,
	).Scan(&perm.ID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

// ListPermissions lists all permissions ordered by resource then action
func (s *SQLStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, resource, action, name, description FROM permissions ORDER BY resource, action`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		var action string
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Resource, &action, &p.Name, &description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Action = Action(action)
		p.Description = description.String
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// UpsertGroupPermission writes the (group, permission) edge. An existing pair is
// updated in place so at most one row exists per pair.
func (s *SQLStore) UpsertGroupPermission(ctx context.Context, gp *GroupPermission) error {
	query := `
		INSERT INTO group_permissions (group_id, permission_id, granted, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, permission_id) DO UPDATE SET granted = EXCLUDED.granted
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		gp.GroupID, gp.PermissionID, gp.Granted, time.Now().UTC(), gp.CreatedBy,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to write group permission: %w", err)
	}

	// an updated row keeps its original created_at and created_by
	stored, err := s.GetGroupPermission(ctx, id)
	if err != nil {
		return err
	}
	*gp = *stored
	return nil
}

// GetGroupPermission retrieves a group permission by ID
func (s *SQLStore) GetGroupPermission(ctx context.Context, id int64) (*GroupPermission, error) {
	query := `
		SELECT id, group_id, permission_id, granted, created_at, created_by
		FROM group_permissions
		WHERE id = $1
	`

	gp, err := scanGroupPermission(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group permission: %w", err)
	}
	return gp, nil
}

// ListGroupPermissions lists edges, optionally restricted to one group
func (s *SQLStore) ListGroupPermissions(ctx context.Context, groupID *int64) ([]GroupPermission, error) {
	query := `SELECT id, group_id, permission_id, granted, created_at, created_by FROM group_permissions`
	var args []interface{}
	if groupID != nil {
		query += ` WHERE group_id = $1`
		args = append(args, *groupID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list group permissions: %w", err)
	}
	defer rows.Close()

	var out []GroupPermission
	for rows.Next() {
		gp, err := scanGroupPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group permission: %w", err)
		}
		out = append(out, *gp)
	}
	return out, rows.Err()
}

// SetGroupPermissionGranted flips the granted flag of an edge
func (s *SQLStore) SetGroupPermissionGranted(ctx context.Context, id int64, granted bool) error {
	return s.execAffectingOne(ctx, `UPDATE group_permissions SET granted = $1 WHERE id = $2`, granted, id)
}

// DeleteGroupPermission removes an edge
func (s *SQLStore) DeleteGroupPermission(ctx context.Context, id int64) error {
	return s.execAffectingOne(ctx, `DELETE FROM group_permissions WHERE id = $1`, id)
}

// AddUserToGroup creates the membership, reactivating an existing one
func (s *SQLStore) AddUserToGroup(ctx context.Context, ug *UserGroup) error {
	query := `
		INSERT INTO user_groups (user_id, group_id, is_active, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, group_id) DO UPDATE SET is_active = EXCLUDED.is_active
		RETURNING id
	`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, ug.UserID, ug.GroupID, true, time.Now().UTC()).Scan(&id); err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}

	stored, err := s.GetUserGroup(ctx, id)
	if err != nil {
		return err
	}
	*ug = *stored
	return nil
}

// GetUserGroup retrieves a membership by ID
func (s *SQLStore) GetUserGroup(ctx context.Context, id int64) (*UserGroup, error) {
	var ug UserGroup
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, group_id, is_active, assigned_at FROM user_groups WHERE id = $1`, id,
	).Scan(&ug.ID, &ug.UserID, &ug.GroupID, &ug.IsActive, &ug.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user group: %w", err)
	}
	return &ug, nil
}

// ListUserGroups lists memberships, optionally restricted to one user
func (s *SQLStore) ListUserGroups(ctx context.Context, userID *int64) ([]UserGroup, error) {
	query := `SELECT id, user_id, group_id, is_active, assigned_at FROM user_groups`
	var args []interface{}
	if userID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *userID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	defer rows.Close()

	var out []UserGroup
	for rows.Next() {
		var ug UserGroup
		if err := rows.Scan(&ug.ID, &ug.UserID, &ug.GroupID, &ug.IsActive, &ug.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user group: %w", err)
		}
		out = append(out, ug)
	}
	return out, rows.Err()
}

// SetUserGroupActive toggles a membership
func (s *SQLStore) SetUserGroupActive(ctx context.Context, id int64, active bool) error {
	return s.execAffectingOne(ctx, `UPDATE user_groups SET is_active = $1 WHERE id = $2`, active, id)
}

// DeleteUserGroup removes a membership
func (s *SQLStore) DeleteUserGroup(ctx context.Context, id int64) error {
	return s.execAffectingOne(ctx, `DELETE FROM user_groups WHERE id = $1`, id)
}

func (s *SQLStore) execAffectingOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanGroupPermission scans a group permission from a database row
func scanGroupPermission(scanner interface {
	Scan(dest ...interface{}) error
}) (*GroupPermission, error) {
	var gp GroupPermission
	var createdBy sql.NullInt64

	if err := scanner.Scan(&gp.ID, &gp.GroupID, &gp.PermissionID, &gp.Granted, &gp.CreatedAt, &createdBy); err != nil {
		return nil, err
	}
	if createdBy.Valid {
		id := createdBy.Int64
		gp.CreatedBy = &id
	}
	return &gp, nil
}
