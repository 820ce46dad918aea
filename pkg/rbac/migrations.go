package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all RBAC migrations (PostgreSQL dialect)
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create hr_groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS hr_groups (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					codename VARCHAR(255) NOT NULL UNIQUE,
					resource VARCHAR(100) NOT NULL,
					action VARCHAR(10) NOT NULL CHECK (action IN ('CREATE', 'READ', 'UPDATE', 'DELETE')),
					name VARCHAR(255) NOT NULL,
					description TEXT,
					UNIQUE(resource, action)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create group_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS group_permissions (
					id BIGSERIAL PRIMARY KEY,
					group_id BIGINT NOT NULL REFERENCES hr_groups(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					created_by BIGINT,
					UNIQUE(group_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_group_permissions_group_id ON group_permissions(group_id);
			`,
		},
		{
			Version:     4,
			Description: "Create user_groups table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_groups (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					group_id BIGINT NOT NULL REFERENCES hr_groups(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					assigned_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, group_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_groups_user_id ON user_groups(user_id);
			`,
		},
	}
}

// RunMigrations applies pending migrations, one transaction each
func RunMigrations(ctx context.Context, db *sql.DB, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log.WithField("version", migration.Version).Infof("running rbac migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// BuiltInPermissions returns the CRUD permissions of the administration
// resources and the audit log
func BuiltInPermissions() []Permission {
	resources := []string{
		ResourceUserManagement,
		ResourceUserGroup,
		ResourceGroupPermission,
		ResourceGroup,
		ResourcePermission,
		ResourceAuditLog,
	}
	actions := []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

	perms := make([]Permission, 0, len(resources)*len(actions))
	for _, r := range resources {
		for _, a := range actions {
			perms = append(perms, Permission{Resource: r, Action: a, Name: Codename(r, a)})
		}
	}
	return perms
}

// SeedPermissions creates the built-in permissions that don't exist yet
func SeedPermissions(ctx context.Context, store *SQLStore) error {
	existing, err := store.ListPermissions(ctx)
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[p.Codename()] = true
	}

	for _, p := range BuiltInPermissions() {
		if have[p.Codename()] {
			continue
		}
		perm := p
		if err := store.CreatePermission(ctx, &perm); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", p.Codename(), err)
		}
	}
	return nil
}
