package store

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

// Default principals created on first boot, mirroring the three-tier role
// scheme the API expects.
const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

var seedResources = []string{"user", "role", "permission", "module", "route", "dynamic_model", "dynamic_data"}
var seedActions = []string{"read", "create", "update", "delete"}

// Bootstrap creates all system tables and seeds default permissions, roles
// and the initial superadmin account. Safe to run on every start.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedPermissions(ctx); err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	if err := s.seedRoles(ctx); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	if err := s.seedSuperadmin(ctx); err != nil {
		return fmt.Errorf("seed superadmin: %w", err)
	}
	return nil
}

func (s *Store) seedPermissions(ctx context.Context) error {
	for _, resource := range seedResources {
		for _, action := range seedActions {
			name := resource + ":" + action
			exists, err := s.rowExists(ctx, "permissions", "name", name)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			pb := s.Dialect.NewParamBuilder()
			sqlStr := fmt.Sprintf(
				"INSERT INTO permissions (name, description, category) VALUES (%s, %s, %s)",
				pb.Add(name), pb.Add(fmt.Sprintf("%s %s resources", action, resource)), pb.Add(resource))
			if _, err := Exec(ctx, s.DB, sqlStr, pb.Params()...); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) seedRoles(ctx context.Context) error {
	roles := []struct {
		name, description string
	}{
		{RoleSuperadmin, "Super administrator with all permissions"},
		{RoleAdmin, "Administrator with management permissions"},
		{RoleUser, "Basic user with read-only access"},
	}
	for _, r := range roles {
		exists, err := s.rowExists(ctx, "roles", "name", r.name)
		if err != nil {
			return err
		}
		if !exists {
			pb := s.Dialect.NewParamBuilder()
			sqlStr := fmt.Sprintf(
				"INSERT INTO roles (name, description, is_system_role) VALUES (%s, %s, %s)",
				pb.Add(r.name), pb.Add(r.description), pb.Add(true))
			if _, err := Exec(ctx, s.DB, sqlStr, pb.Params()...); err != nil {
				return err
			}
		}
		if err := s.grantRolePermissions(ctx, r.name); err != nil {
			return err
		}
	}
	return nil
}

// grantRolePermissions links each seed role to its permission set.
// superadmin and admin get everything; user gets the read permissions.
func (s *Store) grantRolePermissions(ctx context.Context, role string) error {
	filter := ""
	if role == RoleUser {
		filter = " AND p.name LIKE '%:read'"
	}
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT r.id, p.id FROM roles r, permissions p
		WHERE r.name = %s%s
		  AND NOT EXISTS (
		      SELECT 1 FROM role_permissions rp
		      WHERE rp.role_id = r.id AND rp.permission_id = p.id
		  )`, pb.Add(role), filter)
	_, err := Exec(ctx, s.DB, sqlStr, pb.Params()...)
	return err
}

func (s *Store) seedSuperadmin(ctx context.Context) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO users (username, email, password_hash, is_active) VALUES (%s, %s, %s, %s) RETURNING id",
		pb.Add(RoleSuperadmin), pb.Add("superadmin@localhost"), pb.Add(string(hash)), pb.Add(true))
	userID, err := InsertReturningID(ctx, s.DB, sqlStr, pb.Params()...)
	if err != nil {
		return err
	}

	pb = s.Dialect.NewParamBuilder()
	sqlStr = fmt.Sprintf(
		"INSERT INTO user_roles (user_id, role_id) SELECT %s, id FROM roles WHERE name = %s",
		pb.Add(userID), pb.Add(RoleSuperadmin))
	if _, err := Exec(ctx, s.DB, sqlStr, pb.Params()...); err != nil {
		return err
	}

	log.Println("WARNING: Default superadmin user created (superadmin / changeme). Change the password immediately.")
	return nil
}

func (s *Store) rowExists(ctx context.Context, table, column, value string) (bool, error) {
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", table, column, pb.Add(value))
	var count int
	if err := s.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
