package auth

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

// Checker answers "resource:action" permission questions against the
// role_permissions tables.
type Checker struct {
	store *store.Store
}

func NewChecker(s *store.Store) *Checker {
	return &Checker{store: s}
}

// HasPermission reports whether the user holds the named permission through
// any of their roles. Superadmins hold everything implicitly.
func (ch *Checker) HasPermission(ctx context.Context, user *UserContext, perm string) (bool, error) {
	if user.IsSuperadmin() {
		return true, nil
	}

	pb := ch.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = %s AND p.name = %s`,
		pb.Add(user.ID), pb.Add(perm))

	var count int
	if err := ch.store.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Permissions returns every permission name the user holds.
func (ch *Checker) Permissions(ctx context.Context, userID int64) ([]string, error) {
	pb := ch.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = %s
		ORDER BY p.name`,
		pb.Add(userID))

	rows, err := store.QueryRows(ctx, ch.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if s, ok := row["name"].(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// Require returns a middleware that rejects requests lacking the named
// permission. Must run after Middleware so the UserContext is present.
func (ch *Checker) Require(perm string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		ok, err := ch.HasPermission(c.Context(), user, perm)
		if err != nil {
			return engine.StorageError("")
		}
		if !ok {
			return engine.ForbiddenError(fmt.Sprintf("Permission %s required", perm))
		}
		return c.Next()
	}
}
