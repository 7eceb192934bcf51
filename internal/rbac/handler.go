// Package rbac serves the administrative CRUD for users, roles,
// permissions, modules and routes, plus the assignment endpoints that
// link them together.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

type Handler struct {
	store    *store.Store
	validate *validator.Validate
}

func NewHandler(s *store.Store) *Handler {
	return &Handler{store: s, validate: validator.New()}
}

func (h *Handler) Register(api fiber.Router, requirePerm func(perm string) fiber.Handler) {
	users := api.Group("/users")
	users.Get("/", requirePerm("user:read"), h.ListUsers)
	users.Get("/count", requirePerm("user:read"), h.CountUsers)
	users.Get("/:id", requirePerm("user:read"), h.GetUser)
	users.Post("/", requirePerm("user:create"), h.CreateUser)
	users.Put("/:id", requirePerm("user:update"), h.UpdateUser)
	users.Delete("/:id", requirePerm("user:delete"), h.DeleteUser)
	users.Put("/:id/roles", requirePerm("user:update"), h.AssignUserRoles)
	users.Post("/:id/roles/:roleID", requirePerm("user:update"), h.AddUserRole)
	users.Delete("/:id/roles/:roleID", requirePerm("user:update"), h.RemoveUserRole)

	roles := api.Group("/roles")
	roles.Get("/", requirePerm("role:read"), h.ListRoles)
	roles.Get("/:id", requirePerm("role:read"), h.GetRole)
	roles.Post("/", requirePerm("role:create"), h.CreateRole)
	roles.Put("/:id", requirePerm("role:update"), h.UpdateRole)
	roles.Delete("/:id", requirePerm("role:delete"), h.DeleteRole)
	roles.Put("/:id/permissions", requirePerm("role:update"), h.AssignRolePermissions)
	roles.Post("/:id/permissions/:permID", requirePerm("role:update"), h.AddRolePermission)
	roles.Delete("/:id/permissions/:permID", requirePerm("role:update"), h.RemoveRolePermission)

	perms := api.Group("/permissions")
	perms.Get("/", requirePerm("permission:read"), h.ListPermissions)
	perms.Post("/", requirePerm("permission:create"), h.CreatePermission)
	perms.Delete("/:id", requirePerm("permission:delete"), h.DeletePermission)

	modules := api.Group("/modules")
	modules.Get("/", requirePerm("module:read"), h.ListModules)
	modules.Post("/", requirePerm("module:create"), h.CreateModule)
	modules.Put("/:id", requirePerm("module:update"), h.UpdateModule)
	modules.Delete("/:id", requirePerm("module:delete"), h.DeleteModule)
	modules.Put("/:id/roles", requirePerm("module:update"), h.AssignModuleRoles)

	routes := api.Group("/routes")
	routes.Get("/", requirePerm("route:read"), h.ListRoutes)
	routes.Get("/sidebar", h.SidebarRoutes)
	routes.Post("/", requirePerm("route:create"), h.CreateRoute)
	routes.Put("/:id", requirePerm("route:update"), h.UpdateRoute)
	routes.Delete("/:id", requirePerm("route:delete"), h.DeleteRoute)
	routes.Put("/:id/roles", requirePerm("route:update"), h.AssignRouteRoles)
}

// --- shared helpers ---

func (h *Handler) pathID(c *fiber.Ctx) (int64, error) {
	return h.pathParam(c, "id")
}

func (h *Handler) pathParam(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, engine.ValidationError("invalid "+name, nil)
	}
	return id, nil
}

// rowExistsByID reports whether a row with the given id exists.
func (h *Handler) rowExistsByID(ctx context.Context, table string, id int64) (bool, error) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = %s", table, pb.Add(id))
	var count int
	if err := h.store.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// addLink inserts one link-table row, skipping when it already exists.
func (h *Handler) addLink(ctx context.Context, table, ownerCol, linkCol string, ownerID, linkID int64) error {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, %[3]s)
		SELECT %[4]s, %[5]s
		WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE %[2]s = %[6]s AND %[3]s = %[7]s)`,
		table, ownerCol, linkCol,
		pb.Add(ownerID), pb.Add(linkID), pb.Add(ownerID), pb.Add(linkID))
	_, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...)
	return err
}

// removeLink deletes one link-table row, reporting whether it was present.
func (h *Handler) removeLink(ctx context.Context, table, ownerCol, linkCol string, ownerID, linkID int64) (bool, error) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		table, ownerCol, pb.Add(ownerID), linkCol, pb.Add(linkID))
	affected, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...)
	return affected > 0, err
}

func (h *Handler) parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return engine.ValidationError("request body must be a JSON object", nil)
	}
	if err := h.validate.Struct(out); err != nil {
		return engine.ValidationError(err.Error(), nil)
	}
	return nil
}

func (h *Handler) deleteByID(c *fiber.Ctx, table, entity string) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, pb.Add(id))
	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return engine.StorageError("")
	}
	if affected == 0 {
		return engine.NotFoundError(entity, c.Params("id"))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// replaceLinks rewrites a many-to-many link table for one owner row.
func (h *Handler) replaceLinks(ctx context.Context, table, ownerCol, linkCol string, ownerID int64, linkIDs []int64) error {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, ownerCol, pb.Add(ownerID))
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
		return err
	}
	for _, linkID := range linkIDs {
		pb := h.store.Dialect.NewParamBuilder()
		sqlStr := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
			table, ownerCol, linkCol, pb.Add(ownerID), pb.Add(linkID))
		if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) mapWriteError(err error, conflictMsg string) error {
	if errors.Is(store.MapError(h.store.Dialect, err), store.ErrUniqueViolation) {
		return engine.ConflictError(conflictMsg)
	}
	return engine.StorageError("")
}
