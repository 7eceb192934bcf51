package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=100"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description"`
}

func (h *Handler) ListRoles(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.Context(), h.store.DB,
		"SELECT id, name, description, is_system_role FROM roles ORDER BY id")
	if err != nil {
		return engine.StorageError("")
	}
	store.NormalizeBooleans(rows, []string{"is_system_role"})
	return c.JSON(fiber.Map{"data": rows, "total": len(rows)})
}

func (h *Handler) GetRole(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT id, name, description, is_system_role FROM roles WHERE id = %s", pb.Add(id))
	row, err := store.QueryRow(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.NotFoundError("Role", c.Params("id"))
		}
		return engine.StorageError("")
	}
	store.NormalizeBooleans([]map[string]any{row}, []string{"is_system_role"})

	perms, err := h.rolePermissionNames(c.Context(), id)
	if err != nil {
		return engine.StorageError("")
	}
	row["permissions"] = perms
	return c.JSON(row)
}

func (h *Handler) CreateRole(c *fiber.Ctx) error {
	var req createRoleRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO roles (name, description, is_system_role) VALUES (%s, %s, %s) RETURNING id",
		pb.Add(req.Name), pb.Add(req.Description), pb.Add(false))
	id, err := store.InsertReturningID(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return h.mapWriteError(err, "Role name already taken")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id, "name": req.Name})
}

func (h *Handler) UpdateRole(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	if err := h.rejectSystemRole(c.Context(), id); err != nil {
		return err
	}
	var req updateRoleRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	pb := h.store.Dialect.NewParamBuilder()
	set := make([]string, 0, 2)
	if req.Name != nil {
		set = append(set, "name = "+pb.Add(*req.Name))
	}
	if req.Description != nil {
		set = append(set, "description = "+pb.Add(*req.Description))
	}
	if len(set) == 0 {
		return engine.ValidationError("nothing to update", nil)
	}

	sqlStr := fmt.Sprintf("UPDATE roles SET %s WHERE id = %s", strings.Join(set, ", "), pb.Add(id))
	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return h.mapWriteError(err, "Role name already taken")
	}
	if affected == 0 {
		return engine.NotFoundError("Role", c.Params("id"))
	}
	return c.JSON(fiber.Map{"id": id})
}

func (h *Handler) DeleteRole(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	if err := h.rejectSystemRole(c.Context(), id); err != nil {
		return err
	}
	return h.deleteByID(c, "roles", "Role")
}

func (h *Handler) AssignRolePermissions(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		PermissionIDs []int64 `json:"permission_ids" validate:"required"`
	}
	if err := h.parseBody(c, &body); err != nil {
		return err
	}
	if err := h.replaceLinks(c.Context(), "role_permissions", "role_id", "permission_id", id, body.PermissionIDs); err != nil {
		return engine.StorageError("")
	}
	perms, err := h.rolePermissionNames(c.Context(), id)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"id": id, "permissions": perms})
}

func (h *Handler) AddRolePermission(c *fiber.Ctx) error {
	roleID, err := h.pathID(c)
	if err != nil {
		return err
	}
	permID, err := h.pathParam(c, "permID")
	if err != nil {
		return err
	}
	ctx := c.Context()
	if exists, err := h.rowExistsByID(ctx, "roles", roleID); err != nil {
		return engine.StorageError("")
	} else if !exists {
		return engine.NotFoundError("Role", c.Params("id"))
	}
	if exists, err := h.rowExistsByID(ctx, "permissions", permID); err != nil {
		return engine.StorageError("")
	} else if !exists {
		return engine.NotFoundError("Permission", c.Params("permID"))
	}
	if err := h.addLink(ctx, "role_permissions", "role_id", "permission_id", roleID, permID); err != nil {
		return engine.StorageError("")
	}
	perms, err := h.rolePermissionNames(ctx, roleID)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"id": roleID, "permissions": perms})
}

func (h *Handler) RemoveRolePermission(c *fiber.Ctx) error {
	roleID, err := h.pathID(c)
	if err != nil {
		return err
	}
	permID, err := h.pathParam(c, "permID")
	if err != nil {
		return err
	}
	ctx := c.Context()
	removed, err := h.removeLink(ctx, "role_permissions", "role_id", "permission_id", roleID, permID)
	if err != nil {
		return engine.StorageError("")
	}
	if !removed {
		return engine.NotFoundError("Permission assignment", c.Params("permID"))
	}
	perms, err := h.rolePermissionNames(ctx, roleID)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"id": roleID, "permissions": perms})
}

// rejectSystemRole guards the seeded roles from edits and deletion.
func (h *Handler) rejectSystemRole(ctx context.Context, id int64) error {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT is_system_role FROM roles WHERE id = %s", pb.Add(id))
	row, err := store.QueryRow(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.NotFoundError("Role", fmt.Sprintf("%d", id))
		}
		return engine.StorageError("")
	}
	store.NormalizeBooleans([]map[string]any{row}, []string{"is_system_role"})
	if isSystem, _ := row["is_system_role"].(bool); isSystem {
		return engine.ValidationError("system roles cannot be modified", nil)
	}
	return nil
}

func (h *Handler) rolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT p.name FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id WHERE rp.role_id = %s ORDER BY p.name",
		pb.Add(roleID))
	rows, err := store.QueryRows(ctx, h.store.DB, sqlStr, pb.Params()...)
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
