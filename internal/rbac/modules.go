package rbac

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

type createModuleRequest struct {
	Name    string  `json:"name" validate:"required,min=1,max=100"`
	Label   string  `json:"label" validate:"required,max=100"`
	Icon    string  `json:"icon" validate:"max=50"`
	Route   string  `json:"route" validate:"required,max=255"`
	RoleIDs []int64 `json:"role_ids"`
}

type updateModuleRequest struct {
	Label    *string `json:"label" validate:"omitempty,max=100"`
	Icon     *string `json:"icon" validate:"omitempty,max=50"`
	Route    *string `json:"route" validate:"omitempty,max=255"`
	IsActive *bool   `json:"is_active"`
}

func (h *Handler) ListModules(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.Context(), h.store.DB,
		"SELECT id, name, label, icon, route, is_active, created_at, updated_at FROM modules ORDER BY id")
	if err != nil {
		return engine.StorageError("")
	}
	store.NormalizeBooleans(rows, []string{"is_active"})
	return c.JSON(fiber.Map{"data": rows, "total": len(rows)})
}

func (h *Handler) CreateModule(c *fiber.Ctx) error {
	var req createModuleRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO modules (name, label, icon, route, is_active) VALUES (%s, %s, %s, %s, %s) RETURNING id",
		pb.Add(req.Name), pb.Add(req.Label), pb.Add(req.Icon), pb.Add(req.Route), pb.Add(true))
	id, err := store.InsertReturningID(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return h.mapWriteError(err, "Module name already taken")
	}
	if len(req.RoleIDs) > 0 {
		if err := h.replaceLinks(c.Context(), "module_roles", "module_id", "role_id", id, req.RoleIDs); err != nil {
			return engine.StorageError("")
		}
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id, "name": req.Name})
}

func (h *Handler) UpdateModule(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	var req updateModuleRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	pb := h.store.Dialect.NewParamBuilder()
	set := make([]string, 0, 4)
	if req.Label != nil {
		set = append(set, "label = "+pb.Add(*req.Label))
	}
	if req.Icon != nil {
		set = append(set, "icon = "+pb.Add(*req.Icon))
	}
	if req.Route != nil {
		set = append(set, "route = "+pb.Add(*req.Route))
	}
	if req.IsActive != nil {
		set = append(set, "is_active = "+pb.Add(*req.IsActive))
	}
	if len(set) == 0 {
		return engine.ValidationError("nothing to update", nil)
	}
	set = append(set, "updated_at = "+h.store.Dialect.NowExpr())

	sqlStr := fmt.Sprintf("UPDATE modules SET %s WHERE id = %s", strings.Join(set, ", "), pb.Add(id))
	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return engine.StorageError("")
	}
	if affected == 0 {
		return engine.NotFoundError("Module", c.Params("id"))
	}
	return c.JSON(fiber.Map{"id": id})
}

func (h *Handler) DeleteModule(c *fiber.Ctx) error {
	return h.deleteByID(c, "modules", "Module")
}

func (h *Handler) AssignModuleRoles(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		RoleIDs []int64 `json:"role_ids" validate:"required"`
	}
	if err := h.parseBody(c, &body); err != nil {
		return err
	}
	if err := h.replaceLinks(c.Context(), "module_roles", "module_id", "role_id", id, body.RoleIDs); err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"id": id, "role_ids": body.RoleIDs})
}
