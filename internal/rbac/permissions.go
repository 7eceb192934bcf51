package rbac

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required,min=3,max=100,contains=:"`
	Description string `json:"description"`
	Category    string `json:"category" validate:"max=100"`
}

func (h *Handler) ListPermissions(c *fiber.Ctx) error {
	category := c.Query("category")
	sqlStr := "SELECT id, name, description, category FROM permissions"
	var params []any
	if category != "" {
		pb := h.store.Dialect.NewParamBuilder()
		sqlStr += " WHERE category = " + pb.Add(category)
		params = pb.Params()
	}
	sqlStr += " ORDER BY name"

	rows, err := store.QueryRows(c.Context(), h.store.DB, sqlStr, params...)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"data": rows, "total": len(rows)})
}

func (h *Handler) CreatePermission(c *fiber.Ctx) error {
	var req createPermissionRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO permissions (name, description, category) VALUES (%s, %s, %s) RETURNING id",
		pb.Add(req.Name), pb.Add(req.Description), pb.Add(req.Category))
	id, err := store.InsertReturningID(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return h.mapWriteError(err, "Permission name already taken")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id, "name": req.Name})
}

func (h *Handler) DeletePermission(c *fiber.Ctx) error {
	return h.deleteByID(c, "permissions", "Permission")
}
