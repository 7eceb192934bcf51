package rbac

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/auth"
	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

type createRouteRequest struct {
	Route     string  `json:"route" validate:"required,max=255"`
	Label     string  `json:"label" validate:"required,max=100"`
	Icon      string  `json:"icon" validate:"max=50"`
	IsSidebar *bool   `json:"is_sidebar"`
	ModuleID  int64   `json:"module_id" validate:"required,gt=0"`
	ParentID  *int64  `json:"parent_id"`
	RoleIDs   []int64 `json:"role_ids"`
}

type updateRouteRequest struct {
	Route     *string `json:"route" validate:"omitempty,max=255"`
	Label     *string `json:"label" validate:"omitempty,max=100"`
	Icon      *string `json:"icon" validate:"omitempty,max=50"`
	IsActive  *bool   `json:"is_active"`
	IsSidebar *bool   `json:"is_sidebar"`
}

func (h *Handler) ListRoutes(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.Context(), h.store.DB,
		"SELECT id, route, label, icon, is_active, is_sidebar, module_id, parent_id, created_at, updated_at FROM routes ORDER BY module_id, id")
	if err != nil {
		return engine.StorageError("")
	}
	store.NormalizeBooleans(rows, []string{"is_active", "is_sidebar"})
	return c.JSON(fiber.Map{"data": rows, "total": len(rows)})
}

// SidebarRoutes returns the active sidebar routes visible to the caller's
// roles. Superadmins see everything; routes without role links are public
// to any authenticated user.
func (h *Handler) SidebarRoutes(c *fiber.Ctx) error {
	user := auth.GetUser(c)
	if user == nil {
		return engine.UnauthorizedError("Missing auth token")
	}

	base := "SELECT DISTINCT r.id, r.route, r.label, r.icon, r.is_sidebar, r.module_id, r.parent_id FROM routes r"
	var sqlStr string
	var params []any
	if user.IsSuperadmin() {
		sqlStr = base + " WHERE r.is_active = " + h.boolLiteral(true) +
			" AND r.is_sidebar = " + h.boolLiteral(true) + " ORDER BY r.module_id, r.id"
	} else {
		pb := h.store.Dialect.NewParamBuilder()
		placeholders := make([]string, 0, len(user.Roles))
		for _, role := range user.Roles {
			placeholders = append(placeholders, pb.Add(role))
		}
		roleFilter := "1 = 0"
		if len(placeholders) > 0 {
			roleFilter = "ro.name IN (" + strings.Join(placeholders, ", ") + ")"
		}
		sqlStr = fmt.Sprintf(`%s
			LEFT JOIN route_roles rr ON rr.route_id = r.id
			LEFT JOIN roles ro ON ro.id = rr.role_id
			WHERE r.is_active = %s AND r.is_sidebar = %s
			  AND (rr.route_id IS NULL OR %s)
			ORDER BY r.module_id, r.id`,
			base, h.boolLiteral(true), h.boolLiteral(true), roleFilter)
		params = pb.Params()
	}

	rows, err := store.QueryRows(c.Context(), h.store.DB, sqlStr, params...)
	if err != nil {
		return engine.StorageError("")
	}
	store.NormalizeBooleans(rows, []string{"is_sidebar"})
	return c.JSON(fiber.Map{"data": rows, "total": len(rows)})
}

func (h *Handler) CreateRoute(c *fiber.Ctx) error {
	var req createRouteRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	sidebar := true
	if req.IsSidebar != nil {
		sidebar = *req.IsSidebar
	}

	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO routes (route, label, icon, is_active, is_sidebar, module_id, parent_id) VALUES (%s, %s, %s, %s, %s, %s, %s) RETURNING id",
		pb.Add(req.Route), pb.Add(req.Label), pb.Add(req.Icon), pb.Add(true), pb.Add(sidebar),
		pb.Add(req.ModuleID), pb.Add(req.ParentID))
	id, err := store.InsertReturningID(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return engine.StorageError("")
	}
	if len(req.RoleIDs) > 0 {
		if err := h.replaceLinks(c.Context(), "route_roles", "route_id", "role_id", id, req.RoleIDs); err != nil {
			return engine.StorageError("")
		}
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id, "route": req.Route})
}

func (h *Handler) UpdateRoute(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	var req updateRouteRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	pb := h.store.Dialect.NewParamBuilder()
	set := make([]string, 0, 5)
	if req.Route != nil {
		set = append(set, "route = "+pb.Add(*req.Route))
	}
	if req.Label != nil {
		set = append(set, "label = "+pb.Add(*req.Label))
	}
	if req.Icon != nil {
		set = append(set, "icon = "+pb.Add(*req.Icon))
	}
	if req.IsActive != nil {
		set = append(set, "is_active = "+pb.Add(*req.IsActive))
	}
	if req.IsSidebar != nil {
		set = append(set, "is_sidebar = "+pb.Add(*req.IsSidebar))
	}
	if len(set) == 0 {
		return engine.ValidationError("nothing to update", nil)
	}
	set = append(set, "updated_at = "+h.store.Dialect.NowExpr())

	sqlStr := fmt.Sprintf("UPDATE routes SET %s WHERE id = %s", strings.Join(set, ", "), pb.Add(id))
	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return engine.StorageError("")
	}
	if affected == 0 {
		return engine.NotFoundError("Route", c.Params("id"))
	}
	return c.JSON(fiber.Map{"id": id})
}

func (h *Handler) DeleteRoute(c *fiber.Ctx) error {
	return h.deleteByID(c, "routes", "Route")
}

func (h *Handler) AssignRouteRoles(c *fiber.Ctx) error {
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
	if err := h.replaceLinks(c.Context(), "route_roles", "route_id", "role_id", id, body.RoleIDs); err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"id": id, "role_ids": body.RoleIDs})
}

func (h *Handler) boolLiteral(b bool) string {
	if h.store.Dialect.NeedsBoolFix() {
		if b {
			return "1"
		}
		return "0"
	}
	if b {
		return "TRUE"
	}
	return "FALSE"
}
