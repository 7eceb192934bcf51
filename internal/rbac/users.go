package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/auth"
	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

type createUserRequest struct {
	Username string  `json:"username" validate:"required,min=3,max=50"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8"`
	RoleIDs  []int64 `json:"role_ids"`
}

type updateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Password *string `json:"password" validate:"omitempty,min=8"`
	IsActive *bool   `json:"is_active"`
}

func (h *Handler) ListUsers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", engine.DefaultPageSize)
	if limit <= 0 {
		limit = engine.DefaultPageSize
	}
	if limit > engine.MaxPageSize {
		limit = engine.MaxPageSize
	}
	skip := c.QueryInt("skip", 0)
	if skip < 0 {
		skip = 0
	}

	var total int64
	if err := h.store.DB.QueryRowContext(c.Context(), "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return engine.StorageError("")
	}

	rows, err := store.QueryRows(c.Context(), h.store.DB, fmt.Sprintf(
		"SELECT id, username, email, is_active, created_at, updated_at FROM users ORDER BY id LIMIT %d OFFSET %d",
		limit, skip))
	if err != nil {
		return engine.StorageError("")
	}
	store.NormalizeBooleans(rows, []string{"is_active"})
	for _, row := range rows {
		roles, err := h.userRoleNames(c.Context(), asInt64(row["id"]))
		if err != nil {
			return engine.StorageError("")
		}
		row["roles"] = roles
	}
	return c.JSON(fiber.Map{"data": rows, "total": total, "limit": limit, "skip": skip})
}

func (h *Handler) CountUsers(c *fiber.Ctx) error {
	var total int64
	if err := h.store.DB.QueryRowContext(c.Context(), "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"total": total})
}

func (h *Handler) GetUser(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, username, email, is_active, created_at, updated_at FROM users WHERE id = %s", pb.Add(id))
	row, err := store.QueryRow(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.NotFoundError("User", c.Params("id"))
		}
		return engine.StorageError("")
	}
	store.NormalizeBooleans([]map[string]any{row}, []string{"is_active"})
	roles, err := h.userRoleNames(c.Context(), id)
	if err != nil {
		return engine.StorageError("")
	}
	row["roles"] = roles
	return c.JSON(row)
}

func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return engine.StorageError("")
	}

	ctx := c.Context()
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO users (username, email, password_hash, is_active) VALUES (%s, %s, %s, %s) RETURNING id",
		pb.Add(req.Username), pb.Add(req.Email), pb.Add(hash), pb.Add(true))
	id, err := store.InsertReturningID(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return h.mapWriteError(err, "Username or email already taken")
	}

	if len(req.RoleIDs) > 0 {
		if err := h.replaceLinks(ctx, "user_roles", "user_id", "role_id", id, req.RoleIDs); err != nil {
			return engine.StorageError("")
		}
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id, "username": req.Username, "email": req.Email})
}

func (h *Handler) UpdateUser(c *fiber.Ctx) error {
	id, err := h.pathID(c)
	if err != nil {
		return err
	}
	var req updateUserRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	pb := h.store.Dialect.NewParamBuilder()
	set := ""
	if req.Email != nil {
		set += ", email = " + pb.Add(*req.Email)
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return engine.StorageError("")
		}
		set += ", password_hash = " + pb.Add(hash)
	}
	if req.IsActive != nil {
		set += ", is_active = " + pb.Add(*req.IsActive)
	}

	sqlStr := fmt.Sprintf("UPDATE users SET updated_at = %s%s WHERE id = %s",
		h.store.Dialect.NowExpr(), set, pb.Add(id))
	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return h.mapWriteError(err, "Email already taken")
	}
	if affected == 0 {
		return engine.NotFoundError("User", c.Params("id"))
	}
	return c.JSON(fiber.Map{"id": id})
}

func (h *Handler) DeleteUser(c *fiber.Ctx) error {
	// Self-deletion would orphan the session mid-request.
	if user := auth.GetUser(c); user != nil {
		if id, err := h.pathID(c); err == nil && id == user.ID {
			return engine.ValidationError("cannot delete your own account", nil)
		}
	}
	return h.deleteByID(c, "users", "User")
}

func (h *Handler) AssignUserRoles(c *fiber.Ctx) error {
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
	if err := h.replaceLinks(c.Context(), "user_roles", "user_id", "role_id", id, body.RoleIDs); err != nil {
		return engine.StorageError("")
	}
	roles, err := h.userRoleNames(c.Context(), id)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"id": id, "roles": roles})
}

func (h *Handler) AddUserRole(c *fiber.Ctx) error {
	userID, err := h.pathID(c)
	if err != nil {
		return err
	}
	roleID, err := h.pathParam(c, "roleID")
	if err != nil {
		return err
	}
	ctx := c.Context()
	if exists, err := h.rowExistsByID(ctx, "users", userID); err != nil {
		return engine.StorageError("")
	} else if !exists {
		return engine.NotFoundError("User", c.Params("id"))
	}
	if exists, err := h.rowExistsByID(ctx, "roles", roleID); err != nil {
		return engine.StorageError("")
	} else if !exists {
		return engine.NotFoundError("Role", c.Params("roleID"))
	}
	if err := h.addLink(ctx, "user_roles", "user_id", "role_id", userID, roleID); err != nil {
		return engine.StorageError("")
	}
	roles, err := h.userRoleNames(ctx, userID)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"id": userID, "roles": roles})
}

func (h *Handler) RemoveUserRole(c *fiber.Ctx) error {
	userID, err := h.pathID(c)
	if err != nil {
		return err
	}
	roleID, err := h.pathParam(c, "roleID")
	if err != nil {
		return err
	}
	ctx := c.Context()
	removed, err := h.removeLink(ctx, "user_roles", "user_id", "role_id", userID, roleID)
	if err != nil {
		return engine.StorageError("")
	}
	if !removed {
		return engine.NotFoundError("Role assignment", c.Params("roleID"))
	}
	roles, err := h.userRoleNames(ctx, userID)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{"id": userID, "roles": roles})
}

func (h *Handler) userRoleNames(ctx context.Context, userID int64) ([]string, error) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = %s ORDER BY r.name",
		pb.Add(userID))
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

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
