package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

// Handler serves the authentication endpoints.
type Handler struct {
	store     *store.Store
	checker   *Checker
	jwtSecret string
	validate  *validator.Validate
}

func NewHandler(s *store.Store, jwtSecret string) *Handler {
	return &Handler{
		store:     s,
		checker:   NewChecker(s),
		jwtSecret: jwtSecret,
		validate:  validator.New(),
	}
}

// Register mounts the auth routes. Login, register and refresh are public;
// me requires a valid token.
func (h *Handler) Register(api fiber.Router) {
	grp := api.Group("/auth")
	grp.Post("/register", h.RegisterUser)
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
	grp.Post("/logout", h.Logout)
	grp.Get("/me", Middleware(h.jwtSecret), h.Me)
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// RegisterUser creates an account with the default user role.
func (h *Handler) RegisterUser(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.ValidationError("request body must be a JSON object", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return engine.ValidationError(err.Error(), nil)
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return engine.StorageError("")
	}

	ctx := c.Context()
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO users (username, email, password_hash, is_active) VALUES (%s, %s, %s, %s) RETURNING id",
		pb.Add(req.Username), pb.Add(req.Email), pb.Add(hash), pb.Add(true))
	userID, err := store.InsertReturningID(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(store.MapError(h.store.Dialect, err), store.ErrUniqueViolation) {
			return engine.ConflictError("Username or email already taken")
		}
		return engine.StorageError("")
	}

	pb = h.store.Dialect.NewParamBuilder()
	sqlStr = fmt.Sprintf(
		"INSERT INTO user_roles (user_id, role_id) SELECT %s, id FROM roles WHERE name = %s",
		pb.Add(userID), pb.Add(store.RoleUser))
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
		return engine.StorageError("")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":       userID,
		"username": req.Username,
		"email":    req.Email,
	})
}

// Login exchanges credentials for a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.Username == "" || body.Password == "" {
		return engine.UnauthorizedError("Username and password are required")
	}

	ctx := c.Context()
	user, err := h.findUser(ctx, body.Username)
	if err != nil {
		return engine.UnauthorizedError("Invalid username or password")
	}

	active, _ := user["is_active"].(bool)
	if !active {
		return engine.UnauthorizedError("Account is disabled")
	}

	passwordHash, _ := user["password_hash"].(string)
	if !CheckPassword(body.Password, passwordHash) {
		return engine.UnauthorizedError("Invalid username or password")
	}

	userID := asInt64(user["id"])
	username, _ := user["username"].(string)
	roles, err := h.userRoles(ctx, userID)
	if err != nil {
		return engine.StorageError("")
	}

	pair, err := h.generateTokenPair(ctx, userID, username, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh rotates a refresh token and issues a new pair.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.Context()
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`
		SELECT rt.id, rt.user_id, rt.expires_at, u.username, u.is_active
		FROM refresh_tokens rt
		JOIN users u ON u.id = rt.user_id
		WHERE rt.token = %s`, pb.Add(body.RefreshToken))
	row, err := store.QueryRow(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return engine.UnauthorizedError("Invalid refresh token")
	}
	store.NormalizeBooleans([]map[string]any{row}, []string{"is_active"})

	expiresAt, _ := row["expires_at"].(time.Time)
	if time.Now().After(expiresAt) {
		h.deleteRefreshToken(ctx, body.RefreshToken)
		return engine.UnauthorizedError("Refresh token expired")
	}
	if active, _ := row["is_active"].(bool); !active {
		return engine.UnauthorizedError("Account is disabled")
	}

	// Rotation: the used token is spent regardless of what happens next.
	h.deleteRefreshToken(ctx, body.RefreshToken)

	userID := asInt64(row["user_id"])
	username, _ := row["username"].(string)
	roles, err := h.userRoles(ctx, userID)
	if err != nil {
		return engine.StorageError("")
	}

	pair, err := h.generateTokenPair(ctx, userID, username, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout revokes a refresh token.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}
	h.deleteRefreshToken(c.Context(), body.RefreshToken)
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me returns the authenticated user's profile, roles and permissions.
func (h *Handler) Me(c *fiber.Ctx) error {
	user := GetUser(c)
	if user == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	perms, err := h.checker.Permissions(c.Context(), user.ID)
	if err != nil {
		return engine.StorageError("")
	}
	return c.JSON(fiber.Map{
		"id":          user.ID,
		"username":    user.Username,
		"roles":       user.Roles,
		"permissions": perms,
	})
}

// --- helpers ---

func (h *Handler) findUser(ctx context.Context, usernameOrEmail string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, username, email, password_hash, is_active FROM users WHERE username = %s OR email = %s",
		pb.Add(usernameOrEmail), pb.Add(usernameOrEmail))
	row, err := store.QueryRow(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	store.NormalizeBooleans([]map[string]any{row}, []string{"is_active"})
	return row, nil
}

func (h *Handler) userRoles(ctx context.Context, userID int64) ([]string, error) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = %s ORDER BY r.name",
		pb.Add(userID))
	rows, err := store.QueryRows(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(rows))
	for _, row := range rows {
		if s, ok := row["name"].(string); ok {
			roles = append(roles, s)
		}
	}
	return roles, nil
}

func (h *Handler) generateTokenPair(ctx context.Context, userID int64, username string, roles []string) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(userID, username, roles, h.jwtSecret)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO refresh_tokens (user_id, token, expires_at) VALUES (%s, %s, %s)",
		pb.Add(userID), pb.Add(refreshToken), pb.Add(time.Now().Add(RefreshTokenTTL)))
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (h *Handler) deleteRefreshToken(ctx context.Context, token string) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM refresh_tokens WHERE token = %s", pb.Add(token))
	_, _ = store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...)
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
