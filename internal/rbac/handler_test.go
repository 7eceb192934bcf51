package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-backend/internal/auth"
	"prism-backend/internal/config"
	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

func newTestApp(t *testing.T) (*fiber.App, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "rbac_test",
		Path:   t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Bootstrap(ctx))

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *engine.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	// Every request runs as the seeded superadmin.
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", &auth.UserContext{ID: 1, Username: "superadmin", Roles: []string{store.RoleSuperadmin}})
		return c.Next()
	})

	allowAll := func(perm string) fiber.Handler {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	NewHandler(s).Register(app.Group("/api/v1"), allowAll)
	return app, s
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestRoleLifecycle(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, "POST", "/api/v1/roles/", map[string]any{
		"name": "auditor", "description": "read-only reviewer",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	roleID := int64(body["id"].(float64))

	// duplicate name
	resp, body = doJSON(t, app, "POST", "/api/v1/roles/", map[string]any{"name": "auditor"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "CONFLICT", body["error"].(map[string]any)["code"])

	resp, body = doJSON(t, app, "PUT", fmt.Sprintf("/api/v1/roles/%d", roleID),
		map[string]any{"description": "compliance reviewer"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, "DELETE", fmt.Sprintf("/api/v1/roles/%d", roleID), nil)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestSystemRolesAreProtected(t *testing.T) {
	app, s := newTestApp(t)

	row, err := store.QueryRow(context.Background(), s.DB,
		"SELECT id FROM roles WHERE name = 'superadmin'")
	require.NoError(t, err)
	id := row["id"].(int64)

	resp, body := doJSON(t, app, "PUT", fmt.Sprintf("/api/v1/roles/%d", id),
		map[string]any{"name": "renamed"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", body["error"].(map[string]any)["code"])

	resp, _ = doJSON(t, app, "DELETE", fmt.Sprintf("/api/v1/roles/%d", id), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUserRoleAssignment(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, "POST", "/api/v1/users/", map[string]any{
		"username": "dave", "email": "dave@example.com", "password": "secret-pass",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	userID := int64(body["id"].(float64))

	resp, body = doJSON(t, app, "POST", "/api/v1/roles/", map[string]any{"name": "auditor"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	roleID := int64(body["id"].(float64))

	resp, body = doJSON(t, app, "PUT", fmt.Sprintf("/api/v1/users/%d/roles", userID),
		map[string]any{"role_ids": []int64{roleID}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"auditor"}, body["roles"])

	// reassignment replaces, not appends
	resp, body = doJSON(t, app, "PUT", fmt.Sprintf("/api/v1/users/%d/roles", userID),
		map[string]any{"role_ids": []int64{}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, body["roles"])
}

func TestListUsersPaginationAndCount(t *testing.T) {
	app, _ := newTestApp(t)

	// Bootstrap seeds one superadmin; add four more users.
	for i := 1; i <= 4; i++ {
		resp, _ := doJSON(t, app, "POST", "/api/v1/users/", map[string]any{
			"username": fmt.Sprintf("user%d", i),
			"email":    fmt.Sprintf("user%d@example.com", i),
			"password": "secret-pass",
		})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, body := doJSON(t, app, "GET", "/api/v1/users/?limit=2&skip=1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, body["total"])
	assert.EqualValues(t, 2, body["limit"])
	assert.EqualValues(t, 1, body["skip"])
	data := body["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "user1", data[0].(map[string]any)["username"])
	assert.Equal(t, "user2", data[1].(map[string]any)["username"])

	// A negative skip and oversized limit fall back to sane bounds.
	resp, body = doJSON(t, app, "GET", "/api/v1/users/?limit=9999&skip=-3", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, engine.MaxPageSize, body["limit"])
	assert.EqualValues(t, 0, body["skip"])
	assert.Len(t, body["data"].([]any), 5)

	resp, body = doJSON(t, app, "GET", "/api/v1/users/count", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 5, body["total"])
}

func TestUserRoleLinkEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, "POST", "/api/v1/users/", map[string]any{
		"username": "erin", "email": "erin@example.com", "password": "secret-pass",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	userID := int64(body["id"].(float64))

	resp, body = doJSON(t, app, "POST", "/api/v1/roles/", map[string]any{"name": "auditor"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	roleID := int64(body["id"].(float64))

	resp, body = doJSON(t, app, "POST", fmt.Sprintf("/api/v1/users/%d/roles/%d", userID, roleID), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"auditor"}, body["roles"])

	// Adding the same link twice is a no-op.
	resp, body = doJSON(t, app, "POST", fmt.Sprintf("/api/v1/users/%d/roles/%d", userID, roleID), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"auditor"}, body["roles"])

	// Missing user or role is a 404, not a silent insert.
	resp, _ = doJSON(t, app, "POST", fmt.Sprintf("/api/v1/users/9999/roles/%d", roleID), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, app, "POST", fmt.Sprintf("/api/v1/users/%d/roles/9999", userID), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, "DELETE", fmt.Sprintf("/api/v1/users/%d/roles/%d", userID, roleID), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, body["roles"])

	// Removing an absent link reports it.
	resp, _ = doJSON(t, app, "DELETE", fmt.Sprintf("/api/v1/users/%d/roles/%d", userID, roleID), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRolePermissionLinkEndpoints(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	resp, body := doJSON(t, app, "POST", "/api/v1/roles/", map[string]any{"name": "auditor"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	roleID := int64(body["id"].(float64))

	row, err := store.QueryRow(ctx, s.DB, "SELECT id FROM permissions WHERE name = 'user:read'")
	require.NoError(t, err)
	permID := row["id"].(int64)

	resp, body = doJSON(t, app, "POST", fmt.Sprintf("/api/v1/roles/%d/permissions/%d", roleID, permID), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"user:read"}, body["permissions"])

	resp, _ = doJSON(t, app, "POST", fmt.Sprintf("/api/v1/roles/9999/permissions/%d", permID), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, app, "POST", fmt.Sprintf("/api/v1/roles/%d/permissions/9999", roleID), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, "DELETE", fmt.Sprintf("/api/v1/roles/%d/permissions/%d", roleID, permID), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, body["permissions"])

	resp, _ = doJSON(t, app, "DELETE", fmt.Sprintf("/api/v1/roles/%d/permissions/%d", roleID, permID), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSidebarRoutesFilterByRole(t *testing.T) {
	app, s := newTestApp(t)
	ctx := context.Background()

	resp, body := doJSON(t, app, "POST", "/api/v1/modules/", map[string]any{
		"name": "sales", "label": "Sales", "route": "/sales",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	moduleID := int64(body["id"].(float64))

	resp, body = doJSON(t, app, "POST", "/api/v1/routes/", map[string]any{
		"route": "/sales/invoices", "label": "Invoices", "module_id": moduleID,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	routeID := int64(body["id"].(float64))

	row, err := store.QueryRow(ctx, s.DB, "SELECT id FROM roles WHERE name = 'admin'")
	require.NoError(t, err)
	adminRoleID := row["id"].(int64)

	resp, _ = doJSON(t, app, "PUT", fmt.Sprintf("/api/v1/routes/%d/roles", routeID),
		map[string]any{"role_ids": []int64{adminRoleID}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// superadmin sees it
	resp, body = doJSON(t, app, "GET", "/api/v1/routes/sidebar", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
}
