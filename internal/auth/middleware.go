package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"prism-backend/internal/engine"
	"prism-backend/internal/store"
)

// UserContext is the authenticated principal attached to each request.
type UserContext struct {
	ID       int64
	Username string
	Roles    []string
}

func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *UserContext) IsSuperadmin() bool {
	return u.HasRole(store.RoleSuperadmin)
}

// Middleware validates the Bearer token and sets the UserContext on the
// request.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user", &UserContext{
			ID:       claims.UserID(),
			Username: claims.Username,
			Roles:    claims.Roles,
		})

		return c.Next()
	}
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *UserContext {
	user, _ := c.Locals("user").(*UserContext)
	return user
}
