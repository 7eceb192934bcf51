package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-backend/internal/config"
	"prism-backend/internal/store"
)

const testSecret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken(42, "alice", []string{"admin"}, testSecret)
	require.NoError(t, err)

	claims, err := ParseAccessToken(token, testSecret)
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.UserID())
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{"admin"}, claims.Roles)
}

func TestParseAccessTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateAccessToken(1, "alice", nil, testSecret)
	require.NoError(t, err)

	_, err = ParseAccessToken(token, "other-secret")
	assert.Error(t, err)
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-30 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseAccessToken(signed, testSecret)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, CheckPassword("hunter22", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "auth_test",
		Path:   t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

func createUserWithRole(t *testing.T, s *store.Store, username, role string) int64 {
	t.Helper()
	ctx := context.Background()
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO users (username, email, password_hash, is_active) VALUES (%s, %s, %s, %s) RETURNING id",
		pb.Add(username), pb.Add(username+"@example.com"), pb.Add("x"), pb.Add(true))
	id, err := store.InsertReturningID(ctx, s.DB, sqlStr, pb.Params()...)
	require.NoError(t, err)

	pb = s.Dialect.NewParamBuilder()
	sqlStr = fmt.Sprintf(
		"INSERT INTO user_roles (user_id, role_id) SELECT %s, id FROM roles WHERE name = %s",
		pb.Add(id), pb.Add(role))
	_, err = store.Exec(ctx, s.DB, sqlStr, pb.Params()...)
	require.NoError(t, err)
	return id
}

func TestCheckerHasPermission(t *testing.T) {
	s := newTestStore(t)
	ch := NewChecker(s)
	ctx := context.Background()

	userID := createUserWithRole(t, s, "bob", store.RoleUser)
	user := &UserContext{ID: userID, Username: "bob", Roles: []string{store.RoleUser}}

	ok, err := ch.HasPermission(ctx, user, "dynamic_model:read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ch.HasPermission(ctx, user, "dynamic_model:create")
	require.NoError(t, err)
	assert.False(t, ok)

	// superadmin bypasses the lookup entirely
	super := &UserContext{ID: 999, Roles: []string{store.RoleSuperadmin}}
	ok, err = ch.HasPermission(ctx, super, "anything:at_all")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckerPermissions(t *testing.T) {
	s := newTestStore(t)
	ch := NewChecker(s)
	ctx := context.Background()

	userID := createUserWithRole(t, s, "carol", store.RoleUser)
	perms, err := ch.Permissions(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, perms, 7)
	assert.Contains(t, perms, "dynamic_data:read")
	assert.NotContains(t, perms, "dynamic_data:create")
}
