package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

const userID = "7f0c2a8e-5a34-4c55-9b7e-6a1f0d2c9e11"

func TestNewActor(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		admin bool
	}{
		{"no roles", nil, false},
		{"employee", []string{"employee"}, false},
		{"admin", []string{"employee", "admin"}, true},
		{"super admin", []string{"super_admin"}, true},
		{"finance manager", []string{"finance_manager"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewActor(userID, tt.roles...)
			assert.Equal(t, userID, a.UserID)
			assert.Equal(t, tt.admin, a.IsAdmin)
		})
	}
}

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("secret", "expenses")

	token, err := m.Generate(userID, []string{"admin"}, time.Hour)
	require.NoError(t, err)

	actor, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, userID, actor.UserID)
	assert.True(t, actor.IsAdmin)
}

func TestTokenManager_Rejects(t *testing.T) {
	m := NewTokenManager("secret", "expenses")

	wrongSecret, err := NewTokenManager("other", "expenses").Generate(userID, nil, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := NewTokenManager("secret", "someone-else").Generate(userID, nil, time.Hour)
	require.NoError(t, err)

	badSubject, err := m.Generate("not-a-uuid", nil, time.Hour)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "expenses",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not.a.token",
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"bad subject":  badSubject,
		"expired":      expired,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := m.Parse(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))
		})
	}
}

func TestTokenManager_EmptySecret(t *testing.T) {
	m := NewTokenManager("", "")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Roles: []string{RoleSuperAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(""))
	require.NoError(t, err)

	actor, err := m.Parse(forged)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))
	assert.False(t, actor.IsAdmin)

	_, err = m.Generate(userID, []string{RoleAdmin}, time.Hour)
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), NewActor(userID))
	a, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, userID, a.UserID)
}
