// Package auth turns a bearer token into the Actor the approval engines act
// on behalf of.
package auth

import (
	"context"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/syncedsports/be-expense-approvals/internal/errors"
)

// Roles granting administrative override on every approval stage.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Actor is the authenticated caller. IsAdmin is resolved once, here, from
// the token's roles.
type Actor struct {
	UserID  string
	Roles   []string
	IsAdmin bool
}

// NewActor builds an Actor from a user id and its roles.
func NewActor(userID string, roles ...string) Actor {
	return Actor{
		UserID:  userID,
		Roles:   roles,
		IsAdmin: slices.Contains(roles, RoleAdmin) || slices.Contains(roles, RoleSuperAdmin),
	}
}

// Claims is the JWT payload: sub carries the user id.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

var errNoSecret = errors.New(errors.ErrCodeUnauthorized, "token signing secret is not configured")

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a TokenManager. An empty issuer disables the
// issuer check.
func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer}
}

// Generate signs a token for userID. Used by tooling and tests.
func (m *TokenManager) Generate(userID string, roles []string, ttl time.Duration) (string, error) {
	if len(m.secret) == 0 {
		return "", errNoSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse verifies tokenStr and returns the Actor it names.
func (m *TokenManager) Parse(tokenStr string) (Actor, error) {
	// An empty HMAC key would accept tokens anyone can sign.
	if len(m.secret) == 0 {
		return Actor{}, errNoSecret
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return Actor{}, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Actor{}, errors.New(errors.ErrCodeUnauthorized, "invalid token claims")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return Actor{}, errors.New(errors.ErrCodeUnauthorized, "token subject is not a user id")
	}
	return NewActor(claims.Subject, claims.Roles...), nil
}

type actorKey struct{}

// WithActor stores the actor on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor stored on ctx.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
