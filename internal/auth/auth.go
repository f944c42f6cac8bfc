// Package auth verifies bearer tokens issued by the external identity service
// and carries the resulting principal through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"printshop/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles known to the shop.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleCashier  = "cashier"
	RoleAdmin    = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Role   string
	Phone  string
}

// IsStaff reports whether the principal works the shop floor.
func (p *Principal) IsStaff() bool {
	if p == nil {
		return false
	}
	switch p.Role {
	case RoleStaff, RoleCashier, RoleAdmin:
		return true
	}
	return false
}

// HasRole reports whether the principal holds one of roles.
func (p *Principal) HasRole(roles ...string) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Claims is the token payload.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Phone  string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. An empty secret is rejected.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Issue signs a token for p. The identity service owns issuance in
// production; this exists for tooling and tests.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: p.UserID.String(),
		Role:   p.Role,
		Phone:  p.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Parse validates a token string and returns its principal.
func (v *Verifier) Parse(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrUnauthorized)
	}
	if !token.Valid {
		return nil, apperr.ErrUnauthorized
	}

	rawID := claims.UserID
	if rawID == "" {
		rawID = claims.Subject
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("token subject %q: %w", rawID, apperr.ErrUnauthorized)
	}

	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}
	return &Principal{UserID: id, Role: role, Phone: claims.Phone}, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the caller, or nil for anonymous requests.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
