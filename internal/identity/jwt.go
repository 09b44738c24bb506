package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens issued for dashboard users.
type JWTResolver struct {
	secret []byte
	expiry time.Duration
}

func NewJWTResolver(secret string, expiry time.Duration) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), expiry: expiry}
}

// Issue signs a token for a dashboard user. A non-positive expiry issues a
// token without exp.
func (r *JWTResolver) Issue(id, name string, role Role) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if strings.TrimSpace(id) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := Claims{
		Name: strings.TrimSpace(name),
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if r.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(r.expiry))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

func (r *JWTResolver) Resolve(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Anonymous(), nil
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return Anonymous(), ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Anonymous(), ErrInvalidToken
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return New(claims.Subject, name, ParseRole(claims.Role)), nil
}
