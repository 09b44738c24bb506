// Package identity resolves who is looking at the support chat: an agent
// allowed to work the queue, or a customer.
package identity

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

// Role is the closed set of roles known to the dashboard.
type Role string

const (
	RoleCEO       Role = "CEO"
	RoleCoFounder Role = "Co-Founder"
	RoleAdmin     Role = "Admin"
	RoleEmployee  Role = "Employee"
	RoleCustomer  Role = "Customer"
)

// ParseRole maps unknown values to RoleCustomer.
func ParseRole(s string) Role {
	switch r := Role(strings.TrimSpace(s)); r {
	case RoleCEO, RoleCoFounder, RoleAdmin, RoleEmployee:
		return r
	default:
		return RoleCustomer
	}
}

// IsAgentCapable reports whether the role may claim, close and list chats.
func (r Role) IsAgentCapable() bool {
	switch r {
	case RoleCEO, RoleCoFounder, RoleAdmin, RoleEmployee:
		return true
	}
	return false
}

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	IsAgent     bool   `json:"is_agent"`
}

// New evaluates the role's capability once, at resolution time.
func New(id, displayName string, role Role) Identity {
	return Identity{
		ID:          id,
		DisplayName: displayName,
		Role:        role,
		IsAgent:     role.IsAgentCapable() && id != "",
	}
}

// Anonymous is the identity of a viewer without a valid token.
func Anonymous() Identity {
	return Identity{Role: RoleCustomer}
}

type Resolver interface {
	// Resolve never fails on a missing token; an invalid one yields the
	// anonymous identity together with ErrInvalidToken.
	Resolve(ctx context.Context, token string) (Identity, error)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Anonymous()
}
