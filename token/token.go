// Package token issues and verifies the bearer tokens that authenticate
// every request. Tokens are RS256-signed with the principal's own private
// key rather than a server-wide secret, so each principal's tokens verify
// independently and die with that principal's key material.
package token

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/parkify/parkify/keystore"
)

var (
	// ErrMissingToken indicates no bearer token in the Authorization header.
	ErrMissingToken = errors.New("missing token")
	// ErrMalformedToken indicates a token body that cannot be decoded or
	// that lacks a role or principal id.
	ErrMalformedToken = errors.New("malformed token")
	// ErrInvalidSignature indicates a token not signed by the claimed
	// principal's key.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrTokenExpired indicates a token past its exp claim.
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the token claims set. The principal id travels in a role-specific
// claim (user_id, lessor_id, admin_id, developer_id), matching the wire
// format of the stored data.
type Claims struct {
	UserID      string `json:"user_id,omitempty"`
	LessorID    string `json:"lessor_id,omitempty"`
	AdminID     string `json:"admin_id,omitempty"`
	DeveloperID string `json:"developer_id,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// newClaims builds a claims set for the given principal with iat/exp stamped.
func newClaims(principalID string, role keystore.Role, email string, ttl time.Duration) *Claims {
	now := time.Now()
	c := &Claims{
		Role:  string(role),
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	switch role {
	case keystore.RoleRenter:
		c.UserID = principalID
	case keystore.RoleLessor:
		c.LessorID = principalID
	case keystore.RoleAdmin:
		c.AdminID = principalID
	case keystore.RoleDeveloper:
		c.DeveloperID = principalID
	}
	return c
}

// PrincipalID returns the id claim matching the role claim, or the first id
// present when the role is missing or inconsistent.
func (c *Claims) PrincipalID() string {
	switch keystore.Role(c.Role) {
	case keystore.RoleRenter:
		if c.UserID != "" {
			return c.UserID
		}
	case keystore.RoleLessor:
		if c.LessorID != "" {
			return c.LessorID
		}
	case keystore.RoleAdmin:
		if c.AdminID != "" {
			return c.AdminID
		}
	case keystore.RoleDeveloper:
		if c.DeveloperID != "" {
			return c.DeveloperID
		}
	}
	for _, id := range []string{c.UserID, c.AdminID, c.LessorID, c.DeveloperID} {
		if id != "" {
			return id
		}
	}
	return ""
}
