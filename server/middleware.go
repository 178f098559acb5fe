package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parkify/parkify/keystore"
	"github.com/parkify/parkify/token"
)

const identityKey = "parkify.identity"

// requireAuth runs the token verifier on every request and stores the
// resulting identity in the request context. All verifier failures are
// recoverable request rejections; they must never crash the process.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(authStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// requireRole restricts a route to the given roles. Must run after requireAuth.
func (s *Server) requireRole(roles ...keystore.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity(c)
		for _, role := range roles {
			if id.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}

// identity returns the verified identity stored by requireAuth.
func identity(c *gin.Context) *token.Identity {
	return c.MustGet(identityKey).(*token.Identity)
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, token.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, token.ErrMalformedToken):
		return http.StatusBadRequest
	default:
		// PrincipalNotFound, InvalidSignature, TokenExpired.
		return http.StatusUnauthorized
	}
}
