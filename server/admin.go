package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parkify/parkify/keystore"
)

// deletePrincipal removes a principal and their key material in one
// transaction. With the key material gone, every outstanding token for the
// principal fails verification — this is the system's only revocation path.
func (s *Server) deletePrincipal(c *gin.Context) {
	role, err := keystore.ParseRole(c.Param("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	principalID := c.Param("id")

	if err := s.registrar.DeletePrincipal(c.Request.Context(), role, principalID); err != nil {
		if errors.Is(err, keystore.ErrPrincipalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "principal not found"})
			return
		}
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "principal deleted"})
}
