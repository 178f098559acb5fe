package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parkify/parkify/keystore"
	"github.com/parkify/parkify/registration"
)

type registerRenterRequest struct {
	FirstName   string `json:"firstName" binding:"required"`
	LastName    string `json:"lastName" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

func (s *Server) registerRenter(c *gin.Context) {
	var req registerRenterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "all fields are required"})
		return
	}

	id, err := s.registrar.RegisterRenter(c.Request.Context(), registration.RenterProfile{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Password:    req.Password,
	})
	if err != nil {
		s.registrationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "register successful", "user_id": id})
}

type registerLessorRequest struct {
	FirstName   string `json:"firstName" binding:"required"`
	LastName    string `json:"lastName" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Address     string `json:"address" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

func (s *Server) registerLessor(c *gin.Context) {
	var req registerLessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "all fields are required"})
		return
	}

	id, err := s.registrar.RegisterLessor(c.Request.Context(), registration.LessorProfile{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Address:     req.Address,
		Password:    req.Password,
	})
	if err != nil {
		s.registrationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "register successful", "lessor_id": id})
}

type registerStaffRequest struct {
	Role     string `json:"role" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) registerStaff(c *gin.Context) {
	var req registerStaffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "all fields are required"})
		return
	}
	role, err := keystore.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	id, err := s.registrar.RegisterStaff(c.Request.Context(), role, registration.StaffProfile{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.registrationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "register successful", "id": id, "role": string(role)})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// login authenticates a principal and mints a token signed with their own
// private key. The response carries the decrypted session key so the client
// can decrypt its own fields, mirroring what the verifier returns on every
// later request.
func (s *Server) login(c *gin.Context) {
	role, err := keystore.ParseRole(c.Param("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	id, err := s.registrar.Authenticate(c.Request.Context(), role, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, registration.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		s.internalError(c, err)
		return
	}

	signed, err := s.issuer.Issue(c.Request.Context(), id, role, req.Email)
	if err != nil {
		s.internalError(c, err)
		return
	}

	material, err := s.store.Lookup(c.Request.Context(), id, role)
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "login successful",
		role.IDClaim(): id,
		"token":      signed,
		"sessionKey": material.SessionKey,
	})
}

// getKeys returns the authenticated principal's decrypted private and session
// keys, already loaded by the verifier.
func (s *Server) getKeys(c *gin.Context) {
	id := identity(c)
	c.JSON(http.StatusOK, gin.H{
		"privateKey": id.PrivateKey,
		"sessionKey": id.SessionKey,
		"publicKey":  id.PublicKey,
	})
}

func (s *Server) registrationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registration.ErrMissingField):
		c.JSON(http.StatusBadRequest, gin.H{"error": "all fields are required"})
	case errors.Is(err, registration.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
	case errors.Is(err, registration.ErrPhoneTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "phone number already exists"})
	default:
		s.internalError(c, err)
	}
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
