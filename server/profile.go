package server

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parkify/parkify/fields"
	"github.com/parkify/parkify/keystore"
	"github.com/parkify/parkify/sqlutil"
)

// getProfile reads the principal's own profile row, verifying each sealed
// field against their public key before decrypting with their session key.
func (s *Server) getProfile(c *gin.Context) {
	id := identity(c)
	ctx := c.Request.Context()

	switch id.Role {
	case keystore.RoleRenter, keystore.RoleLessor:
	default:
		// Staff profiles carry no sealed fields.
		s.getStaffProfile(c)
		return
	}

	table, idColumn := profileTableFor(id.Role)
	withAddress := id.Role == keystore.RoleLessor

	cols := `first_name, first_name_signature, last_name, last_name_signature, email, phone_number`
	if withAddress {
		cols += `, address, address_signature`
	}
	query := sqlutil.Rebind(s.dialect, fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = ?`, cols, table, idColumn))

	var firstName, lastName, address fields.Value
	var email, phone string
	row := s.db.QueryRowContext(ctx, query, id.PrincipalID)
	var err error
	if withAddress {
		err = row.Scan(&firstName.Cipher, &firstName.Signature, &lastName.Cipher, &lastName.Signature,
			&email, &phone, &address.Cipher, &address.Signature)
	} else {
		err = row.Scan(&firstName.Cipher, &firstName.Signature, &lastName.Cipher, &lastName.Signature,
			&email, &phone)
	}
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	first, err := fields.Open(firstName, id.SessionKey, id.PublicKey)
	if err != nil {
		s.fieldError(c, "first_name", err)
		return
	}
	last, err := fields.Open(lastName, id.SessionKey, id.PublicKey)
	if err != nil {
		s.fieldError(c, "last_name", err)
		return
	}

	resp := gin.H{
		"firstName":   first,
		"lastName":    last,
		"email":       email,
		"phoneNumber": phone,
	}
	if withAddress {
		addr, err := fields.Open(address, id.SessionKey, id.PublicKey)
		if err != nil {
			s.fieldError(c, "address", err)
			return
		}
		resp["address"] = addr
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getStaffProfile(c *gin.Context) {
	id := identity(c)
	table, idColumn := profileTableFor(id.Role)

	query := sqlutil.Rebind(s.dialect, fmt.Sprintf(
		`SELECT email FROM %s WHERE %s = ?`, table, idColumn))
	var email string
	err := s.db.QueryRowContext(c.Request.Context(), query, id.PrincipalID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email, "role": string(id.Role)})
}

type updateProfileRequest struct {
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName" binding:"required"`
	Address   string `json:"address"`
}

// updateProfile replaces the principal's sealed name (and address, for
// lessors) fields. Each field's ciphertext and signature are regenerated
// together; a stale signature never survives an update.
func (s *Server) updateProfile(c *gin.Context) {
	id := identity(c)
	if id.Role != keystore.RoleRenter && id.Role != keystore.RoleLessor {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff profiles are not editable here"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "firstName and lastName are required"})
		return
	}
	if id.Role == keystore.RoleLessor && req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	firstName, err := fields.Seal(req.FirstName, id.SessionKey, id.PrivateKey)
	if err != nil {
		s.internalError(c, err)
		return
	}
	lastName, err := fields.Seal(req.LastName, id.SessionKey, id.PrivateKey)
	if err != nil {
		s.internalError(c, err)
		return
	}

	table, idColumn := profileTableFor(id.Role)
	var res sql.Result
	if id.Role == keystore.RoleLessor {
		address, err := fields.Seal(req.Address, id.SessionKey, id.PrivateKey)
		if err != nil {
			s.internalError(c, err)
			return
		}
		query := sqlutil.Rebind(s.dialect, fmt.Sprintf(
			`UPDATE %s SET first_name = ?, first_name_signature = ?, last_name = ?, last_name_signature = ?, address = ?, address_signature = ? WHERE %s = ?`,
			table, idColumn))
		res, err = s.db.ExecContext(c.Request.Context(), query,
			firstName.Cipher, firstName.Signature, lastName.Cipher, lastName.Signature,
			address.Cipher, address.Signature, id.PrincipalID)
		if err != nil {
			s.internalError(c, err)
			return
		}
	} else {
		query := sqlutil.Rebind(s.dialect, fmt.Sprintf(
			`UPDATE %s SET first_name = ?, first_name_signature = ?, last_name = ?, last_name_signature = ? WHERE %s = ?`,
			table, idColumn))
		res, err = s.db.ExecContext(c.Request.Context(), query,
			firstName.Cipher, firstName.Signature, lastName.Cipher, lastName.Signature, id.PrincipalID)
		if err != nil {
			s.internalError(c, err)
			return
		}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		s.internalError(c, err)
		return
	}
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated"})
}

func (s *Server) fieldError(c *gin.Context, field string, err error) {
	if errors.Is(err, fields.ErrSignatureMismatch) {
		s.log.Warn().Str("field", field).Msg("profile field failed signature verification")
		c.JSON(http.StatusConflict, gin.H{"error": "profile data failed verification"})
		return
	}
	s.internalError(c, err)
}

func profileTableFor(role keystore.Role) (string, string) {
	switch role {
	case keystore.RoleRenter:
		return "user_info", "user_id"
	case keystore.RoleLessor:
		return "lessor_info", "lessor_id"
	case keystore.RoleAdmin:
		return "admin_info", "admin_id"
	case keystore.RoleDeveloper:
		return "developer_info", "developer_id"
	}
	return "", ""
}
