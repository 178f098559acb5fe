package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/parkify/parkify/fields"
	"github.com/parkify/parkify/keystore"
	"github.com/parkify/parkify/sqlutil"
)

// Reservation time, price, and duration fields are sealed under the renter's
// session key; only the row id, lot id, and status stay in clear for joins
// and filtering.
var reservationFieldNames = []string{"start_time", "end_time", "total_price", "duration_day", "duration_hour"}

// EnsureSchema creates the reservation table if it does not exist.
func (s *Server) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS reservation (
		reservation_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		parking_lot_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		start_time TEXT NOT NULL,
		start_time_signature TEXT NOT NULL,
		end_time TEXT NOT NULL,
		end_time_signature TEXT NOT NULL,
		total_price TEXT NOT NULL,
		total_price_signature TEXT NOT NULL,
		duration_day TEXT NOT NULL,
		duration_day_signature TEXT NOT NULL,
		duration_hour TEXT NOT NULL,
		duration_hour_signature TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

type createReservationRequest struct {
	ParkingLotID string `json:"parkingLotId" binding:"required"`
	StartTime    string `json:"startTime" binding:"required"`
	EndTime      string `json:"endTime" binding:"required"`
	TotalPrice   string `json:"totalPrice" binding:"required"`
	DurationDay  string `json:"durationDay" binding:"required"`
	DurationHour string `json:"durationHour" binding:"required"`
}

func (s *Server) createReservation(c *gin.Context) {
	id := identity(c)
	if id.Role != keystore.RoleRenter {
		c.JSON(http.StatusForbidden, gin.H{"error": "only renters can create reservations"})
		return
	}

	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "all fields are required"})
		return
	}

	plaintexts := map[string]string{
		"start_time":    req.StartTime,
		"end_time":      req.EndTime,
		"total_price":   req.TotalPrice,
		"duration_day":  req.DurationDay,
		"duration_hour": req.DurationHour,
	}
	sealed := make(map[string]fields.Value, len(plaintexts))
	for name, plaintext := range plaintexts {
		v, err := fields.Seal(plaintext, id.SessionKey, id.PrivateKey)
		if err != nil {
			s.internalError(c, err)
			return
		}
		sealed[name] = v
	}

	reservationID := uuid.NewString()
	query := sqlutil.Rebind(s.dialect,
		`INSERT INTO reservation (reservation_id, user_id, parking_lot_id,
			start_time, start_time_signature, end_time, end_time_signature,
			total_price, total_price_signature, duration_day, duration_day_signature,
			duration_hour, duration_hour_signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(c.Request.Context(), query,
		reservationID, id.PrincipalID, req.ParkingLotID,
		sealed["start_time"].Cipher, sealed["start_time"].Signature,
		sealed["end_time"].Cipher, sealed["end_time"].Signature,
		sealed["total_price"].Cipher, sealed["total_price"].Signature,
		sealed["duration_day"].Cipher, sealed["duration_day"].Signature,
		sealed["duration_hour"].Cipher, sealed["duration_hour"].Signature)
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "reservation created", "reservation_id": reservationID})
}

// listReservations returns the renter's reservations with every sealed field
// verified and decrypted. Rows that fail verification are skipped and logged;
// a nonempty set in which every row fails is reported as a data-integrity
// failure rather than an empty list.
func (s *Server) listReservations(c *gin.Context) {
	id := identity(c)
	if id.Role != keystore.RoleRenter {
		c.JSON(http.StatusForbidden, gin.H{"error": "only renters can list reservations"})
		return
	}

	query := sqlutil.Rebind(s.dialect,
		`SELECT reservation_id, parking_lot_id, status,
			start_time, start_time_signature, end_time, end_time_signature,
			total_price, total_price_signature, duration_day, duration_day_signature,
			duration_hour, duration_hour_signature
		 FROM reservation WHERE user_id = ? ORDER BY created_at`)
	rows, err := s.db.QueryContext(c.Request.Context(), query, id.PrincipalID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	defer rows.Close()

	var records []fields.Record
	meta := make(map[string]gin.H)
	for rows.Next() {
		var reservationID, lotID, status string
		vals := make([]fields.Value, len(reservationFieldNames))
		if err := rows.Scan(&reservationID, &lotID, &status,
			&vals[0].Cipher, &vals[0].Signature,
			&vals[1].Cipher, &vals[1].Signature,
			&vals[2].Cipher, &vals[2].Signature,
			&vals[3].Cipher, &vals[3].Signature,
			&vals[4].Cipher, &vals[4].Signature); err != nil {
			s.internalError(c, err)
			return
		}
		values := make(map[string]fields.Value, len(reservationFieldNames))
		for i, name := range reservationFieldNames {
			values[name] = vals[i]
		}
		records = append(records, fields.Record{ID: reservationID, Values: values})
		meta[reservationID] = gin.H{"parking_lot_id": lotID, "status": status}
	}
	if err := rows.Err(); err != nil {
		s.internalError(c, err)
		return
	}

	opened, err := fields.OpenRecords(s.log, records, id.SessionKey, id.PublicKey)
	if err != nil {
		if errors.Is(err, fields.ErrDataIntegrity) {
			s.log.Error().Int("records", len(records)).Msg("every reservation row failed verification")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reservation data failed verification"})
			return
		}
		s.internalError(c, err)
		return
	}

	out := make([]gin.H, 0, len(opened))
	for _, rec := range opened {
		item := gin.H{"reservation_id": rec.ID}
		for k, v := range meta[rec.ID] {
			item[k] = v
		}
		for name, plaintext := range rec.Fields {
			item[name] = plaintext
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"reservationDetails": out, "skipped": len(records) - len(opened)})
}

func (s *Server) deleteReservation(c *gin.Context) {
	id := identity(c)
	reservationID := c.Param("id")

	// Scoped to the caller's own rows; an id belonging to another principal
	// is indistinguishable from a missing one.
	query := sqlutil.Rebind(s.dialect,
		`DELETE FROM reservation WHERE reservation_id = ? AND user_id = ?`)
	res, err := s.db.ExecContext(c.Request.Context(), query, reservationID, id.PrincipalID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	affected, err := res.RowsAffected()
	if err != nil {
		s.internalError(c, err)
		return
	}
	if affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reservation deleted"})
}
