// Package server is the HTTP boundary: thin gin handlers that authenticate
// through the token verifier and call the codecs on the fields they read and
// write. Business logic lives in the packages underneath; handlers only
// translate between JSON and the core.
package server

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/parkify/parkify/keystore"
	"github.com/parkify/parkify/registration"
	"github.com/parkify/parkify/sqlutil"
	"github.com/parkify/parkify/token"
)

// Server wires the core into an HTTP API.
type Server struct {
	db        *sql.DB
	dialect   sqlutil.Dialect
	store     *keystore.SQLStore
	registrar *registration.Registrar
	issuer    *token.Issuer
	verifier  *token.Verifier
	log       zerolog.Logger
	engine    *gin.Engine
}

// New builds the server and its route table.
func New(db *sql.DB, dialect sqlutil.Dialect, store *keystore.SQLStore, registrar *registration.Registrar,
	issuer *token.Issuer, log zerolog.Logger, development bool) *Server {

	if !development {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		db:        db,
		dialect:   dialect,
		store:     store,
		registrar: registrar,
		issuer:    issuer,
		verifier:  token.NewVerifier(store),
		log:       log.With().Str("component", "server").Logger(),
		engine:    gin.New(),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the root HTTP handler, for http.Server and tests.
func (s *Server) Handler() *gin.Engine {
	return s.engine
}

func (s *Server) routes() {
	api := s.engine.Group("/api")

	api.POST("/register/renter", s.registerRenter)
	api.POST("/register/lessor", s.registerLessor)
	api.POST("/login/:role", s.login)

	authed := api.Group("", s.requireAuth())
	authed.GET("/keys", s.getKeys)
	authed.GET("/profile", s.getProfile)
	authed.PUT("/profile", s.updateProfile)
	authed.POST("/reservations", s.createReservation)
	authed.GET("/reservations", s.listReservations)
	authed.DELETE("/reservations/:id", s.deleteReservation)

	admin := authed.Group("/admin", s.requireRole(keystore.RoleAdmin, keystore.RoleDeveloper))
	admin.POST("/staff", s.registerStaff)
	admin.DELETE("/principals/:role/:id", s.deletePrincipal)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
