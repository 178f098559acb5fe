package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/parkify/parkify/config"
	"github.com/parkify/parkify/keystore"
	"github.com/parkify/parkify/registration"
	"github.com/parkify/parkify/server"
	"github.com/parkify/parkify/sqlutil"
	"github.com/parkify/parkify/token"
)

func main() {
	root := &cobra.Command{
		Use:   "parkify",
		Short: "Parkify identity and field-encryption service",
	}
	root.AddCommand(serveCmd(), migrateCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			db, dialect, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			srv, err := buildServer(cmd.Context(), cfg, db, dialect, log)
			if err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: srv.Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
				errCh <- httpServer.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			db, dialect, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := buildServer(cmd.Context(), cfg, db, dialect, log); err != nil {
				return err
			}
			log.Info().Msg("schema ready")
			return nil
		},
	}
}

// buildServer assembles the core and makes sure the schema exists.
func buildServer(ctx context.Context, cfg *config.Config, db *sql.DB, dialect sqlutil.Dialect, log zerolog.Logger) (*server.Server, error) {
	wrapper, err := keystore.NewWrapper(cfg.MasterSecret, cfg.SessionSecret)
	if err != nil {
		return nil, err
	}

	store := keystore.NewSQLStore(db, dialect, wrapper)
	registrar := registration.NewRegistrar(db, dialect, store, log)
	issuer := token.NewIssuer(store, cfg.TokenTTL)
	srv := server.New(db, dialect, store, registrar, issuer, log, cfg.Development())

	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if err := registrar.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if err := srv.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func openDatabase(cfg *config.Config) (*sql.DB, sqlutil.Dialect, error) {
	driver, dialect := "sqlite", sqlutil.DialectSQLite
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		driver, dialect = "postgres", sqlutil.DialectPostgres
	}

	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, dialect, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.Development() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
