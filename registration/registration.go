// Package registration owns principal account rows and the one transactional
// flow in the system: creating a profile and issuing its key material as a
// single unit. A failure partway leaves neither row behind, so no principal
// can exist without keys.
package registration

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parkify/parkify/fields"
	"github.com/parkify/parkify/keystore"
	"github.com/parkify/parkify/sqlutil"
)

var (
	// ErrEmailTaken indicates the email is already registered for the role.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPhoneTaken indicates the phone number is already registered.
	ErrPhoneTaken = errors.New("phone number already registered")
	// ErrMissingField indicates a required registration field was empty.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidCredentials indicates a failed email/password check.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// RenterProfile is the input for renter registration.
type RenterProfile struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	Password    string
}

// LessorProfile is the input for lessor registration. The address is sealed
// under the lessor's own session key like the name fields.
type LessorProfile struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	Address     string
	Password    string
}

// StaffProfile is the input for admin and developer registration.
type StaffProfile struct {
	Email    string
	Password string
}

// Registrar creates, authenticates, and deletes principal accounts.
type Registrar struct {
	db      *sql.DB
	dialect sqlutil.Dialect
	store   *keystore.SQLStore
	log     zerolog.Logger
}

// NewRegistrar returns a Registrar sharing the store's database handle.
func NewRegistrar(db *sql.DB, dialect sqlutil.Dialect, store *keystore.SQLStore, log zerolog.Logger) *Registrar {
	return &Registrar{db: db, dialect: dialect, store: store, log: log.With().Str("component", "registration").Logger()}
}

func profileTable(role keystore.Role) (table string, idColumn string) {
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

// EnsureSchema creates the profile tables if they do not exist.
func (r *Registrar) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_info (
			user_id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			first_name_signature TEXT NOT NULL,
			last_name TEXT NOT NULL,
			last_name_signature TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			phone_number TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS lessor_info (
			lessor_id TEXT PRIMARY KEY,
			first_name TEXT NOT NULL,
			first_name_signature TEXT NOT NULL,
			last_name TEXT NOT NULL,
			last_name_signature TEXT NOT NULL,
			address TEXT NOT NULL,
			address_signature TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			phone_number TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS admin_info (
			admin_id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS developer_info (
			developer_id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create profile table: %w", err)
		}
	}
	return nil
}

// RegisterRenter creates a renter account. Name fields are sealed under the
// new renter's session key; the password is wrapped under the server secret
// since it must be checkable before any login exists.
func (r *Registrar) RegisterRenter(ctx context.Context, p RenterProfile) (string, error) {
	if p.FirstName == "" || p.LastName == "" || p.Email == "" || p.PhoneNumber == "" || p.Password == "" {
		return "", ErrMissingField
	}
	if err := r.checkUnique(ctx, keystore.RoleRenter, p.Email, p.PhoneNumber); err != nil {
		return "", err
	}

	// RSA keygen is the slow part; do it before opening the transaction.
	material, err := keystore.Generate()
	if err != nil {
		return "", err
	}
	firstName, err := fields.Seal(p.FirstName, material.SessionKey, material.PrivateKey)
	if err != nil {
		return "", err
	}
	lastName, err := fields.Seal(p.LastName, material.SessionKey, material.PrivateKey)
	if err != nil {
		return "", err
	}
	wrappedPassword, err := r.store.Wrapper().WrapCredential(p.Password)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		query := sqlutil.Rebind(r.dialect,
			`INSERT INTO user_info (user_id, first_name, first_name_signature, last_name, last_name_signature, email, phone_number, password)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, query,
			id, firstName.Cipher, firstName.Signature, lastName.Cipher, lastName.Signature,
			p.Email, p.PhoneNumber, wrappedPassword); err != nil {
			return fmt.Errorf("failed to insert renter profile: %w", err)
		}
		return r.store.WithTx(tx).Issue(ctx, id, keystore.RoleRenter, material)
	})
	if err != nil {
		return "", err
	}

	r.log.Info().Str("role", string(keystore.RoleRenter)).Str("principal_id", id).Msg("registered principal")
	return id, nil
}

// RegisterLessor creates a lessor account with sealed name and address fields.
func (r *Registrar) RegisterLessor(ctx context.Context, p LessorProfile) (string, error) {
	if p.FirstName == "" || p.LastName == "" || p.Email == "" || p.PhoneNumber == "" || p.Address == "" || p.Password == "" {
		return "", ErrMissingField
	}
	if err := r.checkUnique(ctx, keystore.RoleLessor, p.Email, p.PhoneNumber); err != nil {
		return "", err
	}

	material, err := keystore.Generate()
	if err != nil {
		return "", err
	}
	firstName, err := fields.Seal(p.FirstName, material.SessionKey, material.PrivateKey)
	if err != nil {
		return "", err
	}
	lastName, err := fields.Seal(p.LastName, material.SessionKey, material.PrivateKey)
	if err != nil {
		return "", err
	}
	address, err := fields.Seal(p.Address, material.SessionKey, material.PrivateKey)
	if err != nil {
		return "", err
	}
	wrappedPassword, err := r.store.Wrapper().WrapCredential(p.Password)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		query := sqlutil.Rebind(r.dialect,
			`INSERT INTO lessor_info (lessor_id, first_name, first_name_signature, last_name, last_name_signature, address, address_signature, email, phone_number, password)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, query,
			id, firstName.Cipher, firstName.Signature, lastName.Cipher, lastName.Signature,
			address.Cipher, address.Signature, p.Email, p.PhoneNumber, wrappedPassword); err != nil {
			return fmt.Errorf("failed to insert lessor profile: %w", err)
		}
		return r.store.WithTx(tx).Issue(ctx, id, keystore.RoleLessor, material)
	})
	if err != nil {
		return "", err
	}

	r.log.Info().Str("role", string(keystore.RoleLessor)).Str("principal_id", id).Msg("registered principal")
	return id, nil
}

// RegisterStaff creates an admin or developer account. Staff have no sealed
// profile fields but get full key material like any other principal.
func (r *Registrar) RegisterStaff(ctx context.Context, role keystore.Role, p StaffProfile) (string, error) {
	if role != keystore.RoleAdmin && role != keystore.RoleDeveloper {
		return "", fmt.Errorf("%w: %q is not a staff role", keystore.ErrUnknownRole, role)
	}
	if p.Email == "" || p.Password == "" {
		return "", ErrMissingField
	}
	if err := r.checkUnique(ctx, role, p.Email, ""); err != nil {
		return "", err
	}

	material, err := keystore.Generate()
	if err != nil {
		return "", err
	}
	wrappedPassword, err := r.store.Wrapper().WrapCredential(p.Password)
	if err != nil {
		return "", err
	}

	table, idColumn := profileTable(role)
	id := uuid.NewString()
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		query := sqlutil.Rebind(r.dialect, fmt.Sprintf(
			`INSERT INTO %s (%s, email, password) VALUES (?, ?, ?)`, table, idColumn))
		if _, err := tx.ExecContext(ctx, query, id, p.Email, wrappedPassword); err != nil {
			return fmt.Errorf("failed to insert %s profile: %w", role, err)
		}
		return r.store.WithTx(tx).Issue(ctx, id, role, material)
	})
	if err != nil {
		return "", err
	}

	r.log.Info().Str("role", string(role)).Str("principal_id", id).Msg("registered principal")
	return id, nil
}

// Authenticate checks an email/password pair for the role and returns the
// principal id on success. The stored password is unwrapped and compared in
// constant time; all failures collapse into ErrInvalidCredentials so the
// response does not reveal which half was wrong.
func (r *Registrar) Authenticate(ctx context.Context, role keystore.Role, email, password string) (string, error) {
	table, idColumn := profileTable(role)
	if table == "" {
		return "", fmt.Errorf("%w: %q", keystore.ErrUnknownRole, role)
	}

	query := sqlutil.Rebind(r.dialect, fmt.Sprintf(
		`SELECT %s, password FROM %s WHERE email = ?`, idColumn, table))

	var id, wrappedPassword string
	err := r.db.QueryRowContext(ctx, query, email).Scan(&id, &wrappedPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("failed to query credentials: %w", err)
	}

	stored, err := r.store.Wrapper().UnwrapCredential(wrappedPassword)
	if err != nil {
		return "", fmt.Errorf("failed to unwrap stored credential: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return "", ErrInvalidCredentials
	}
	return id, nil
}

// DeletePrincipal removes a principal's profile row and key material in one
// transaction. Deleting the key material is the only revocation mechanism:
// outstanding tokens for the principal stop verifying immediately.
func (r *Registrar) DeletePrincipal(ctx context.Context, role keystore.Role, principalID string) error {
	table, idColumn := profileTable(role)
	if table == "" {
		return fmt.Errorf("%w: %q", keystore.ErrUnknownRole, role)
	}

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		query := sqlutil.Rebind(r.dialect, fmt.Sprintf(
			`DELETE FROM %s WHERE %s = ?`, table, idColumn))
		res, err := tx.ExecContext(ctx, query, principalID)
		if err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s %s", keystore.ErrPrincipalNotFound, role, principalID)
		}
		return r.store.WithTx(tx).Delete(ctx, principalID, role)
	})
	if err != nil {
		return err
	}

	r.log.Info().Str("role", string(role)).Str("principal_id", principalID).Msg("deleted principal and key material")
	return nil
}

func (r *Registrar) checkUnique(ctx context.Context, role keystore.Role, email, phone string) error {
	table, _ := profileTable(role)

	var exists int
	query := sqlutil.Rebind(r.dialect, fmt.Sprintf(`SELECT 1 FROM %s WHERE email = ?`, table))
	err := r.db.QueryRowContext(ctx, query, email).Scan(&exists)
	if err == nil {
		return ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check email uniqueness: %w", err)
	}

	if phone != "" {
		query = sqlutil.Rebind(r.dialect, fmt.Sprintf(`SELECT 1 FROM %s WHERE phone_number = ?`, table))
		err = r.db.QueryRowContext(ctx, query, phone).Scan(&exists)
		if err == nil {
			return ErrPhoneTaken
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check phone uniqueness: %w", err)
		}
	}
	return nil
}

func (r *Registrar) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
