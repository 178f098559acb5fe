package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parkify/parkify/sqlutil"
)

// SQLStore is the relational Store. Each role has its own key table
// (user_keys, lessor_keys, admin_keys, developer_keys) mirroring the
// partitioned layout of the production schema.
type SQLStore struct {
	db      *sql.DB
	runner  sqlutil.Querier
	dialect sqlutil.Dialect
	wrapper *Wrapper
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps a database handle. The wrapper encrypts and decrypts the
// private-key and session-key columns; the database never sees them in clear.
func NewSQLStore(db *sql.DB, dialect sqlutil.Dialect, wrapper *Wrapper) *SQLStore {
	return &SQLStore{db: db, runner: db, dialect: dialect, wrapper: wrapper}
}

// WithTx returns a copy of the store that runs its statements on tx. Used by
// registration so that profile insert and key issuance commit or roll back
// as one unit.
func (s *SQLStore) WithTx(tx *sql.Tx) *SQLStore {
	return &SQLStore{db: s.db, runner: tx, dialect: s.dialect, wrapper: s.wrapper}
}

// Wrapper exposes the store's wrapper for collaborators that wrap
// non-key values (login credentials) under the same server secrets.
func (s *SQLStore) Wrapper() *Wrapper {
	return s.wrapper
}

// EnsureSchema creates the four key partitions if they do not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, role := range []Role{RoleRenter, RoleLessor, RoleAdmin, RoleDeveloper} {
		table, idColumn := role.keyTable()
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s TEXT PRIMARY KEY,
			public_key TEXT NOT NULL,
			private_key TEXT NOT NULL,
			encrypted_session_key TEXT NOT NULL,
			issued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, table, idColumn)
		if _, err := s.runner.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	return nil
}

// Issue persists wrapped key material for a new principal. The partition's
// primary key enforces at-most-once issuance: a second call reports
// ErrAlreadyIssued and leaves the original row untouched, even when two
// issuances race.
func (s *SQLStore) Issue(ctx context.Context, principalID string, role Role, material KeyMaterial) error {
	table, idColumn := role.keyTable()
	if table == "" {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	wrappedPriv, err := s.wrapper.WrapPrivateKey(material.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to wrap private key: %w", err)
	}
	wrappedSession, err := s.wrapper.WrapSessionKey(material.SessionKey)
	if err != nil {
		return fmt.Errorf("failed to wrap session key: %w", err)
	}

	query := sqlutil.Rebind(s.dialect, fmt.Sprintf(
		`INSERT INTO %s (%s, public_key, private_key, encrypted_session_key)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (%s) DO NOTHING`, table, idColumn, idColumn))
	res, err := s.runner.ExecContext(ctx, query, principalID, material.PublicKey, wrappedPriv, wrappedSession)
	if err != nil {
		return fmt.Errorf("failed to insert key material: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", ErrAlreadyIssued, role, principalID)
	}
	return nil
}

// Lookup fetches and unwraps the principal's key material.
func (s *SQLStore) Lookup(ctx context.Context, principalID string, role Role) (*KeyMaterial, error) {
	table, idColumn := role.keyTable()
	if table == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	query := sqlutil.Rebind(s.dialect, fmt.Sprintf(
		`SELECT public_key, private_key, encrypted_session_key FROM %s WHERE %s = ?`, table, idColumn))

	var publicKey, wrappedPriv, wrappedSession string
	err := s.runner.QueryRowContext(ctx, query, principalID).Scan(&publicKey, &wrappedPriv, &wrappedSession)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrPrincipalNotFound, role, principalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query key material: %w", err)
	}

	privateKey, err := s.wrapper.UnwrapPrivateKey(wrappedPriv)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap private key for %s %s: %w", role, principalID, err)
	}
	sessionKey, err := s.wrapper.UnwrapSessionKey(wrappedSession)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap session key for %s %s: %w", role, principalID, err)
	}

	return &KeyMaterial{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		SessionKey: sessionKey,
	}, nil
}

// Delete removes the principal's key material row.
func (s *SQLStore) Delete(ctx context.Context, principalID string, role Role) error {
	table, idColumn := role.keyTable()
	if table == "" {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	query := sqlutil.Rebind(s.dialect, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, idColumn))
	res, err := s.runner.ExecContext(ctx, query, principalID)
	if err != nil {
		return fmt.Errorf("failed to delete key material: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", ErrPrincipalNotFound, role, principalID)
	}
	return nil
}
