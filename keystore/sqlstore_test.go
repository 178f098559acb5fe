package keystore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/parkify/parkify/sqlutil"
)

func newTestSQLStore(t *testing.T) (*SQLStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db, sqlutil.DialectSQLite, newTestWrapper(t))
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store, db
}

func TestSQLStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLStore(t)
	mat := testMaterial(t)

	require.NoError(t, store.Issue(ctx, "u-1", RoleRenter, mat))

	got, err := store.Lookup(ctx, "u-1", RoleRenter)
	require.NoError(t, err)
	assert.Equal(t, mat.PublicKey, got.PublicKey)
	assert.Equal(t, mat.PrivateKey, got.PrivateKey)
	assert.Equal(t, mat.SessionKey, got.SessionKey)

	require.NoError(t, store.Delete(ctx, "u-1", RoleRenter))
	_, err = store.Lookup(ctx, "u-1", RoleRenter)
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "u-1", RoleRenter), ErrPrincipalNotFound)
}

func TestSQLStoreIssueOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLStore(t)
	mat := testMaterial(t)

	require.NoError(t, store.Issue(ctx, "u-1", RoleRenter, mat))
	assert.ErrorIs(t, store.Issue(ctx, "u-1", RoleRenter, mat), ErrAlreadyIssued)

	got, err := store.Lookup(ctx, "u-1", RoleRenter)
	require.NoError(t, err)
	assert.Equal(t, mat.SessionKey, got.SessionKey)
}

func TestSQLStoreWrapsAtRest(t *testing.T) {
	ctx := context.Background()
	store, db := newTestSQLStore(t)
	mat := testMaterial(t)

	require.NoError(t, store.Issue(ctx, "u-1", RoleRenter, mat))

	var publicKey, storedPriv, storedSession string
	err := db.QueryRowContext(ctx,
		`SELECT public_key, private_key, encrypted_session_key FROM user_keys WHERE user_id = ?`,
		"u-1").Scan(&publicKey, &storedPriv, &storedSession)
	require.NoError(t, err)

	// Public key is stored in clear; the other two columns never are.
	assert.Equal(t, mat.PublicKey, publicKey)
	assert.NotEqual(t, mat.PrivateKey, storedPriv)
	assert.NotContains(t, storedPriv, "RSA PRIVATE KEY")
	assert.NotEqual(t, mat.SessionKey, storedSession)
	assert.NotContains(t, storedSession, mat.SessionKey)
}

func TestSQLStoreRolePartitions(t *testing.T) {
	ctx := context.Background()
	store, db := newTestSQLStore(t)
	mat := testMaterial(t)

	require.NoError(t, store.Issue(ctx, "x-1", RoleLessor, mat))

	_, err := store.Lookup(ctx, "x-1", RoleRenter)
	assert.ErrorIs(t, err, ErrPrincipalNotFound)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lessor_keys`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_keys`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSQLStoreUnknownRole(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLStore(t)

	assert.ErrorIs(t, store.Issue(ctx, "u-1", Role("superuser"), testMaterial(t)), ErrUnknownRole)
	_, err := store.Lookup(ctx, "u-1", Role("superuser"))
	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.ErrorIs(t, store.Delete(ctx, "u-1", Role("superuser")), ErrUnknownRole)
}

func TestSQLStoreWithTx(t *testing.T) {
	ctx := context.Background()
	store, db := newTestSQLStore(t)
	mat := testMaterial(t)

	// A rolled-back transaction leaves no key material behind.
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.WithTx(tx).Issue(ctx, "u-tx", RoleRenter, mat))
	require.NoError(t, tx.Rollback())

	_, err = store.Lookup(ctx, "u-tx", RoleRenter)
	assert.ErrorIs(t, err, ErrPrincipalNotFound)

	// A committed one is visible through the base store.
	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.WithTx(tx).Issue(ctx, "u-tx", RoleRenter, mat))
	require.NoError(t, tx.Commit())

	_, err = store.Lookup(ctx, "u-tx", RoleRenter)
	assert.NoError(t, err)
}
