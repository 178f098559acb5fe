package token

import (
	"context"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkify/parkify/keystore"
)

var (
	materialOnce sync.Once
	materials    [2]keystore.KeyMaterial
	materialErr  error
)

// testMaterials generates two distinct key sets once for the package.
func testMaterials(t *testing.T) [2]keystore.KeyMaterial {
	t.Helper()
	materialOnce.Do(func() {
		for i := range materials {
			materials[i], materialErr = keystore.Generate()
			if materialErr != nil {
				return
			}
		}
	})
	require.NoError(t, materialErr)
	return materials
}

func newTestStore(t *testing.T) *keystore.MemStore {
	t.Helper()
	store := keystore.NewMemStore()
	mats := testMaterials(t)
	require.NoError(t, store.Issue(context.Background(), "u-1", keystore.RoleRenter, mats[0]))
	require.NoError(t, store.Issue(context.Background(), "a-1", keystore.RoleAdmin, mats[1]))
	return store
}

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	issuer := NewIssuer(store, 2*time.Hour)
	verifier := NewVerifier(store)

	tests := []struct {
		name string
		id   string
		role keystore.Role
	}{
		{name: "renter", id: "u-1", role: keystore.RoleRenter},
		{name: "admin", id: "a-1", role: keystore.RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := issuer.Issue(ctx, tt.id, tt.role, "who@example.com")
			require.NoError(t, err)

			identity, err := verifier.Verify(ctx, "Bearer "+raw)
			require.NoError(t, err)
			assert.Equal(t, tt.role, identity.Role)
			assert.Equal(t, tt.id, identity.PrincipalID)
			assert.Equal(t, "who@example.com", identity.Claims.Email)
			assert.NotEmpty(t, identity.SessionKey)
			assert.NotEmpty(t, identity.PrivateKey)
			assert.NotEmpty(t, identity.PublicKey)
		})
	}
}

func TestVerifyHeaderShapes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	issuer := NewIssuer(store, time.Hour)
	verifier := NewVerifier(store)

	raw, err := issuer.Issue(ctx, "u-1", keystore.RoleRenter, "")
	require.NoError(t, err)

	t.Run("lowercase scheme accepted", func(t *testing.T) {
		_, err := verifier.Verify(ctx, "bearer "+raw)
		assert.NoError(t, err)
	})

	missing := []struct {
		name   string
		header string
	}{
		{name: "empty", header: ""},
		{name: "no scheme", header: raw},
		{name: "wrong scheme", header: "Basic " + raw},
		{name: "scheme only", header: "Bearer "},
	}
	for _, tt := range missing {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(ctx, tt.header)
			assert.ErrorIs(t, err, ErrMissingToken)
		})
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	verifier := NewVerifier(store)
	mats := testMaterials(t)

	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(mats[0].PrivateKey))
	require.NoError(t, err)

	signed := func(c *Claims) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, c).SignedString(priv)
		require.NoError(t, err)
		return raw
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "not a jwt", token: "garbage"},
		{name: "two segments", token: "aaaa.bbbb"},
		{name: "unknown role", token: signed(&Claims{Role: "superuser", UserID: "u-1"})},
		{name: "no role", token: signed(&Claims{UserID: "u-1"})},
		{name: "no principal id", token: signed(&Claims{Role: "renter"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(ctx, "Bearer "+tt.token)
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestVerifyUnknownPrincipal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	verifier := NewVerifier(store)
	mats := testMaterials(t)

	// A well-formed token naming a principal with no key material. The forger
	// controls the signing key, so the lookup must fail before any signature
	// check can be fooled.
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(mats[0].PrivateKey))
	require.NoError(t, err)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, newClaims("ghost", keystore.RoleRenter, "", time.Hour)).SignedString(priv)
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, "Bearer "+raw)
	assert.ErrorIs(t, err, keystore.ErrPrincipalNotFound)
}

func TestVerifyWrongKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	verifier := NewVerifier(store)
	mats := testMaterials(t)

	// Claims name u-1, but the signature comes from a-1's key.
	otherPriv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(mats[1].PrivateKey))
	require.NoError(t, err)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, newClaims("u-1", keystore.RoleRenter, "", time.Hour)).SignedString(otherPriv)
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, "Bearer "+raw)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsNonRSAAlgorithm(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	verifier := NewVerifier(store)

	// An HS256 token keyed on the public key must never pass, even though the
	// attacker knows the public key.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, newClaims("u-1", keystore.RoleRenter, "", time.Hour)).
		SignedString([]byte("whatever"))
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, "Bearer "+raw)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	verifier := NewVerifier(store)

	// An issuer with a negative lifetime stamps an exp already in the past.
	expired := NewIssuer(store, -time.Minute)
	raw, err := expired.Issue(ctx, "u-1", keystore.RoleRenter, "")
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, "Bearer "+raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestIssueUnknownPrincipal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	issuer := NewIssuer(store, time.Hour)

	_, err := issuer.Issue(ctx, "ghost", keystore.RoleRenter, "")
	assert.ErrorIs(t, err, keystore.ErrPrincipalNotFound)
}

func TestClaimsPrincipalID(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
		want   string
	}{
		{name: "renter", claims: Claims{Role: "renter", UserID: "u-1"}, want: "u-1"},
		{name: "lessor", claims: Claims{Role: "lessor", LessorID: "l-1"}, want: "l-1"},
		{name: "admin", claims: Claims{Role: "admin", AdminID: "a-1"}, want: "a-1"},
		{name: "developer", claims: Claims{Role: "developer", DeveloperID: "d-1"}, want: "d-1"},
		{name: "role and id disagree", claims: Claims{Role: "renter", AdminID: "a-1"}, want: "a-1"},
		{name: "empty", claims: Claims{}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.claims.PrincipalID())
		})
	}
}
