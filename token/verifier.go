package token

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/parkify/parkify/crypto"
	"github.com/parkify/parkify/keystore"
)

// Identity is the verifier's output on success: the verified claims plus the
// principal's decrypted key material, which callers use for field-level
// decrypt/verify on reads and encrypt/sign on writes.
type Identity struct {
	Role        keystore.Role
	PrincipalID string
	SessionKey  string
	PrivateKey  string
	PublicKey   string
	Claims      *Claims
}

// Verifier authenticates bearer tokens. Verification proceeds in stages:
// extract the token, decode its body without verifying to learn which
// principal it claims to be, load that principal's keys from the store, and
// only then check the signature — against the loaded public key, never one
// named by the token itself. Every call runs the full sequence; there is no
// cache.
type Verifier struct {
	store keystore.Store
}

// NewVerifier returns a Verifier backed by the given key store.
func NewVerifier(store keystore.Store) *Verifier {
	return &Verifier{store: store}
}

// Verify authenticates the Authorization header value of a request.
//
// Failures map to the error taxonomy: ErrMissingToken, ErrMalformedToken,
// keystore.ErrPrincipalNotFound (the usual fate of a forged token naming a
// nonexistent principal), ErrInvalidSignature, ErrTokenExpired. All are
// recoverable at the request boundary.
func (v *Verifier) Verify(ctx context.Context, authorization string) (*Identity, error) {
	raw, err := bearerToken(authorization)
	if err != nil {
		return nil, err
	}

	// Stage 1: read role and principal id from the unverified body.
	unverified := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	role, err := keystore.ParseRole(unverified.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	principalID := unverified.PrincipalID()
	if principalID == "" {
		return nil, fmt.Errorf("%w: no principal id claim", ErrMalformedToken)
	}

	// Stage 2: load the claimed principal's keys.
	material, err := v.store.Lookup(ctx, principalID, role)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.ParsePublicKey(material.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("stored public key for %s %s is unusable: %w", role, principalID, err)
	}

	// Stage 3: verify signature and expiry with the loaded key only.
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}

	return &Identity{
		Role:        role,
		PrincipalID: principalID,
		SessionKey:  material.SessionKey,
		PrivateKey:  material.PrivateKey,
		PublicKey:   material.PublicKey,
		Claims:      claims,
	}, nil
}

func bearerToken(authorization string) (string, error) {
	if authorization == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
