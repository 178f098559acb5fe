package token

import (
	"context"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/parkify/parkify/crypto"
	"github.com/parkify/parkify/keystore"
)

// Issuer mints bearer tokens at login.
type Issuer struct {
	store keystore.Store
	ttl   time.Duration
}

// NewIssuer returns an Issuer minting tokens with the given lifetime.
func NewIssuer(store keystore.Store, ttl time.Duration) *Issuer {
	return &Issuer{store: store, ttl: ttl}
}

// Issue signs a claims set for the principal with that principal's own
// private key, loaded from the key store. A principal whose registration
// never completed has no key material and gets
// keystore.ErrPrincipalNotFound.
func (i *Issuer) Issue(ctx context.Context, principalID string, role keystore.Role, email string) (string, error) {
	material, err := i.store.Lookup(ctx, principalID, role)
	if err != nil {
		return "", err
	}

	priv, err := crypto.ParsePrivateKey(material.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("stored private key for %s %s is unusable: %w", role, principalID, err)
	}

	claims := newClaims(principalID, role, email, i.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
