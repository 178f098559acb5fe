// Package keystore manages per-principal key material: one RSA key pair and
// one symmetric session key per renter, lessor, admin, or developer. The
// public key is stored in clear; the private key and session key are only
// ever persisted wrapped under the server's master and session secrets.
// Key material is immutable after issuance — there is no rotation operation,
// and deleting a principal's row is the only way to invalidate tokens signed
// with their key.
package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/parkify/parkify/crypto"
)

var (
	// ErrPrincipalNotFound indicates no key material exists for the
	// (principal, role) pair.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrAlreadyIssued indicates key material was already issued for the
	// principal. Issuance is at-most-once; re-issuance never overwrites.
	ErrAlreadyIssued = errors.New("key material already issued")
	// ErrUnknownRole indicates a role tag outside the known set.
	ErrUnknownRole = errors.New("unknown role")
)

// Role tags a principal and selects which storage partition holds their keys.
type Role string

const (
	RoleRenter    Role = "renter"
	RoleLessor    Role = "lessor"
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
)

// ParseRole validates a role tag taken from an untrusted source such as an
// unverified token body.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRenter, RoleLessor, RoleAdmin, RoleDeveloper:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// IDClaim returns the token claim that carries this role's principal id.
func (r Role) IDClaim() string {
	switch r {
	case RoleRenter:
		return "user_id"
	case RoleLessor:
		return "lessor_id"
	case RoleAdmin:
		return "admin_id"
	case RoleDeveloper:
		return "developer_id"
	}
	return ""
}

// keyTable returns the storage partition and id column for the role. Each
// role has its own table so that one partition reveals nothing about the
// others' storage location.
func (r Role) keyTable() (table string, idColumn string) {
	switch r {
	case RoleRenter:
		return "user_keys", "user_id"
	case RoleLessor:
		return "lessor_keys", "lessor_id"
	case RoleAdmin:
		return "admin_keys", "admin_id"
	case RoleDeveloper:
		return "developer_keys", "developer_id"
	}
	return "", ""
}

// KeyMaterial is a principal's full key set, in clear. It exists only in
// process memory; the persisted representation is produced by Wrapper.
type KeyMaterial struct {
	PublicKey  string // PKCS#1 PEM
	PrivateKey string // PKCS#1 PEM
	SessionKey string // 32 bytes, hex-encoded
}

// Generate produces fresh key material for a new principal: a 2048-bit RSA
// pair and a random session key.
func Generate() (KeyMaterial, error) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return KeyMaterial{}, err
	}
	sessionKey, err := crypto.NewSessionKey()
	if err != nil {
		return KeyMaterial{}, err
	}
	return KeyMaterial{PublicKey: pub, PrivateKey: priv, SessionKey: sessionKey}, nil
}

// Store persists key material per (principal, role).
type Store interface {
	// Issue stores material for a principal that has none. It returns
	// ErrAlreadyIssued if material already exists; it never overwrites.
	Issue(ctx context.Context, principalID string, role Role, material KeyMaterial) error

	// Lookup returns the principal's key material with the wrapped halves
	// decrypted. It returns ErrPrincipalNotFound if no row exists.
	Lookup(ctx context.Context, principalID string, role Role) (*KeyMaterial, error)

	// Delete removes the principal's key material. This is the operator-level
	// revocation path: tokens signed with the deleted key stop verifying.
	Delete(ctx context.Context, principalID string, role Role) error
}
