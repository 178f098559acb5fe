package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Wrap secrets must decode to exactly this many bytes (64 hex characters).
const wrapSecretBytes = 32

const (
	wrapSaltBytes  = 16
	wrapIterations = 10000
)

var errWrapOpen = errors.New("failed to unwrap value")

// Wrapper encrypts key material at rest. Private keys are wrapped under the
// master secret, session keys under the session secret; both secrets are
// fixed server-side configuration validated at startup. The stored form is
// base64(salt || nonce || AES-256-GCM ciphertext) with a PBKDF2-SHA256 key
// derived per value.
type Wrapper struct {
	masterSecret  []byte
	sessionSecret []byte
}

// NewWrapper validates both wrap secrets (64 hex characters each) and
// returns a Wrapper. Callers treat a validation error as fatal at startup.
func NewWrapper(masterSecretHex, sessionSecretHex string) (*Wrapper, error) {
	master, err := decodeWrapSecret("master", masterSecretHex)
	if err != nil {
		return nil, err
	}
	session, err := decodeWrapSecret("session", sessionSecretHex)
	if err != nil {
		return nil, err
	}
	return &Wrapper{masterSecret: master, sessionSecret: session}, nil
}

func decodeWrapSecret(name, secretHex string) ([]byte, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%s wrap secret is not valid hex", name)
	}
	if len(secret) != wrapSecretBytes {
		return nil, fmt.Errorf("%s wrap secret must be %d hex characters, got %d", name, wrapSecretBytes*2, len(secretHex))
	}
	return secret, nil
}

// WrapPrivateKey encrypts a PEM private key under the master secret.
func (w *Wrapper) WrapPrivateKey(privateKeyPEM string) (string, error) {
	return seal(w.masterSecret, []byte(privateKeyPEM))
}

// UnwrapPrivateKey reverses WrapPrivateKey.
func (w *Wrapper) UnwrapPrivateKey(wrapped string) (string, error) {
	out, err := open(w.masterSecret, wrapped)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// WrapSessionKey encrypts a hex session key under the session secret.
func (w *Wrapper) WrapSessionKey(sessionKeyHex string) (string, error) {
	return seal(w.sessionSecret, []byte(sessionKeyHex))
}

// UnwrapSessionKey reverses WrapSessionKey.
func (w *Wrapper) UnwrapSessionKey(wrapped string) (string, error) {
	out, err := open(w.sessionSecret, wrapped)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// WrapCredential encrypts a login credential (password at rest) under the
// master secret. Credentials predate the principal's own key material, so
// they cannot use the per-principal session key.
func (w *Wrapper) WrapCredential(credential string) (string, error) {
	return seal(w.masterSecret, []byte(credential))
}

// UnwrapCredential reverses WrapCredential.
func (w *Wrapper) UnwrapCredential(wrapped string) (string, error) {
	out, err := open(w.masterSecret, wrapped)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func seal(secret, plaintext []byte) (string, error) {
	salt := make([]byte, wrapSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate wrap salt: %w", err)
	}

	gcm, err := wrapAEAD(secret, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate wrap nonce: %w", err)
	}

	blob := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(blob), nil
}

func open(secret []byte, wrapped string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", errWrapOpen)
	}
	if len(blob) < wrapSaltBytes {
		return nil, fmt.Errorf("%w: truncated", errWrapOpen)
	}

	salt, rest := blob[:wrapSaltBytes], blob[wrapSaltBytes:]
	gcm, err := wrapAEAD(secret, salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: truncated", errWrapOpen)
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errWrapOpen, err)
	}
	return plaintext, nil
}

func wrapAEAD(secret, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(secret, salt, wrapIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create wrap cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
