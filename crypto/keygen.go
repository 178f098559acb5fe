package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// KeyPairBits is the RSA modulus size for principal key pairs.
const KeyPairBits = 2048

// GenerateKeyPair generates a 2048-bit RSA key pair and returns both halves
// as PKCS#1 PEM. Keygen is the slowest operation in the package; callers
// should not assume sub-millisecond latency.
func GenerateKeyPair() (privateKeyPEM string, publicKeyPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyPairBits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate RSA key pair: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	return string(privPEM), string(pubPEM), nil
}

// NewSessionKey generates a fresh 32-byte symmetric session key and returns
// it hex-encoded, the form EncryptField and DecryptField consume.
func NewSessionKey() (string, error) {
	key := make([]byte, SessionKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate session key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
