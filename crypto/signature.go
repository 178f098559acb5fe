package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	// ErrMalformedKey indicates a PEM block that could not be parsed as an RSA key.
	ErrMalformedKey = errors.New("malformed key")
	// ErrMalformedSignature indicates a signature that is not valid Base64.
	ErrMalformedSignature = errors.New("malformed signature")
)

// Sign computes an RSA-SHA256 signature over the UTF-8 bytes of data exactly
// as given and returns it Base64-encoded. When attesting an encrypted field,
// callers pass the stored iv:ciphertext string, never the plaintext.
func Sign(data string, privateKeyPEM string) (string, error) {
	priv, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(data))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, stdcrypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a Base64 RSA-SHA256 signature against data. A signature that
// simply does not match yields (false, nil); an error is returned only for
// inputs that cannot be interpreted at all.
func Verify(data string, signatureBase64 string, publicKeyPEM string) (bool, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false, err
	}

	sig, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	digest := sha256.Sum256([]byte(data))
	if err := rsa.VerifyPKCS1v15(pub, stdcrypto.SHA256, digest[:], sig); err != nil {
		return false, nil
	}
	return true, nil
}

// ParsePrivateKey parses a PEM-encoded RSA private key in either PKCS#1 or
// PKCS#8 form.
func ParsePrivateKey(privateKeyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", ErrMalformedKey)
	}
	return key, nil
}

// ParsePublicKey parses a PEM-encoded RSA public key in either PKCS#1 or
// PKIX form.
func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrMalformedKey)
	}
	return key, nil
}
