package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedCiphertext indicates an encrypted field that does not have
	// the iv:ciphertext wire shape or contains invalid Base64.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	// ErrDecryptionFailed indicates a well-formed field that could not be
	// decrypted, typically because the key is wrong or the data is corrupt.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// SessionKeyBytes is the decoded length of a principal's symmetric session key.
const SessionKeyBytes = 32

// EncryptField encrypts a single field value with AES-256-CBC under the given
// hex-encoded 32-byte session key. A fresh random 16-byte IV is generated per
// call; the result has the form base64(iv) + ":" + base64(ciphertext), which
// is the shape persisted in every encrypted column.
//
// CBC provides no integrity: a tampered ciphertext decrypts to garbage rather
// than failing. Tampering is caught by the signature layer, not here.
func EncryptField(plaintext string, keyHex string) (string, error) {
	key, err := decodeSessionKey(keyHex)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptField reverses EncryptField. It returns ErrMalformedCiphertext when
// the field does not parse as iv:ciphertext, and ErrDecryptionFailed when the
// key is invalid or the ciphertext and IV do not correspond.
func DecryptField(field string, keyHex string) (string, error) {
	ivPart, ctPart, found := strings.Cut(field, ":")
	if !found {
		return "", fmt.Errorf("%w: missing separator", ErrMalformedCiphertext)
	}

	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil {
		return "", fmt.Errorf("%w: invalid IV encoding", ErrMalformedCiphertext)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrMalformedCiphertext)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: IV must be %d bytes, got %d", ErrMalformedCiphertext, aes.BlockSize, len(iv))
	}

	key, err := decodeSessionKey(keyHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrDecryptionFailed, len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(unpadded), nil
}

func decodeSessionKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("session key is not valid hex: %w", err)
	}
	if len(key) != SessionKeyBytes {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", SessionKeyBytes, len(key))
	}
	return key, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
