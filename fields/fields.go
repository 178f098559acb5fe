// Package fields composes the envelope and signature codecs into the unit
// the route layer actually stores: an encrypted value plus the signature
// that attests it. The two are always written together; a ciphertext whose
// signature was not refreshed on update is treated as tampered.
package fields

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/parkify/parkify/crypto"
)

var (
	// ErrSignatureMismatch indicates a field whose signature does not verify
	// against its stored ciphertext.
	ErrSignatureMismatch = errors.New("field signature mismatch")
	// ErrDataIntegrity indicates a nonempty record set in which every record
	// failed verification or decryption. Distinguishes "all data corrupted"
	// from "no data".
	ErrDataIntegrity = errors.New("all records failed verification or decryption")
)

// Value is one sealed field: the iv:ciphertext envelope and the Base64
// RSA signature computed over that ciphertext string. The signature covers
// the stored representation, not the plaintext.
type Value struct {
	Cipher    string `json:"cipher"`
	Signature string `json:"signature"`
}

// Seal encrypts plaintext under the owner's session key and signs the
// resulting ciphertext with the owner's private key.
func Seal(plaintext, sessionKeyHex, privateKeyPEM string) (Value, error) {
	cipher, err := crypto.EncryptField(plaintext, sessionKeyHex)
	if err != nil {
		return Value{}, err
	}
	sig, err := crypto.Sign(cipher, privateKeyPEM)
	if err != nil {
		return Value{}, err
	}
	return Value{Cipher: cipher, Signature: sig}, nil
}

// Open verifies the signature over the stored ciphertext and then decrypts.
// Verification comes first: an unsigned or re-signed-elsewhere ciphertext is
// rejected before any decryption is attempted.
func Open(v Value, sessionKeyHex, publicKeyPEM string) (string, error) {
	ok, err := crypto.Verify(v.Cipher, v.Signature, publicKeyPEM)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrSignatureMismatch
	}
	return crypto.DecryptField(v.Cipher, sessionKeyHex)
}

// Record is one stored row's sealed fields, keyed by column name.
type Record struct {
	ID     string
	Values map[string]Value
}

// OpenedRecord is a Record with every field verified and decrypted.
type OpenedRecord struct {
	ID     string
	Fields map[string]string
}

// OpenRecords opens a collection read. A record with any field that fails
// verification or decryption is skipped and logged rather than failing the
// whole response, since corrupted rows may coexist with valid ones. If every
// record of a nonempty input fails, it returns ErrDataIntegrity so operators
// can tell a wiped-out data set apart from an empty one.
func OpenRecords(log zerolog.Logger, records []Record, sessionKeyHex, publicKeyPEM string) ([]OpenedRecord, error) {
	opened := make([]OpenedRecord, 0, len(records))

	for _, rec := range records {
		out := OpenedRecord{ID: rec.ID, Fields: make(map[string]string, len(rec.Values))}
		failed := false
		for name, v := range rec.Values {
			plaintext, err := Open(v, sessionKeyHex, publicKeyPEM)
			if err != nil {
				log.Warn().
					Str("record_id", rec.ID).
					Str("field", name).
					Err(err).
					Msg("skipping record with unopenable field")
				failed = true
				break
			}
			out.Fields[name] = plaintext
		}
		if failed {
			continue
		}
		opened = append(opened, out)
	}

	if len(records) > 0 && len(opened) == 0 {
		return nil, fmt.Errorf("%w: %d records", ErrDataIntegrity, len(records))
	}
	return opened, nil
}
