package fields

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkify/parkify/crypto"
	"github.com/parkify/parkify/keystore"
)

var (
	materialOnce sync.Once
	materials    [2]keystore.KeyMaterial
	materialErr  error
)

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

func TestSealOpen(t *testing.T) {
	mat := testMaterials(t)[0]

	v, err := Seal("2025-06-01T09:30:00Z", mat.SessionKey, mat.PrivateKey)
	require.NoError(t, err)
	assert.Contains(t, v.Cipher, ":")
	assert.NotContains(t, v.Cipher, "2025-06-01")

	got, err := Open(v, mat.SessionKey, mat.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01T09:30:00Z", got)
}

func TestOpenTamperedCipher(t *testing.T) {
	mat := testMaterials(t)[0]

	v, err := Seal("1250.50", mat.SessionKey, mat.PrivateKey)
	require.NoError(t, err)

	// Replacing the ciphertext with another validly encrypted value breaks
	// the signature even though decryption alone would succeed.
	replacement, err := crypto.EncryptField("9999.99", mat.SessionKey)
	require.NoError(t, err)
	v.Cipher = replacement

	_, err = Open(v, mat.SessionKey, mat.PublicKey)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestOpenForeignSignature(t *testing.T) {
	mats := testMaterials(t)
	mine, theirs := mats[0], mats[1]

	// A field sealed by another principal does not verify under my key.
	v, err := Seal("value", mine.SessionKey, theirs.PrivateKey)
	require.NoError(t, err)

	_, err = Open(v, mine.SessionKey, mine.PublicKey)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestOpenMalformedInputs(t *testing.T) {
	mat := testMaterials(t)[0]

	v, err := Seal("value", mat.SessionKey, mat.PrivateKey)
	require.NoError(t, err)

	t.Run("bad signature encoding", func(t *testing.T) {
		bad := v
		bad.Signature = "not base64!!!"
		_, err := Open(bad, mat.SessionKey, mat.PublicKey)
		assert.ErrorIs(t, err, crypto.ErrMalformedSignature)
	})

	t.Run("bad public key", func(t *testing.T) {
		_, err := Open(v, mat.SessionKey, "not a key")
		assert.ErrorIs(t, err, crypto.ErrMalformedKey)
	})
}

func sealedRecord(t *testing.T, id string, mat keystore.KeyMaterial, fields map[string]string) Record {
	t.Helper()
	rec := Record{ID: id, Values: make(map[string]Value, len(fields))}
	for name, plaintext := range fields {
		v, err := Seal(plaintext, mat.SessionKey, mat.PrivateKey)
		require.NoError(t, err)
		rec.Values[name] = v
	}
	return rec
}

func TestOpenRecords(t *testing.T) {
	mat := testMaterials(t)[0]
	log := zerolog.Nop()

	var records []Record
	for i := 0; i < 3; i++ {
		records = append(records, sealedRecord(t, fmt.Sprintf("r-%d", i), mat, map[string]string{
			"start_time": "2025-06-01T09:00:00Z",
			"end_time":   "2025-06-01T17:00:00Z",
		}))
	}

	opened, err := OpenRecords(log, records, mat.SessionKey, mat.PublicKey)
	require.NoError(t, err)
	require.Len(t, opened, 3)
	for i, rec := range opened {
		assert.Equal(t, fmt.Sprintf("r-%d", i), rec.ID)
		assert.Equal(t, "2025-06-01T09:00:00Z", rec.Fields["start_time"])
		assert.Equal(t, "2025-06-01T17:00:00Z", rec.Fields["end_time"])
	}
}

func TestOpenRecordsSkipsCorrupted(t *testing.T) {
	mat := testMaterials(t)[0]
	log := zerolog.Nop()

	records := []Record{
		sealedRecord(t, "good-1", mat, map[string]string{"price": "100"}),
		sealedRecord(t, "bad", mat, map[string]string{"price": "200"}),
		sealedRecord(t, "good-2", mat, map[string]string{"price": "300"}),
	}
	// Corrupt the middle record's signature.
	v := records[1].Values["price"]
	v.Signature = "QUJDREVG"
	records[1].Values["price"] = v

	opened, err := OpenRecords(log, records, mat.SessionKey, mat.PublicKey)
	require.NoError(t, err)
	require.Len(t, opened, 2)
	assert.Equal(t, "good-1", opened[0].ID)
	assert.Equal(t, "good-2", opened[1].ID)
}

func TestOpenRecordsAllCorrupted(t *testing.T) {
	mats := testMaterials(t)
	mine, theirs := mats[0], mats[1]
	log := zerolog.Nop()

	// Every record signed by the wrong key: a nonempty set yielding nothing
	// is a data-integrity failure, not an empty result.
	records := []Record{
		sealedRecord(t, "r-0", keystore.KeyMaterial{SessionKey: mine.SessionKey, PrivateKey: theirs.PrivateKey}, map[string]string{"price": "100"}),
		sealedRecord(t, "r-1", keystore.KeyMaterial{SessionKey: mine.SessionKey, PrivateKey: theirs.PrivateKey}, map[string]string{"price": "200"}),
	}

	_, err := OpenRecords(log, records, mine.SessionKey, mine.PublicKey)
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestOpenRecordsEmpty(t *testing.T) {
	mat := testMaterials(t)[0]

	opened, err := OpenRecords(zerolog.Nop(), nil, mat.SessionKey, mat.PublicKey)
	require.NoError(t, err)
	assert.Empty(t, opened)
}
