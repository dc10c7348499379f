package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sealed, err := Seal([]byte("evidence"), key)
	require.NoError(t, err)
	assert.Len(t, sealed, NonceSize+len("evidence")+16)

	plain, err := Open(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "evidence", string(plain))
}

func TestSealUsesFreshNonce(t *testing.T) {
	key, _ := GenerateKey()
	a, _ := Seal([]byte("same"), key)
	b, _ := Seal([]byte("same"), key)
	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestOpenFailsClosed(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()
	sealed, _ := Seal([]byte("evidence"), key)

	plain, err := Open(sealed, other)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, plain)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0x01
	plain, err = Open(tampered, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, plain)

	_, err = Open(sealed[:8], key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = Seal([]byte("x"), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestWrapUnwrap(t *testing.T) {
	deviceKey, _ := GenerateKey()

	rec, err := WrapKey(deviceKey, "123456", MinIterations, 42)
	require.NoError(t, err)
	assert.Equal(t, WrapAlgo, rec.Algo)
	assert.Equal(t, int64(42), rec.CreatedAtMs)

	unwrapped, err := UnwrapKey(rec, "123456")
	require.NoError(t, err)
	assert.Equal(t, deviceKey, unwrapped)

	_, err = UnwrapKey(rec, "000000")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestWrapRejectsWeakIterations(t *testing.T) {
	deviceKey, _ := GenerateKey()
	_, err := WrapKey(deviceKey, "123456", 1000, 0)
	assert.ErrorIs(t, err, ErrWeakIterations)
}

func TestUnwrapRejectsMalformedRecord(t *testing.T) {
	deviceKey, _ := GenerateKey()
	rec, _ := WrapKey(deviceKey, "123456", MinIterations, 0)

	bad := *rec
	bad.NonceB64 = "!!"
	_, err := UnwrapKey(&bad, "123456")
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = UnwrapKey(nil, "123456")
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
