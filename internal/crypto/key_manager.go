package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

const (
	WrapVersion = 1
	WrapAlgo    = "AES-GCM"
	SaltSize    = 16

	// MinIterations is the floor for the PIN-derived parent key.
	MinIterations = 100_000
)

var (
	ErrWeakIterations = errors.New("iteration count below minimum")
	ErrInvalidRecord  = errors.New("invalid wrapped key record")
)

// DeriveParentKey stretches a PIN into an AES-256 key with PBKDF2-HMAC-SHA256.
func DeriveParentKey(pin string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(pin), salt, iterations, KeySize, sha256.New)
}

// WrapKey encrypts deviceKey under a key derived from pin with a fresh salt.
func WrapKey(deviceKey []byte, pin string, iterations int, nowMs int64) (*models.WrappedKeyRecord, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: %d < %d", ErrWeakIterations, iterations, MinIterations)
	}
	if len(deviceKey) != KeySize {
		return nil, ErrInvalidKeySize
	}

	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	sealed, err := Seal(deviceKey, DeriveParentKey(pin, salt, iterations))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap device key: %w", err)
	}

	return &models.WrappedKeyRecord{
		Version:     WrapVersion,
		Algo:        WrapAlgo,
		SaltB64:     base64.StdEncoding.EncodeToString(salt),
		Iterations:  iterations,
		NonceB64:    base64.StdEncoding.EncodeToString(sealed[:NonceSize]),
		WrappedB64:  base64.StdEncoding.EncodeToString(sealed[NonceSize:]),
		CreatedAtMs: nowMs,
	}, nil
}

// UnwrapKey re-derives the parent key from the record and decrypts the device
// key. A wrong PIN and a tampered record both return ErrDecryptionFailed.
func UnwrapKey(rec *models.WrappedKeyRecord, pin string) ([]byte, error) {
	if rec == nil || rec.Algo != WrapAlgo || rec.Iterations <= 0 {
		return nil, ErrInvalidRecord
	}
	salt, err := base64.StdEncoding.DecodeString(rec.SaltB64)
	if err != nil {
		return nil, ErrInvalidRecord
	}
	nonce, err := base64.StdEncoding.DecodeString(rec.NonceB64)
	if err != nil || len(nonce) != NonceSize {
		return nil, ErrInvalidRecord
	}
	wrapped, err := base64.StdEncoding.DecodeString(rec.WrappedB64)
	if err != nil {
		return nil, ErrInvalidRecord
	}

	sealed := make([]byte, 0, len(nonce)+len(wrapped))
	sealed = append(append(sealed, nonce...), wrapped...)
	key, err := Open(sealed, DeriveParentKey(pin, salt, rec.Iterations))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return key, nil
}
