package keyvault

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

// RecoveryAlphabet leaves out 0/O, 1/I and similar look-alikes.
const RecoveryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	recoveryLength = 16
	recoveryGroup  = 4

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// GenerateRecoveryCode returns a code like ABCD-EFGH-JKLM-NPQR.
func GenerateRecoveryCode() (string, error) {
	size := big.NewInt(int64(len(RecoveryAlphabet)))
	raw := make([]byte, recoveryLength)
	for i := range raw {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		raw[i] = RecoveryAlphabet[n.Int64()]
	}
	return group(string(raw)), nil
}

// NormalizeRecovery strips everything but letters and digits, uppercases and
// regroups, so "abcd efgh-jklm_npqr" and "ABCD-EFGH-JKLM-NPQR" hash alike.
func NormalizeRecovery(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return group(b.String())
}

func group(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && i%recoveryGroup == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashRecovery hashes the normalized code with argon2id.
func HashRecovery(code string, salt []byte) []byte {
	return argon2.IDKey([]byte(NormalizeRecovery(code)), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyRecovery compares input against a stored salted hash in constant time.
func VerifyRecovery(input string, salt, hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(HashRecovery(input, salt), hash) == 1
}
