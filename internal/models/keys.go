package models

// WrappedKeyRecord is the device key encrypted under a PIN-derived parent key.
// One per device; a PIN reset replaces it wholesale.
type WrappedKeyRecord struct {
	Version     int    `json:"version" db:"version"`
	Algo        string `json:"algo" db:"algo"`
	SaltB64     string `json:"saltB64" db:"salt_b64"`
	Iterations  int    `json:"iterations" db:"iterations"`
	NonceB64    string `json:"nonceB64" db:"nonce_b64"`
	WrappedB64  string `json:"wrappedB64" db:"wrapped_b64"`
	CreatedAtMs int64  `json:"createdAt" db:"created_at_ms"`
}

// RecoveryRecord holds the salted hash of the guardian's recovery code.
// The code itself is never persisted.
type RecoveryRecord struct {
	SaltB64     string `json:"saltB64" db:"salt_b64"`
	HashB64     string `json:"hashB64" db:"hash_b64"`
	CreatedAtMs int64  `json:"createdAt" db:"created_at_ms"`
}

// AttemptState governs unlock lockout.
type AttemptState struct {
	Count         int   `json:"count" db:"count"`
	LastAttemptMs int64 `json:"lastAttemptMs" db:"last_attempt_ms"`
}
