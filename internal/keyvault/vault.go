// Package keyvault owns the device key: creating it, wrapping it under the
// guardian's PIN, recovery-code reset and unlock lockout.
package keyvault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/crypto"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/scheduler"
)

var (
	ErrCrypto           = errors.New("unlock failed")
	ErrKeyNotFound      = errors.New("no wrapped key present")
	ErrRecoveryMismatch = errors.New("recovery code does not match")
	ErrRecoveryNotSet   = errors.New("no recovery code configured")
	ErrLockedOut        = errors.New("too many failed attempts")
)

// LockoutError carries the wait before the next attempt is accepted.
type LockoutError struct {
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %s", e.Remaining.Round(time.Second))
}

func (e *LockoutError) Is(target error) bool {
	return target == ErrLockedOut
}

// Config tunes the KDF and lockout curve.
type Config struct {
	Iterations   int           `yaml:"iterations"`
	FreeAttempts int           `yaml:"free_attempts"`
	LockoutBase  time.Duration `yaml:"lockout_base"`
	LockoutMax   time.Duration `yaml:"lockout_max"`
}

func DefaultConfig() Config {
	return Config{
		Iterations:   210_000,
		FreeAttempts: 3,
		LockoutBase:  30 * time.Second,
		LockoutMax:   time.Hour,
	}
}

type Vault struct {
	mu     sync.Mutex
	store  Store
	sched  scheduler.Scheduler
	cfg    Config
	logger *zap.Logger
}

func New(store Store, sched scheduler.Scheduler, cfg Config, logger *zap.Logger) *Vault {
	def := DefaultConfig()
	if cfg.Iterations == 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.FreeAttempts <= 0 {
		cfg.FreeAttempts = def.FreeAttempts
	}
	if cfg.LockoutBase <= 0 {
		cfg.LockoutBase = def.LockoutBase
	}
	if cfg.LockoutMax <= 0 {
		cfg.LockoutMax = def.LockoutMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{store: store, sched: sched, cfg: cfg, logger: logger}
}

func (v *Vault) nowMs() int64 {
	return v.sched.Now().UnixMilli()
}

// GetOrCreateDeviceKey returns the persisted device key, generating one on
// first use.
func (v *Vault) GetOrCreateDeviceKey(ctx context.Context) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deviceKey(ctx)
}

func (v *Vault) deviceKey(ctx context.Context) ([]byte, error) {
	key, err := v.store.LoadDeviceKey(ctx)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load device key: %w", err)
	}

	key, err = crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}
	if err := v.store.SaveDeviceKey(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to persist device key: %w", err)
	}
	v.logger.Info("Device key created")
	return key, nil
}

// WrapWithPIN wraps key under pin and persists the record, replacing any
// previous one. iterations 0 uses the configured count.
func (v *Vault) WrapWithPIN(ctx context.Context, key []byte, pin string, iterations int) (*models.WrappedKeyRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wrap(ctx, key, pin, iterations)
}

func (v *Vault) wrap(ctx context.Context, key []byte, pin string, iterations int) (*models.WrappedKeyRecord, error) {
	if pin == "" {
		return nil, fmt.Errorf("%w: empty PIN", models.ErrValidation)
	}
	if iterations == 0 {
		iterations = v.cfg.Iterations
	}
	rec, err := crypto.WrapKey(key, pin, iterations, v.nowMs())
	if err != nil {
		if errors.Is(err, crypto.ErrWeakIterations) || errors.Is(err, crypto.ErrInvalidKeySize) {
			return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
		}
		return nil, err
	}
	if err := v.store.SaveWrapped(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist wrapped key: %w", err)
	}
	return rec, nil
}

// UnwrapWithPIN recovers the device key. A wrong PIN or tampered record
// returns ErrCrypto and counts toward lockout.
func (v *Vault) UnwrapWithPIN(ctx context.Context, pin string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.checkLockout(ctx); err != nil {
		return nil, err
	}
	rec, err := v.store.LoadWrapped(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wrapped key: %w", err)
	}

	key, err := crypto.UnwrapKey(rec, pin)
	if err != nil {
		v.recordFailure(ctx)
		v.logger.Warn("PIN unlock failed")
		return nil, ErrCrypto
	}
	v.resetAttempts(ctx)
	return key, nil
}

// Configured reports whether a PIN has been set.
func (v *Vault) Configured(ctx context.Context) (bool, error) {
	_, err := v.store.LoadWrapped(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetupRecovery generates a recovery code and stores only its salted hash.
// The code is returned once and never persisted.
func (v *Vault) SetupRecovery(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	code, err := GenerateRecoveryCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate recovery code: %w", err)
	}
	salt, err := crypto.RandomBytes(crypto.SaltSize)
	if err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	rec := &models.RecoveryRecord{
		SaltB64:     base64.StdEncoding.EncodeToString(salt),
		HashB64:     base64.StdEncoding.EncodeToString(HashRecovery(code, salt)),
		CreatedAtMs: v.nowMs(),
	}
	if err := v.store.SaveRecovery(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to persist recovery hash: %w", err)
	}
	return code, nil
}

// ResetWithRecovery verifies code and wraps the device key under newPIN.
// The new record replaces the old one, so the old PIN stops working.
func (v *Vault) ResetWithRecovery(ctx context.Context, code, newPIN string) (*models.WrappedKeyRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.checkLockout(ctx); err != nil {
		return nil, err
	}
	rec, err := v.store.LoadRecovery(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRecoveryNotSet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery hash: %w", err)
	}
	salt, errSalt := base64.StdEncoding.DecodeString(rec.SaltB64)
	hash, errHash := base64.StdEncoding.DecodeString(rec.HashB64)
	if errSalt != nil || errHash != nil || !VerifyRecovery(code, salt, hash) {
		v.recordFailure(ctx)
		v.logger.Warn("Recovery code rejected")
		return nil, ErrRecoveryMismatch
	}

	key, err := v.deviceKey(ctx)
	if err != nil {
		return nil, err
	}
	wrapped, err := v.wrap(ctx, key, newPIN, 0)
	if err != nil {
		return nil, err
	}
	v.resetAttempts(ctx)
	v.logger.Info("PIN reset with recovery code")
	return wrapped, nil
}

// Penalty is the lockout after count consecutive failures.
func (v *Vault) Penalty(count int) time.Duration {
	over := count - v.cfg.FreeAttempts
	if over <= 0 {
		return 0
	}
	d := v.cfg.LockoutBase
	for i := 0; i < over; i++ {
		d *= 2
		if d >= v.cfg.LockoutMax {
			return v.cfg.LockoutMax
		}
	}
	return d
}

// Lockout returns the remaining wait, zero when attempts are accepted.
func (v *Vault) Lockout(ctx context.Context) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.remaining(ctx)
}

func (v *Vault) remaining(ctx context.Context) time.Duration {
	st, err := v.store.LoadAttempts(ctx)
	if err != nil {
		v.logger.Error("Failed to load attempt state", zap.Error(err))
		return 0
	}
	penalty := v.Penalty(st.Count)
	if penalty == 0 {
		return 0
	}
	until := st.LastAttemptMs + penalty.Milliseconds()
	if left := until - v.nowMs(); left > 0 {
		return time.Duration(left) * time.Millisecond
	}
	return 0
}

func (v *Vault) checkLockout(ctx context.Context) error {
	if left := v.remaining(ctx); left > 0 {
		return &LockoutError{Remaining: left}
	}
	return nil
}

func (v *Vault) recordFailure(ctx context.Context) {
	st, err := v.store.LoadAttempts(ctx)
	if err != nil {
		v.logger.Error("Failed to load attempt state", zap.Error(err))
	}
	st.Count++
	st.LastAttemptMs = v.nowMs()
	if err := v.store.SaveAttempts(ctx, st); err != nil {
		v.logger.Error("Failed to record failed attempt", zap.Error(err))
	}
}

func (v *Vault) resetAttempts(ctx context.Context) {
	if err := v.store.SaveAttempts(ctx, models.AttemptState{}); err != nil {
		v.logger.Error("Failed to reset attempt state", zap.Error(err))
	}
}
