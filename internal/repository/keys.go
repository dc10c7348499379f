package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/keyvault"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

// keyRepository persists the key vault's single-row tables.
type keyRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewKeyRepository(db *sqlx.DB, logger *zap.Logger) keyvault.Store {
	return &keyRepository{db: db, logger: logger}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return keyvault.ErrNotFound
	}
	return err
}

func (r *keyRepository) LoadDeviceKey(ctx context.Context) ([]byte, error) {
	var key []byte
	if err := r.db.GetContext(ctx, &key, `SELECT key_bytes FROM device_key WHERE id = 1`); err != nil {
		return nil, notFound(err)
	}
	return key, nil
}

func (r *keyRepository) SaveDeviceKey(ctx context.Context, key []byte) error {
	query := r.db.Rebind(`INSERT INTO device_key (id, key_bytes) VALUES (1, ?)
	          ON CONFLICT (id) DO UPDATE SET key_bytes = excluded.key_bytes`)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to save device key: %w", err)
	}
	return nil
}

func (r *keyRepository) LoadWrapped(ctx context.Context) (*models.WrappedKeyRecord, error) {
	var rec models.WrappedKeyRecord
	query := `SELECT version, algo, salt_b64, iterations, nonce_b64, wrapped_b64, created_at_ms FROM wrapped_key WHERE id = 1`
	if err := r.db.GetContext(ctx, &rec, query); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// SaveWrapped replaces the record wholesale; the previous PIN stops working.
func (r *keyRepository) SaveWrapped(ctx context.Context, rec *models.WrappedKeyRecord) error {
	query := r.db.Rebind(`INSERT INTO wrapped_key (id, version, algo, salt_b64, iterations, nonce_b64, wrapped_b64, created_at_ms)
	          VALUES (1, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (id) DO UPDATE SET version = excluded.version, algo = excluded.algo,
	          salt_b64 = excluded.salt_b64, iterations = excluded.iterations, nonce_b64 = excluded.nonce_b64,
	          wrapped_b64 = excluded.wrapped_b64, created_at_ms = excluded.created_at_ms`)
	_, err := r.db.ExecContext(ctx, query, rec.Version, rec.Algo, rec.SaltB64, rec.Iterations, rec.NonceB64, rec.WrappedB64, rec.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("failed to save wrapped key: %w", err)
	}
	r.logger.Info("Wrapped key record replaced", zap.Int64("created_at_ms", rec.CreatedAtMs))
	return nil
}

func (r *keyRepository) LoadRecovery(ctx context.Context) (*models.RecoveryRecord, error) {
	var rec models.RecoveryRecord
	if err := r.db.GetContext(ctx, &rec, `SELECT salt_b64, hash_b64, created_at_ms FROM recovery WHERE id = 1`); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *keyRepository) SaveRecovery(ctx context.Context, rec *models.RecoveryRecord) error {
	query := r.db.Rebind(`INSERT INTO recovery (id, salt_b64, hash_b64, created_at_ms) VALUES (1, ?, ?, ?)
	          ON CONFLICT (id) DO UPDATE SET salt_b64 = excluded.salt_b64, hash_b64 = excluded.hash_b64,
	          created_at_ms = excluded.created_at_ms`)
	if _, err := r.db.ExecContext(ctx, query, rec.SaltB64, rec.HashB64, rec.CreatedAtMs); err != nil {
		return fmt.Errorf("failed to save recovery hash: %w", err)
	}
	return nil
}

func (r *keyRepository) LoadAttempts(ctx context.Context) (models.AttemptState, error) {
	var st models.AttemptState
	err := r.db.GetContext(ctx, &st, `SELECT count, last_attempt_ms FROM unlock_attempts WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AttemptState{}, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to load attempts: %w", err)
	}
	return st, nil
}

func (r *keyRepository) SaveAttempts(ctx context.Context, st models.AttemptState) error {
	query := r.db.Rebind(`INSERT INTO unlock_attempts (id, count, last_attempt_ms) VALUES (1, ?, ?)
	          ON CONFLICT (id) DO UPDATE SET count = excluded.count, last_attempt_ms = excluded.last_attempt_ms`)
	if _, err := r.db.ExecContext(ctx, query, st.Count, st.LastAttemptMs); err != nil {
		return fmt.Errorf("failed to save attempts: %w", err)
	}
	return nil
}
