package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/cooldown"
)

type cooldownRepository struct {
	db *sqlx.DB
}

// NewCooldownRepository keeps cooldown stamps across restarts.
func NewCooldownRepository(db *sqlx.DB) cooldown.Store {
	return &cooldownRepository{db: db}
}

func (r *cooldownRepository) Get(ctx context.Context, key string) (int64, error) {
	var ts int64
	err := r.db.GetContext(ctx, &ts, r.db.Rebind(`SELECT ts_ms FROM cooldown_stamps WHERE stamp_key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, cooldown.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cooldown stamp: %w", err)
	}
	return ts, nil
}

func (r *cooldownRepository) Set(ctx context.Context, key string, tsMs int64) error {
	query := r.db.Rebind(`INSERT INTO cooldown_stamps (stamp_key, ts_ms) VALUES (?, ?)
	          ON CONFLICT (stamp_key) DO UPDATE SET ts_ms = excluded.ts_ms`)
	if _, err := r.db.ExecContext(ctx, query, key, tsMs); err != nil {
		return fmt.Errorf("failed to set cooldown stamp: %w", err)
	}
	return nil
}
