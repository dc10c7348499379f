package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AlertRecord is a parent alert plus whether any sink delivered it.
type AlertRecord struct {
	models.ParentAlert
	Delivered bool `json:"delivered" db:"delivered"`
}

type alertRow struct {
	AlertRecord
	ReasonsJSON string `db:"reasons"`
}

type AlertRepository interface {
	Save(ctx context.Context, alert models.ParentAlert, delivered bool) error
	List(ctx context.Context, limit int) ([]AlertRecord, error)
}

type alertRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewAlertRepository(db *sqlx.DB, logger *zap.Logger) AlertRepository {
	return &alertRepository{db: db, logger: logger}
}

func (r *alertRepository) Save(ctx context.Context, alert models.ParentAlert, delivered bool) error {
	reasons, err := json.MarshalToString(alert.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}
	query := r.db.Rebind(`INSERT INTO parent_alerts (id, created_at_ms, severity, headline, evidence_id, label, reasons, sender_id, delivered)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (id) DO UPDATE SET delivered = excluded.delivered`)
	_, err = r.db.ExecContext(ctx, query, alert.ID, alert.CreatedAtMs, int(alert.Severity), alert.Headline,
		alert.EvidenceID, alert.Label, reasons, alert.SenderID, delivered)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// List returns the newest alerts first.
func (r *alertRepository) List(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []alertRow
	query := r.db.Rebind(`SELECT id, created_at_ms, severity, headline, evidence_id, label, reasons, sender_id, delivered
	          FROM parent_alerts ORDER BY created_at_ms DESC, id LIMIT ?`)
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	out := make([]AlertRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.AlertRecord
		if err := json.UnmarshalFromString(row.ReasonsJSON, &rec.Reasons); err != nil {
			r.logger.Warn("Alert has unreadable reasons", zap.String("id", rec.ID), zap.Error(err))
		}
		out = append(out, rec)
	}
	return out, nil
}
