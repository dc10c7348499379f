package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

// ErrIntegrity means the stored sealed bytes no longer match their digest.
var ErrIntegrity = errors.New("evidence digest mismatch")

// EvidenceSummary is a stored packet without its sealed bytes.
type EvidenceSummary struct {
	ID          string          `json:"id" db:"id"`
	CreatedAtMs int64           `json:"createdAt" db:"created_at_ms"`
	Severity    models.Severity `json:"severity" db:"severity"`
	Reason      string          `json:"reason" db:"reason"`
	Count       int             `json:"interactionCount" db:"interaction_count"`
	Digest      string          `json:"digest" db:"digest"`
}

type evidenceRow struct {
	EvidenceSummary
	Sealed []byte `db:"sealed"`
}

type EvidenceRepository interface {
	Put(ctx context.Context, packet *models.EvidencePacket) error
	Get(ctx context.Context, id string) (*models.EvidencePacket, error)
	List(ctx context.Context, limit int) ([]EvidenceSummary, error)
}

type evidenceRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewEvidenceRepository(db *sqlx.DB, logger *zap.Logger) EvidenceRepository {
	return &evidenceRepository{db: db, logger: logger}
}

// Digest is the hex BLAKE3 hash stored beside each packet.
func Digest(sealed []byte) string {
	sum := blake3.Sum256(sealed)
	return hex.EncodeToString(sum[:])
}

func (r *evidenceRepository) Put(ctx context.Context, packet *models.EvidencePacket) error {
	query := r.db.Rebind(`INSERT INTO evidence (id, created_at_ms, sealed, digest, severity, reason, interaction_count)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, packet.ID, packet.CreatedAtMs, packet.Sealed, Digest(packet.Sealed),
		int(packet.Meta.Severity), packet.Meta.Reason, packet.Meta.InteractionCount)
	if err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}
	r.logger.Info("Evidence stored", zap.String("id", packet.ID), zap.Stringer("severity", packet.Meta.Severity))
	return nil
}

// Get loads a packet and checks its digest.
func (r *evidenceRepository) Get(ctx context.Context, id string) (*models.EvidencePacket, error) {
	var row evidenceRow
	query := r.db.Rebind(`SELECT id, created_at_ms, sealed, digest, severity, reason, interaction_count FROM evidence WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	if Digest(row.Sealed) != row.Digest {
		r.logger.Error("Evidence failed integrity check", zap.String("id", id))
		return nil, ErrIntegrity
	}
	return &models.EvidencePacket{
		ID:          row.ID,
		CreatedAtMs: row.CreatedAtMs,
		Sealed:      row.Sealed,
		Meta: models.EvidenceMeta{
			Severity:         row.Severity,
			Reason:           row.Reason,
			InteractionCount: row.Count,
		},
	}, nil
}

// List returns the newest packets first.
func (r *evidenceRepository) List(ctx context.Context, limit int) ([]EvidenceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []EvidenceSummary
	query := r.db.Rebind(`SELECT id, created_at_ms, digest, severity, reason, interaction_count
	          FROM evidence ORDER BY created_at_ms DESC, id LIMIT ?`)
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	return out, nil
}
