package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/cooldown"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/keyvault"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := NewDB(DriverSQLite, filepath.Join(t.TempDir(), "guardian.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, MigrateDB(db, zap.NewNop()))
	return db
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB("mysql", "x", zap.NewNop())
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, MigrateDB(db, zap.NewNop()))
}

func TestEvidencePutGet(t *testing.T) {
	ctx := context.Background()
	repo := NewEvidenceRepository(openTestDB(t), zap.NewNop())

	packet := &models.EvidencePacket{
		ID:          "snap-1",
		CreatedAtMs: 1000,
		Sealed:      []byte{1, 2, 3, 4},
		Meta:        models.EvidenceMeta{Severity: models.SeverityHigh, Reason: "grooming", InteractionCount: 2},
	}
	require.NoError(t, repo.Put(ctx, packet))

	got, err := repo.Get(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, packet, got)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvidenceTamperDetected(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewEvidenceRepository(db, zap.NewNop())

	require.NoError(t, repo.Put(ctx, &models.EvidencePacket{ID: "e", CreatedAtMs: 1, Sealed: []byte("sealed")}))
	_, err := db.Exec(`UPDATE evidence SET sealed = ? WHERE id = ?`, []byte("forged"), "e")
	require.NoError(t, err)

	_, err = repo.Get(ctx, "e")
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestEvidenceListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewEvidenceRepository(openTestDB(t), zap.NewNop())
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Put(ctx, &models.EvidencePacket{ID: id, CreatedAtMs: int64(i), Sealed: []byte(id)}))
	}

	list, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, Digest([]byte("c")), list[0].Digest)
}

func TestKeyRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewKeyRepository(openTestDB(t), zap.NewNop())

	_, err := store.LoadDeviceKey(ctx)
	assert.ErrorIs(t, err, keyvault.ErrNotFound)
	_, err = store.LoadWrapped(ctx)
	assert.ErrorIs(t, err, keyvault.ErrNotFound)
	_, err = store.LoadRecovery(ctx)
	assert.ErrorIs(t, err, keyvault.ErrNotFound)

	st, err := store.LoadAttempts(ctx)
	require.NoError(t, err)
	assert.Zero(t, st)

	key := make([]byte, 32)
	key[0] = 7
	require.NoError(t, store.SaveDeviceKey(ctx, key))
	got, err := store.LoadDeviceKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	first := &models.WrappedKeyRecord{Version: 1, Algo: "AES-GCM", SaltB64: "s1", Iterations: 100000, NonceB64: "n1", WrappedB64: "w1", CreatedAtMs: 1}
	second := &models.WrappedKeyRecord{Version: 1, Algo: "AES-GCM", SaltB64: "s2", Iterations: 210000, NonceB64: "n2", WrappedB64: "w2", CreatedAtMs: 2}
	require.NoError(t, store.SaveWrapped(ctx, first))
	require.NoError(t, store.SaveWrapped(ctx, second))
	rec, err := store.LoadWrapped(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, rec)

	recovery := &models.RecoveryRecord{SaltB64: "salt", HashB64: "hash", CreatedAtMs: 3}
	require.NoError(t, store.SaveRecovery(ctx, recovery))
	gotRecovery, err := store.LoadRecovery(ctx)
	require.NoError(t, err)
	assert.Equal(t, recovery, gotRecovery)

	require.NoError(t, store.SaveAttempts(ctx, models.AttemptState{Count: 4, LastAttemptMs: 99}))
	st, err = store.LoadAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptState{Count: 4, LastAttemptMs: 99}, st)
}

func TestCooldownRepository(t *testing.T) {
	ctx := context.Background()
	store := NewCooldownRepository(openTestDB(t))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, cooldown.ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", 10))
	require.NoError(t, store.Set(ctx, "k", 20))
	ts, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(20), ts)
}

func TestCooldownFilterOverSQL(t *testing.T) {
	ctx := context.Background()
	f := cooldown.NewFilter(NewCooldownRepository(openTestDB(t)), zap.NewNop())

	assert.False(t, f.ShouldSuppress(ctx, 0, 20*time.Second, "s", "grooming", models.SeverityHigh))
	assert.True(t, f.ShouldSuppress(ctx, 1000, 20*time.Second, "s", "grooming", models.SeverityHigh))
}

func TestAlertRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAlertRepository(openTestDB(t), zap.NewNop())

	older := models.ParentAlert{ID: "a1", CreatedAtMs: 1, Severity: models.SeverityHigh, Headline: "h1", EvidenceID: "e1", Label: "grooming", Reasons: []string{"r1", "r2"}, SenderID: "s"}
	newer := models.ParentAlert{ID: "a2", CreatedAtMs: 2, Severity: models.SeverityCritical, Headline: "h2"}
	require.NoError(t, repo.Save(ctx, older, false))
	require.NoError(t, repo.Save(ctx, newer, true))
	require.NoError(t, repo.Save(ctx, older, true))

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].ID)
	assert.Empty(t, list[0].Reasons)
	assert.Equal(t, older, list[1].ParentAlert)
	assert.True(t, list[1].Delivered)
}
