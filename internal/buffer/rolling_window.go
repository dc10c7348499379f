package buffer

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/scheduler"
)

// WindowConfig bounds the active ring by count and by age.
type WindowConfig struct {
	MaxInteractions int
	MaxAge          time.Duration
	CleanupInterval time.Duration
}

// Stats describes the active ring. Snapshots are counted but never included in
// the timestamps or memory estimate.
type Stats struct {
	Size              int   `json:"size"`
	Capacity          int   `json:"capacity"`
	IsFull            bool  `json:"isFull"`
	OldestTimestampMs int64 `json:"oldestTimestampMs,omitempty"`
	NewestTimestampMs int64 `json:"newestTimestampMs,omitempty"`
	MemoryBytes       int   `json:"memoryBytes"`
	Snapshots         int   `json:"snapshots"`
}

// RollingWindow keeps the most recent interactions and freezes them into
// snapshots when a threat is detected.
type RollingWindow struct {
	mu        sync.Mutex
	ring      *RingBuffer[models.Interaction]
	snapshots map[string]*models.Snapshot
	maxAge    time.Duration
	sched     scheduler.Scheduler
	cancel    scheduler.CancelFunc
	logger    *zap.Logger
}

// NewRollingWindow validates cfg and starts the periodic age sweep.
func NewRollingWindow(cfg WindowConfig, sched scheduler.Scheduler, logger *zap.Logger) (*RollingWindow, error) {
	if cfg.MaxInteractions <= 0 {
		return nil, fmt.Errorf("%w: max interactions must be positive, got %d", models.ErrValidation, cfg.MaxInteractions)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("%w: max age must be positive, got %s", models.ErrValidation, cfg.MaxAge)
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("%w: cleanup interval must be positive, got %s", models.ErrValidation, cfg.CleanupInterval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &RollingWindow{
		ring:      NewRingBuffer[models.Interaction](cfg.MaxInteractions),
		snapshots: make(map[string]*models.Snapshot),
		maxAge:    cfg.MaxAge,
		sched:     sched,
		logger:    logger,
	}
	w.cancel = sched.Every(cfg.CleanupInterval, w.Sweep)
	return w, nil
}

// Capture validates and buffers an interaction.
func (w *RollingWindow) Capture(it models.Interaction) error {
	if err := it.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	w.ring.Push(it.Clone())
	w.mu.Unlock()
	return nil
}

// Peek returns the buffered interactions oldest first as a deep copy.
func (w *RollingWindow) Peek() []models.Interaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.CloneInteractions(w.ring.ToArray())
}

// FreezeOnThreat stores a snapshot of the current window and returns it.
// The active ring is not modified.
func (w *RollingWindow) FreezeOnThreat(level models.Severity, reason string) *models.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := &models.Snapshot{
		ID:           uuid.NewString(),
		Interactions: models.CloneInteractions(w.ring.ToArray()),
		CapturedAtMs: w.sched.Now().UnixMilli(),
		Reason:       reason,
		ThreatLevel:  level,
	}
	w.snapshots[snap.ID] = snap

	w.logger.Info("Window frozen",
		zap.String("snapshot_id", snap.ID),
		zap.String("threat_level", level.String()),
		zap.Int("interactions", len(snap.Interactions)))

	return cloneSnapshot(snap)
}

// Snapshot returns a copy of a stored snapshot.
func (w *RollingWindow) Snapshot(id string) (*models.Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap, ok := w.snapshots[id]
	if !ok {
		return nil, false
	}
	return cloneSnapshot(snap), true
}

// DeleteSnapshot removes a snapshot from the table.
func (w *RollingWindow) DeleteSnapshot(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.snapshots[id]; !ok {
		return false
	}
	delete(w.snapshots, id)
	return true
}

// Clear empties the active ring. Snapshots are kept.
func (w *RollingWindow) Clear() {
	w.mu.Lock()
	w.ring.Clear()
	w.mu.Unlock()
}

// Sweep drops interactions older than the max age. The ring is rebuilt only
// when something was removed; survivors keep their order.
func (w *RollingWindow) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.sched.Now().Add(-w.maxAge).UnixMilli()
	all := w.ring.ToArray()
	kept := make([]models.Interaction, 0, len(all))
	for _, it := range all {
		if it.TimestampMs >= cutoff {
			kept = append(kept, it)
		}
	}
	if removed := len(all) - len(kept); removed > 0 {
		w.ring.Rebuild(kept)
		w.logger.Debug("Window swept", zap.Int("removed", removed), zap.Int("remaining", len(kept)))
	}
}

// Destroy cancels the sweep and clears both the ring and the snapshot table.
func (w *RollingWindow) Destroy() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ring.Clear()
	w.snapshots = make(map[string]*models.Snapshot)
}

// Stats reports the state of the active ring.
func (w *RollingWindow) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Stats{
		Size:      w.ring.Len(),
		Capacity:  w.ring.Cap(),
		IsFull:    w.ring.IsFull(),
		Snapshots: len(w.snapshots),
	}
	if oldest, ok := w.ring.Oldest(); ok {
		st.OldestTimestampMs = oldest.TimestampMs
	}
	if newest, ok := w.ring.Newest(); ok {
		st.NewestTimestampMs = newest.TimestampMs
	}
	for _, it := range w.ring.ToArray() {
		st.MemoryBytes += estimateSize(it)
	}
	return st
}

// estimateSize is a rough byte count: struct header plus string payloads.
func estimateSize(it models.Interaction) int {
	n := int(unsafe.Sizeof(it))
	n += len(it.ID) + len(it.Text) + len(it.Sender.ID) + len(it.Sender.Name) + len(it.Platform)
	if it.Recipient != nil {
		n += len(it.Recipient.ID) + len(it.Recipient.Name)
	}
	for k, v := range it.Metadata {
		n += len(k) + len(v)
	}
	return n
}

func cloneSnapshot(s *models.Snapshot) *models.Snapshot {
	out := *s
	out.Interactions = models.CloneInteractions(s.Interactions)
	return &out
}
