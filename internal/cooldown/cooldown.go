// Package cooldown suppresses repeat detections for the same sender, label
// and severity inside a time window.
package cooldown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

var ErrNotFound = errors.New("cooldown stamp not found")

// Store keeps the last-fired timestamp per key. Get returns ErrNotFound when
// the key has never fired.
type Store interface {
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, tsMs int64) error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu     sync.Mutex
	stamps map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stamps: make(map[string]int64)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.stamps[key]
	if !ok {
		return 0, ErrNotFound
	}
	return ts, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, tsMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamps[key] = tsMs
	return nil
}

// Key builds the suppression key for a hit.
func Key(senderID, label string, severity models.Severity) string {
	if senderID == "" {
		senderID = "anon"
	}
	if label == "" {
		label = "nolabel"
	}
	return strings.Join([]string{senderID, label, severity.String()}, "|")
}

// Filter decides whether a hit repeats one already acted on.
type Filter struct {
	mu     sync.Mutex
	store  Store
	logger *zap.Logger
}

func NewFilter(store Store, logger *zap.Logger) *Filter {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{store: store, logger: logger}
}

// ShouldSuppress reports whether a hit at nowMs falls inside window of the
// last unsuppressed one for the same key. A suppressed hit does not refresh
// the stamp. Store errors fail open.
func (f *Filter) ShouldSuppress(ctx context.Context, nowMs int64, window time.Duration, senderID, label string, severity models.Severity) bool {
	key := Key(senderID, label, severity)

	f.mu.Lock()
	defer f.mu.Unlock()

	prior, err := f.store.Get(ctx, key)
	switch {
	case err == nil:
		if nowMs-prior < window.Milliseconds() {
			return true
		}
	case !errors.Is(err, ErrNotFound):
		f.logger.Warn("Cooldown lookup failed, not suppressing", zap.String("label", label), zap.Error(err))
	}

	if err := f.store.Set(ctx, key, nowMs); err != nil {
		f.logger.Warn("Cooldown stamp not stored", zap.String("label", label), zap.Error(err))
	}
	return false
}
