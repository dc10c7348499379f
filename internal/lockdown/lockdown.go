// Package lockdown holds the timed lockdown entered on CRITICAL detections.
package lockdown

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/scheduler"
)

// DefaultDuration is the lockdown started by a CRITICAL detection.
const DefaultDuration = 60 * time.Second

// Timer is inactive until Start and returns to inactive on Stop or expiry.
type Timer struct {
	mu      sync.Mutex
	sched   scheduler.Scheduler
	logger  *zap.Logger
	active  bool
	gen     uint64
	until   time.Time
	cancel  scheduler.CancelFunc
	onStart func(until time.Time)
	onStop  func()
}

type Option func(*Timer)

// WithHooks registers callbacks for transitions. They run outside the lock.
func WithHooks(onStart func(until time.Time), onStop func()) Option {
	return func(t *Timer) {
		t.onStart = onStart
		t.onStop = onStop
	}
}

func NewTimer(sched scheduler.Scheduler, logger *zap.Logger, opts ...Option) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Timer{sched: sched, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start enters lockdown for d. It is a no-op while already active and
// reports whether it changed state.
func (t *Timer) Start(d time.Duration) (bool, error) {
	if d <= 0 {
		return false, fmt.Errorf("%w: lockdown duration must be positive, got %s", models.ErrValidation, d)
	}

	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return false, nil
	}
	t.active = true
	t.gen++
	gen := t.gen
	t.until = t.sched.Now().Add(d)
	until := t.until
	t.cancel = t.sched.After(d, func() { t.expire(gen) })
	t.mu.Unlock()

	t.logger.Info("Lockdown started", zap.Duration("duration", d))
	if t.onStart != nil {
		t.onStart(until)
	}
	return true, nil
}

// Stop leaves lockdown and cancels the pending expiry. Safe to call repeatedly.
func (t *Timer) Stop() {
	if t.deactivate(0) {
		t.logger.Info("Lockdown stopped")
		if t.onStop != nil {
			t.onStop()
		}
	}
}

func (t *Timer) expire(gen uint64) {
	if t.deactivate(gen) {
		t.logger.Info("Lockdown expired")
		if t.onStop != nil {
			t.onStop()
		}
	}
}

// deactivate ends the current lockdown. A non-zero gen only matches the
// lockdown it was scheduled for, so a late expiry cannot end a newer one.
func (t *Timer) deactivate(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || (gen != 0 && gen != t.gen) {
		return false
	}
	t.active = false
	t.until = time.Time{}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return true
}

func (t *Timer) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Until returns when the current lockdown ends, zero when inactive.
func (t *Timer) Until() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.until
}
