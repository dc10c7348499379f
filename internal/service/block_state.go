package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/scheduler"
)

// BlockEvent is the last block the device raised.
type BlockEvent struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// AdvisoryEvent is the last piece of educational content shown.
type AdvisoryEvent struct {
	Level models.Severity `json:"level"`
	Label string          `json:"label"`
	At    time.Time       `json:"at"`
}

// BlockState is the headless BlockUI and Educator. It records what a
// presentation layer would have shown so the status API can report it.
type BlockState struct {
	mu       sync.RWMutex
	clock    scheduler.Scheduler
	logger   *zap.Logger
	block    *BlockEvent
	advisory *AdvisoryEvent
	blocks   int
}

func NewBlockState(clock scheduler.Scheduler, logger *zap.Logger) *BlockState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockState{clock: clock, logger: logger}
}

func (b *BlockState) BlockNow(reason string) {
	b.mu.Lock()
	b.block = &BlockEvent{Reason: reason, At: b.clock.Now()}
	b.blocks++
	b.mu.Unlock()
	b.logger.Warn("Conversation blocked", zap.String("reason", reason))
}

func (b *BlockState) ShowAdvisory(level models.Severity, label string) {
	b.mu.Lock()
	b.advisory = &AdvisoryEvent{Level: level, Label: label, At: b.clock.Now()}
	b.mu.Unlock()
	b.logger.Info("Advisory shown", zap.Stringer("level", level), zap.String("label", label))
}

// Dismiss clears the current block. Counters are kept.
func (b *BlockState) Dismiss() {
	b.mu.Lock()
	b.block = nil
	b.mu.Unlock()
}

func (b *BlockState) Current() (*BlockEvent, *AdvisoryEvent, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var block *BlockEvent
	if b.block != nil {
		cp := *b.block
		block = &cp
	}
	var advisory *AdvisoryEvent
	if b.advisory != nil {
		cp := *b.advisory
		advisory = &cp
	}
	return block, advisory, b.blocks
}
