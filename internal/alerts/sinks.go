package alerts

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

// Sink delivers one parent alert.
type Sink interface {
	Dispatch(ctx context.Context, alert models.ParentAlert) error
}

// LogSink writes alerts to the structured log. Used when no bot is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Dispatch(_ context.Context, alert models.ParentAlert) error {
	s.logger.Warn("Guardian alert",
		zap.String("alert_id", alert.ID),
		zap.Stringer("severity", alert.Severity),
		zap.String("headline", alert.Headline),
		zap.String("label", alert.Label),
		zap.String("evidence_id", alert.EvidenceID),
	)
	return nil
}

// FanOut dispatches to every sink and joins their errors.
type FanOut []Sink

func (f FanOut) Dispatch(ctx context.Context, alert models.ParentAlert) error {
	var errs []error
	for _, s := range f {
		if err := s.Dispatch(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Store is the alert log Recorder writes to.
type Store interface {
	Save(ctx context.Context, alert models.ParentAlert, delivered bool) error
}

// Recorder persists each alert with its delivery outcome, then returns the
// delivery error unchanged.
type Recorder struct {
	next   Sink
	store  Store
	logger *zap.Logger
}

func NewRecorder(next Sink, store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{next: next, store: store, logger: logger}
}

func (r *Recorder) Dispatch(ctx context.Context, alert models.ParentAlert) error {
	err := r.next.Dispatch(ctx, alert)
	if saveErr := r.store.Save(ctx, alert, err == nil); saveErr != nil {
		r.logger.Error("Failed to record alert", zap.String("alert_id", alert.ID), zap.Error(saveErr))
		if err == nil {
			err = saveErr
		}
	}
	return err
}
