package message_processor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/router"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxLine bounds one JSON-encoded interaction on the input stream.
const maxLine = 1 << 20

// Handler is the dispatch step each interaction goes through.
type Handler interface {
	HandleMessage(ctx context.Context, in models.Interaction) (router.Decision, error)
}

type Stats struct {
	Processed  int64 `json:"processed"`
	Rejected   int64 `json:"rejected"`
	Detections int64 `json:"detections"`
	Advisories int64 `json:"advisories"`
}

// Processor feeds captured interactions to the router one at a time, in
// arrival order.
type Processor struct {
	handler Handler
	timeout time.Duration
	logger  *zap.Logger

	processed  atomic.Int64
	rejected   atomic.Int64
	detections atomic.Int64
	advisories atomic.Int64
}

// NewProcessor creates a new message processor. timeout bounds the store and
// alert I/O of a single dispatch; zero means no bound beyond ctx.
func NewProcessor(handler Handler, timeout time.Duration, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{handler: handler, timeout: timeout, logger: logger}
}

// Run consumes in until ctx is done or in is closed.
func (p *Processor) Run(ctx context.Context, in <-chan models.Interaction) {
	p.logger.Info("Message processor started.")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Message processor stopped.")
			return
		case it, ok := <-in:
			if !ok {
				p.logger.Info("Message processor input closed.")
				return
			}
			p.Process(ctx, it)
		}
	}
}

// Process dispatches one interaction and records the outcome. The error is
// set only when the interaction was rejected.
func (p *Processor) Process(ctx context.Context, it models.Interaction) (router.Decision, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	d, err := p.handler.HandleMessage(ctx, it)
	if err != nil {
		p.rejected.Add(1)
		p.logger.Warn("Interaction rejected", zap.String("interaction_id", it.ID), zap.Error(err))
		return d, err
	}
	p.processed.Add(1)
	if d.Detection != nil && d.Detection.Degraded {
		p.logger.Error("Detection completed with downstream failures",
			zap.String("interaction_id", it.ID),
			zap.String("label", d.Detection.Label),
		)
	}
	switch d.Action {
	case router.ActionDetection:
		p.detections.Add(1)
	case router.ActionAdvisory:
		p.advisories.Add(1)
	}
	return d, nil
}

func (p *Processor) Stats() Stats {
	return Stats{
		Processed:  p.processed.Load(),
		Rejected:   p.rejected.Load(),
		Detections: p.detections.Load(),
		Advisories: p.advisories.Load(),
	}
}

// DecodeLines reads one JSON interaction per line from r and sends it to out.
// Malformed lines are logged and skipped. It returns when r is exhausted or
// ctx is done; out is not closed.
func DecodeLines(ctx context.Context, r io.Reader, out chan<- models.Interaction, logger *zap.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var it models.Interaction
		if err := json.Unmarshal(raw, &it); err != nil {
			logger.Warn("Skipping malformed interaction line", zap.Int("line", line), zap.Error(err))
			continue
		}
		select {
		case out <- it:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read interactions: %w", err)
	}
	return nil
}
