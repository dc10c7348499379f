package message_processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/router"
)

type scriptedHandler struct {
	mu   sync.Mutex
	seen []string
}

func (h *scriptedHandler) HandleMessage(ctx context.Context, in models.Interaction) (router.Decision, error) {
	h.mu.Lock()
	h.seen = append(h.seen, in.ID)
	h.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return router.Decision{}, errors.New("dispatch without deadline")
	}
	switch in.Text {
	case "bad":
		return router.Decision{}, models.ErrValidation
	case "threat":
		return router.Decision{Action: router.ActionDetection, Detection: &router.Detection{Label: "secrecy", Degraded: true}}, nil
	case "hint":
		return router.Decision{Action: router.ActionAdvisory}, nil
	}
	return router.Decision{Action: router.ActionNone}, nil
}

func (h *scriptedHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func TestRunProcessesInOrderUntilClosed(t *testing.T) {
	h := &scriptedHandler{}
	p := NewProcessor(h, time.Second, zap.NewNop())

	in := make(chan models.Interaction, 4)
	in <- models.Interaction{ID: "1", Text: "hello"}
	in <- models.Interaction{ID: "2", Text: "threat"}
	in <- models.Interaction{ID: "3", Text: "hint"}
	in <- models.Interaction{ID: "4", Text: "bad"}
	close(in)

	p.Run(context.Background(), in)

	assert.Equal(t, []string{"1", "2", "3", "4"}, h.ids())
	assert.Equal(t, Stats{Processed: 3, Rejected: 1, Detections: 1, Advisories: 1}, p.Stats())
}

func TestRunStopsOnCancel(t *testing.T) {
	p := NewProcessor(&scriptedHandler{}, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, make(chan models.Interaction))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestDecodeLines(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"a","text":"hi","sender":{"id":"u"},"platform":"sms","timestampMs":1}`,
		``,
		`{not json`,
		`{"id":"b","text":"there","sender":{"id":"u"},"platform":"sms","timestampMs":2}`,
	}, "\n")

	out := make(chan models.Interaction, 4)
	require.NoError(t, DecodeLines(context.Background(), strings.NewReader(input), out, zap.NewNop()))
	close(out)

	var got []string
	for it := range out {
		got = append(got, it.ID)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestDecodeLinesHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DecodeLines(ctx, strings.NewReader(`{"id":"a"}`+"\n"), make(chan models.Interaction), zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessReturnsRejection(t *testing.T) {
	p := NewProcessor(&scriptedHandler{}, time.Second, nil)
	_, err := p.Process(context.Background(), models.Interaction{ID: "x", Text: "bad"})
	assert.ErrorIs(t, err, models.ErrValidation)

	// Without a timeout the dispatch context carries no deadline.
	unbounded := NewProcessor(&scriptedHandler{}, 0, nil)
	_, err = unbounded.Process(context.Background(), models.Interaction{ID: "y", Text: "hello"})
	assert.EqualError(t, err, "dispatch without deadline")
	assert.Equal(t, int64(1), unbounded.Stats().Rejected)
}
