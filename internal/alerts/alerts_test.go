package alerts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

type fakeSender struct {
	mu       sync.Mutex
	failures map[int64][]error
	sent     map[int64][]string
	calls    int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failures: map[int64][]error{}, sent: map[int64][]string{}}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	msg := c.(tgbotapi.MessageConfig)
	if queue := f.failures[msg.ChatID]; len(queue) > 0 {
		f.failures[msg.ChatID] = queue[1:]
		return tgbotapi.Message{}, queue[0]
	}
	f.sent[msg.ChatID] = append(f.sent[msg.ChatID], msg.Text)
	return tgbotapi.Message{}, nil
}

var fastRetry = RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxElapsed: time.Second}

func sampleAlert() models.ParentAlert {
	return models.ParentAlert{
		ID:          "a-1",
		CreatedAtMs: 1700000000000,
		Severity:    models.SeverityHigh,
		Headline:    "asks to move to a private app",
		EvidenceID:  "ev-1",
		Label:       "grooming",
	}
}

func TestTelegramSinkRetriesTransientErrors(t *testing.T) {
	sender := newFakeSender()
	sender.failures[1] = []error{errors.New("timeout"), errors.New("timeout")}
	sink := NewTelegramSinkWithSender(sender, []int64{1}, fastRetry, zap.NewNop())

	require.NoError(t, sink.Dispatch(context.Background(), sampleAlert()))
	assert.Len(t, sender.sent[1], 1)
	assert.Equal(t, 3, sender.calls)
}

func TestTelegramSinkGivesUpAfterMaxAttempts(t *testing.T) {
	sender := newFakeSender()
	sender.failures[1] = []error{errors.New("e1"), errors.New("e2"), errors.New("e3"), errors.New("e4")}
	sink := NewTelegramSinkWithSender(sender, []int64{1, 2}, fastRetry, zap.NewNop())

	err := sink.Dispatch(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 1")
	assert.Len(t, sender.sent[2], 1)
}

func TestTelegramSinkDoesNotRetryRejections(t *testing.T) {
	sender := newFakeSender()
	sender.failures[1] = []error{&tgbotapi.Error{Code: 403, Message: "bot was blocked by the user"}}
	sink := NewTelegramSinkWithSender(sender, []int64{1}, fastRetry, zap.NewNop())

	require.Error(t, sink.Dispatch(context.Background(), sampleAlert()))
	assert.Equal(t, 1, sender.calls)
}

func TestNewTelegramSinkValidates(t *testing.T) {
	_, err := NewTelegramSink("", []int64{1}, fastRetry, zap.NewNop())
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = NewTelegramSink("token", nil, fastRetry, zap.NewNop())
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestNewTelegramSinkAgainstBotAPI(t *testing.T) {
	var mu sync.Mutex
	var sentTo []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/botsecret-token/getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Guardian","username":"guardian_bot"}}`))
		case "/botsecret-token/sendMessage":
			assert.NoError(t, r.ParseForm())
			mu.Lock()
			sentTo = append(sentTo, r.PostForm.Get("chat_id"))
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":42}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	prev := apiEndpoint
	apiEndpoint = srv.URL + "/bot%s/%s"
	t.Cleanup(func() { apiEndpoint = prev })

	sink, err := NewTelegramSink("secret-token", []int64{42}, fastRetry, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Dispatch(context.Background(), sampleAlert()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"42"}, sentTo)
}

func TestFormatAlert(t *testing.T) {
	text := FormatAlert(sampleAlert())
	assert.Contains(t, text, "HIGH")
	assert.Contains(t, text, "asks to move to a private app")
	assert.Contains(t, text, "Category: grooming")
	assert.Contains(t, text, "Evidence: ev-1")
	assert.True(t, strings.HasSuffix(text, "2023-11-14T22:13:20Z"))

	unsealed := sampleAlert()
	unsealed.EvidenceID = ""
	unsealed.Severity = models.SeverityCritical
	text = FormatAlert(unsealed)
	assert.Contains(t, text, "🚨")
	assert.Contains(t, text, "Evidence: not sealed")
}

type sinkFunc func(context.Context, models.ParentAlert) error

func (f sinkFunc) Dispatch(ctx context.Context, a models.ParentAlert) error { return f(ctx, a) }

type memStore struct {
	saved     []models.ParentAlert
	delivered []bool
	err       error
}

func (m *memStore) Save(_ context.Context, a models.ParentAlert, delivered bool) error {
	m.saved = append(m.saved, a)
	m.delivered = append(m.delivered, delivered)
	return m.err
}

func TestFanOutCallsEverySink(t *testing.T) {
	var calls int
	ok := sinkFunc(func(context.Context, models.ParentAlert) error { calls++; return nil })
	bad := sinkFunc(func(context.Context, models.ParentAlert) error { calls++; return errors.New("down") })

	err := FanOut{bad, ok, NewLogSink(zap.NewNop())}.Dispatch(context.Background(), sampleAlert())
	assert.EqualError(t, err, "down")
	assert.Equal(t, 2, calls)

	assert.NoError(t, FanOut{ok}.Dispatch(context.Background(), sampleAlert()))
}

func TestRecorderStoresOutcome(t *testing.T) {
	store := &memStore{}
	down := errors.New("down")

	ok := NewRecorder(sinkFunc(func(context.Context, models.ParentAlert) error { return nil }), store, nil)
	require.NoError(t, ok.Dispatch(context.Background(), sampleAlert()))

	failing := NewRecorder(sinkFunc(func(context.Context, models.ParentAlert) error { return down }), store, nil)
	assert.ErrorIs(t, failing.Dispatch(context.Background(), sampleAlert()), down)

	assert.Equal(t, []bool{true, false}, store.delivered)
}

func TestRecorderSurfacesStoreError(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	r := NewRecorder(sinkFunc(func(context.Context, models.ParentAlert) error { return nil }), store, nil)
	assert.EqualError(t, r.Dispatch(context.Background(), sampleAlert()), "disk full")
}
