package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

// Sender is the part of *tgbotapi.BotAPI the sink uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

func DefaultRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 4, InitialInterval: 500 * time.Millisecond, MaxElapsed: 30 * time.Second}
}

// TelegramSink notifies guardian chats through a Telegram bot.
type TelegramSink struct {
	sender  Sender
	chatIDs []int64
	retry   RetryConfig
	logger  *zap.Logger
}

// apiEndpoint is the Bot API URL template, token then method.
var apiEndpoint = tgbotapi.APIEndpoint

// NewTelegramSink authorizes the bot token and returns a sink for chatIDs.
func NewTelegramSink(token string, chatIDs []int64, retry RetryConfig, logger *zap.Logger) (*TelegramSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if token == "" || len(chatIDs) == 0 {
		return nil, fmt.Errorf("%w: telegram sink needs a token and at least one chat", models.ErrValidation)
	}
	botAPI, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))
	return NewTelegramSinkWithSender(botAPI, chatIDs, retry, logger), nil
}

func NewTelegramSinkWithSender(sender Sender, chatIDs []int64, retry RetryConfig, logger *zap.Logger) *TelegramSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetry()
	}
	return &TelegramSink{sender: sender, chatIDs: chatIDs, retry: retry, logger: logger}
}

// Dispatch sends the alert to every chat. Each chat is retried on its own;
// the returned error joins the chats that never got it.
func (s *TelegramSink) Dispatch(ctx context.Context, alert models.ParentAlert) error {
	text := FormatAlert(alert)
	var errs []error
	for _, chatID := range s.chatIDs {
		if err := s.send(ctx, chatID, text); err != nil {
			s.logger.Error("Failed to send guardian alert",
				zap.Int64("chat_id", chatID),
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		s.logger.Info("Guardian alert sent", zap.Int64("chat_id", chatID), zap.String("alert_id", alert.ID))
	}
	return errors.Join(errs...)
}

func (s *TelegramSink) send(ctx context.Context, chatID int64, text string) error {
	exp := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		exp.InitialInterval = s.retry.InitialInterval
	}
	if s.retry.MaxElapsed > 0 {
		exp.MaxElapsedTime = s.retry.MaxElapsed
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.retry.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		_, err := s.sender.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("Telegram send failed, retrying", zap.Int64("chat_id", chatID), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, bo)
}

// permanent reports API rejections that retrying cannot fix (bad chat, bot blocked).
func permanent(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 400 || apiErr.Code == 401 || apiErr.Code == 403
	}
	return false
}

// FormatAlert renders the guardian notification. Message text never appears in it.
func FormatAlert(alert models.ParentAlert) string {
	var b strings.Builder
	icon := "⚠️"
	if alert.Severity == models.SeverityCritical {
		icon = "🚨"
	}
	fmt.Fprintf(&b, "%s Guardian alert: %s\n\n", icon, alert.Severity)
	fmt.Fprintf(&b, "%s\n", alert.Headline)
	if alert.Label != "" {
		fmt.Fprintf(&b, "Category: %s\n", alert.Label)
	}
	if alert.EvidenceID != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", alert.EvidenceID)
	} else {
		b.WriteString("Evidence: not sealed\n")
	}
	fmt.Fprintf(&b, "Time: %s", time.UnixMilli(alert.CreatedAtMs).UTC().Format(time.RFC3339))
	return b.String()
}
