package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"sentinel/internal/adapters/config"
	"sentinel/internal/domain/alert"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

// Notifier delivers alerts to a Telegram chat. Outbound only; the bot
// neither polls nor answers commands.
type Notifier struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewNotifier creates a Telegram notifier
func NewNotifier(cfg config.TelegramConfig) (*Notifier, error) {
	if cfg.BotToken == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "telegram bot token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "telegram chat id is required")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	return &Notifier{
		api:    api,
		chatID: cfg.ChatID,
		// Telegram allows ~30 msg/sec; stay conservative
		limiter: rate.NewLimiter(rate.Limit(20), 30),
		log:     logger.Get().With("component", "telegram_notifier"),
	}, nil
}

// Notify formats and sends one alert
func (n *Notifier) Notify(ctx context.Context, a alert.Alert) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "telegram rate limiter")
	}

	msg := tgbotapi.NewMessage(n.chatID, formatAlert(a))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.api.Send(msg); err != nil {
		n.log.Warnf("Failed to send alert %s: %v", a.DedupKey, err)
		return errors.Wrap(err, "failed to send telegram message")
	}
	return nil
}

func formatAlert(a alert.Alert) string {
	icon := "ℹ️"
	switch a.Severity {
	case alert.SeverityWarning:
		icon = "⚠️"
	case alert.SeverityCritical:
		icon = "🚨"
	}

	text := fmt.Sprintf("%s *%s*\n%s", icon, a.EventType, a.Message)
	if a.Count > 1 {
		text += fmt.Sprintf("\n_repeated %d times since %s_", a.Count, a.FirstSeen.Format("15:04:05"))
	}
	if a.Escalated {
		text += "\n*ESCALATED*"
	}
	return text
}
