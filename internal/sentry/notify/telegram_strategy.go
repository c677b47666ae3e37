package notify

import (
	"context"

	"market-sentry/internal/entity"
	"market-sentry/pkg/telegram"
)

// TelegramStrategy delivers system notifications to the user's Telegram chat.
type TelegramStrategy struct {
	notifier telegram.Notifier
}

// NewTelegramStrategy creates a Telegram notification strategy.
func NewTelegramStrategy(notifier telegram.Notifier) *TelegramStrategy {
	return &TelegramStrategy{notifier: notifier}
}

// Name returns the sink name.
func (s *TelegramStrategy) Name() string { return "telegram" }

// Send formats and sends the alert to the configured chat.
func (s *TelegramStrategy) Send(_ context.Context, alert *entity.Alert) error {
	return s.notifier.SendMessage(telegram.FormatAlert(alert))
}
