// Package notify delivers consolidated alert messages.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every Bot API call when no HTTP client is given
const DefaultTimeout = 10 * time.Second

// TelegramOptions configures the Telegram notifier
type TelegramOptions struct {
	Token  string
	ChatID int64
	// APIEndpoint overrides tgbotapi.APIEndpoint, mostly for tests
	APIEndpoint string
	// Timeout applies when HTTPClient is nil
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Telegram sends alerts to one fixed chat
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegram authenticates the bot and returns a notifier
func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, opts.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	logger := log.With().Str("component", "telegram").Logger()
	logger.Info().Str("bot", bot.Self.UserName).Int64("chat_id", opts.ChatID).Msg("Telegram notifier ready")

	return &Telegram{bot: bot, chatID: opts.ChatID, logger: logger}, nil
}

// Notify sends the message. The Bot API client has no context support: the
// send runs in its own goroutine, bounded by the HTTP client timeout, and
// Notify returns as soon as ctx is done.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, message)
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.logger.Error().Err(err).Int64("chat_id", t.chatID).Msg("Failed to send alert")
			return fmt.Errorf("sending telegram message: %w", err)
		}
	case <-ctx.Done():
		t.logger.Error().Err(ctx.Err()).Int64("chat_id", t.chatID).Msg("Alert send abandoned")
		return fmt.Errorf("sending telegram message: %w", ctx.Err())
	}

	t.logger.Info().Int64("chat_id", t.chatID).Msg("Alert sent")
	return nil
}

// Log is a notifier that only writes alerts to the log, used when no bot
// token is configured.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log-only notifier
func NewLog() *Log {
	return &Log{logger: log.With().Str("component", "notify").Logger()}
}

// Notify logs the message
func (l *Log) Notify(_ context.Context, message string) error {
	l.logger.Warn().Str("message", message).Msg("Alert (no telegram configured)")
	return nil
}
