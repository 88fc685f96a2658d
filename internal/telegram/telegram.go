// Package telegram wraps the Telegram Bot API for DietPipe.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the sending interface implemented by the real client and
// the mock used in tests.
type TelegramSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token string
	Debug bool
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token, overriding the environment.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithDebug enables Bot API debug logging.
func WithDebug() Option {
	return func(o *Opts) { o.Debug = true }
}

// Client wraps the Telegram Bot API client.
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient creates a Telegram client. The token falls back to the
// TELEGRAM_BOT_TOKEN environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	slog.Info("Telegram client connected", "bot", bot.Self.UserName)
	return &Client{bot: bot}, nil
}

// SendMessage sends a text message to the given chat ID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", to, err)
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, body)); err != nil {
		slog.Error("Failed to send Telegram message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Telegram message sent", "to", to, "body_length", len(body))
	return nil
}

// GetBot returns the underlying Bot API client for update polling.
func (c *Client) GetBot() *tgbotapi.BotAPI {
	return c.bot
}

// MockClient implements TelegramSender without a real connection, for tests.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	return nil
}
