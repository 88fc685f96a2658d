package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/telegram"
)

// DefaultTelegramPollTimeout is the long-poll timeout in seconds.
const DefaultTelegramPollTimeout = 60

// TelegramService implements Service using the Telegram Bot API long-poll
// updates channel. Recipients are numeric chat IDs rather than phone numbers.
type TelegramService struct {
	client    telegram.TelegramSender
	tgClient  *telegram.Client // full client when available, for update polling
	receipts  chan models.Receipt
	responses chan models.Response
}

// Compile-time check that TelegramService implements Service.
var _ Service = (*TelegramService)(nil)

// NewTelegramService creates a new TelegramService wrapping the given sender.
func NewTelegramService(client telegram.TelegramSender) *TelegramService {
	service := &TelegramService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
	if tgClient, ok := client.(*telegram.Client); ok {
		service.tgClient = tgClient
	}
	return service
}

// ValidateAndCanonicalizeRecipient accepts a Telegram chat ID.
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if _, err := strconv.ParseInt(recipient, 10, 64); err != nil {
		return "", fmt.Errorf("invalid telegram chat ID %q: %w", recipient, err)
	}
	return recipient, nil
}

// Start begins polling for updates when a full client is available.
func (s *TelegramService) Start(ctx context.Context) error {
	if s.tgClient == nil {
		slog.Debug("TelegramService no full client available, skipping update polling")
		return nil
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultTelegramPollTimeout
	updates := s.tgClient.GetBot().GetUpdatesChan(u)
	go s.handleUpdates(ctx, updates)
	slog.Debug("TelegramService update polling started")
	return nil
}

// Stop stops polling and closes the channels.
func (s *TelegramService) Stop() error {
	if s.tgClient != nil {
		s.tgClient.GetBot().StopReceivingUpdates()
	}
	close(s.receipts)
	close(s.responses)
	slog.Info("TelegramService stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *TelegramService) SendMessage(ctx context.Context, to string, body string) error {
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("TelegramService SendMessage error", "error", err, "to", to)
		return err
	}
	receipt := models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TelegramService receipts channel blocked, dropping receipt", "to", to)
	}
	return nil
}

// Receipts returns a channel of receipt events. Telegram has no delivery
// receipts, so only sent events are emitted.
func (s *TelegramService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *TelegramService) Responses() <-chan models.Response {
	return s.responses
}

// handleUpdates forwards private text messages until the context ends.
func (s *TelegramService) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("TelegramService handleUpdates stopping due to context cancellation")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil || update.Message.From.IsBot {
				continue
			}
			if update.Message.Text == "" {
				slog.Debug("TelegramService ignoring non-text message", "chat", update.Message.Chat.ID)
				continue
			}

			response := models.Response{
				From:      strconv.FormatInt(update.Message.Chat.ID, 10),
				MessageID: strconv.Itoa(update.Message.MessageID),
				Body:      update.Message.Text,
				Time:      int64(update.Message.Date),
			}
			select {
			case s.responses <- response:
				slog.Debug("TelegramService incoming message forwarded", "from", response.From, "messageID", response.MessageID)
			case <-time.After(DefaultChannelTimeout):
				slog.Warn("TelegramService responses channel blocked, dropping message", "from", response.From)
			}
		}
	}
}
