package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/DietPipe/internal/telegram"
)

func TestTelegramServiceValidateAndCanonicalizeRecipient(t *testing.T) {
	service := NewTelegramService(telegram.NewMockClient())

	canonical, err := service.ValidateAndCanonicalizeRecipient(" 123456789 ")
	if err != nil {
		t.Fatalf("expected valid chat ID, got error: %v", err)
	}
	if canonical != "123456789" {
		t.Errorf("expected canonical 123456789, got %s", canonical)
	}

	if _, err := service.ValidateAndCanonicalizeRecipient("whatsapp:+15551234567"); err == nil {
		t.Error("expected error for non-numeric chat ID")
	}
	if _, err := service.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
}

// Sends must not block when nothing drains the receipts channel.
func TestTelegramServiceSendMessageWithoutReceiptsConsumer(t *testing.T) {
	service := NewTelegramService(telegram.NewMockClient())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultChannelBufferSize+1; i++ {
			if err := service.SendMessage(ctx, "123456789", fmt.Sprintf("message %d", i)); err != nil {
				t.Errorf("SendMessage %d failed: %v", i, err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * DefaultChannelTimeout):
		t.Fatal("SendMessage blocked once the receipts buffer filled")
	}
}
