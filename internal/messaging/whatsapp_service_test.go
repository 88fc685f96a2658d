package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/DietPipe/internal/whatsapp"
)

func TestWhatsAppServiceValidateAndCanonicalizeRecipient(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())

	canonical, err := service.ValidateAndCanonicalizeRecipient("whatsapp:+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("expected valid recipient, got error: %v", err)
	}
	if canonical != "15551234567" {
		t.Errorf("expected canonical 15551234567, got %s", canonical)
	}

	if _, err := service.ValidateAndCanonicalizeRecipient("12345"); err == nil {
		t.Error("expected error for recipient with fewer than 6 digits")
	}
	if _, err := service.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
}

// Sends must not block when nothing drains the receipts channel.
func TestWhatsAppServiceSendMessageWithoutReceiptsConsumer(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultChannelBufferSize+1; i++ {
			if err := service.SendMessage(ctx, "15551234567", fmt.Sprintf("message %d", i)); err != nil {
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
