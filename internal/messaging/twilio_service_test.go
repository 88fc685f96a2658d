package messaging

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/DietPipe/internal/twiliowhatsapp"
)

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "+15551234567" {
		t.Errorf("message not sent to canonical number: %+v", mock.SentMessages)
	}

	select {
	case r := <-svc.Receipts():
		if r.To != "15551234567" {
			t.Errorf("receipt for wrong recipient: %+v", r)
		}
	case <-time.After(time.Second):
		t.Error("expected a sent receipt")
	}
}

func TestTwilioServiceSendAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hello"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "hi there")
	form.Set("MessageSid", "SM123")

	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	svc.TwilioWebhookHandler(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	select {
	case r := <-svc.Responses():
		if r.From != "whatsapp:+15551234567" || r.Body != "hi there" || r.MessageID != "SM123" {
			t.Errorf("unexpected response: %+v", r)
		}
	case <-time.After(time.Second):
		t.Error("expected an emitted response")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")

	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	svc.TwilioWebhookHandler(w, req)
	if w.Code != 400 {
		t.Errorf("expected 400 for missing body, got %d", w.Code)
	}
}
