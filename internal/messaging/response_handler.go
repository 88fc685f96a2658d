package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/DietPipe/internal/models"
)

// Handler processes one inbound message and returns the reply text to send.
// The onboarding orchestrator is the production implementation.
type Handler interface {
	HandleMessage(ctx context.Context, contact, messageID, text string) (string, error)
}

// ResponseHandler drains a messaging service's inbound responses, routes each
// through the Handler, and sends the reply back over the same service.
type ResponseHandler struct {
	msgService Service
	handler    Handler
}

// NewResponseHandler creates a ResponseHandler over the given service and handler.
func NewResponseHandler(msgService Service, handler Handler) *ResponseHandler {
	return &ResponseHandler{msgService: msgService, handler: handler}
}

// Start consumes the service's response channel until the context ends or
// the channel closes. It is meant to run in its own goroutine.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Debug("ResponseHandler starting")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("ResponseHandler stopping due to context cancellation")
			return
		case response, ok := <-rh.msgService.Responses():
			if !ok {
				slog.Debug("ResponseHandler stopping, responses channel closed")
				return
			}
			if err := rh.ProcessResponse(ctx, response); err != nil {
				slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
			}
		}
	}
}

// ProcessResponse handles one inbound message end to end: canonicalize the
// sender, compute the reply, and send it.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	reply, err := rh.handler.HandleMessage(ctx, canonicalFrom, response.MessageID, response.Body)
	if err != nil {
		return fmt.Errorf("handler failed for %s: %w", canonicalFrom, err)
	}
	if reply == "" {
		return nil
	}
	if err := rh.msgService.SendMessage(ctx, canonicalFrom, reply); err != nil {
		return fmt.Errorf("failed to send reply to %s: %w", canonicalFrom, err)
	}
	slog.Debug("ResponseHandler reply sent", "to", canonicalFrom, "reply_length", len(reply))
	return nil
}
