// Package models defines the core data structures for DietPipe.
//
// It includes the user profile aggregate, conversation state, the append-only
// conversation log entry, and extraction results shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// ConversationState tracks where a user is in the onboarding dialogue.
// Collecting states carry the active field name as "collecting:<field>".
type ConversationState string

const (
	// StateNew marks a freshly created profile before any substantive message.
	StateNew ConversationState = "new"
	// StateLanguagePending marks a profile awaiting language detection.
	StateLanguagePending ConversationState = "language_pending"
	// StateComplete marks a profile with every required field stored.
	StateComplete ConversationState = "complete"
	// StateChatting marks a profile handed off to free conversation.
	StateChatting ConversationState = "chatting"

	// collectingPrefix prefixes states that collect a specific field.
	collectingPrefix = "collecting:"
)

// StateCollecting returns the collecting state for the given field name.
func StateCollecting(field string) ConversationState {
	return ConversationState(collectingPrefix + field)
}

// CollectingField returns the active field name and true when the state is a
// collecting state.
func (s ConversationState) CollectingField() (string, bool) {
	if !strings.HasPrefix(string(s), collectingPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), collectingPrefix), true
}

// IsValid reports whether the state is one of the documented states.
func (s ConversationState) IsValid() bool {
	switch s {
	case StateNew, StateLanguagePending, StateComplete, StateChatting:
		return true
	default:
		_, ok := s.CollectingField()
		return ok
	}
}

// UserProfile is the per-user aggregate built during onboarding.
//
// Fields holds every value that passed validation, keyed by field name; a
// field appears in the map if and only if it was accepted at least once, and
// a stored field is never overwritten by later answers.
type UserProfile struct {
	UserID    string                 `json:"user_id"`
	Contact   string                 `json:"contact"` // canonical transport contact identifier
	Language  string                 `json:"language,omitempty"`
	State     ConversationState      `json:"conversation_state"`
	Fields    map[string]interface{} `json:"fields"`
	Plan      string                 `json:"plan,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// HasField reports whether a validated value is stored for the field.
func (p *UserProfile) HasField(name string) bool {
	if p.Fields == nil {
		return false
	}
	_, ok := p.Fields[name]
	return ok
}

// MessageRole identifies the author of a conversation log entry.
type MessageRole string

const (
	// RoleUser marks an inbound participant message.
	RoleUser MessageRole = "user"
	// RoleAssistant marks an outbound coach message.
	RoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one append-only conversation log entry. Entries are
// never mutated or deleted; the log doubles as extraction context ("last
// question asked") and audit trail.
type ConversationMessage struct {
	UserID    string      `json:"user_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// ExtractionResult is the transient outcome of extracting one field value
// from one inbound message. It is never persisted.
//
// Valid is set only after the value passes validation: an extractor failure
// yields Valid=false with Confidence=0, and a validation rejection leaves
// Valid false even though type coercion succeeded.
type ExtractionResult struct {
	FieldName    string      `json:"field_name"`
	RawValue     string      `json:"raw_value"`
	TypedValue   interface{} `json:"typed_value"`
	OriginalUnit string      `json:"original_unit,omitempty"`
	Confidence   float64     `json:"confidence"`
	Valid        bool        `json:"valid"`
}

// Inbound is one webhook-delivered user message. MessageID is the transport
// message identifier when the transport provides one; it drives inbound
// deduplication and may be empty.
type Inbound struct {
	Contact   string `json:"contact"`
	MessageID string `json:"message_id,omitempty"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
}

// Response represents an incoming message event from a messaging service.
type Response struct {
	From      string `json:"from"`
	MessageID string `json:"message_id,omitempty"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records a delivery status event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Error variables shared across modules.
var (
	ErrEmptyContact    = errors.New("contact identifier cannot be empty")
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("profile already exists")
	ErrInvalidState    = errors.New("invalid conversation state")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for API endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
