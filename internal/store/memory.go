// Package store provides storage backends for DietPipe.
//
// This file implements an in-memory store used in tests and ephemeral runs.
package store

import (
	"sync"
	"time"

	"github.com/BTreeMap/DietPipe/internal/models"
)

// InMemoryStore keeps all data in process memory. It is safe for concurrent
// use and intended for tests.
type InMemoryStore struct {
	mu       sync.Mutex
	profiles map[string]models.UserProfile
	messages map[string][]models.ConversationMessage
	dedup    map[string]DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]models.UserProfile),
		messages: make(map[string][]models.ConversationMessage),
		dedup:    make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) GetProfile(userID string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := p
	cp.Fields = copyFields(p.Fields)
	return &cp, nil
}

func (s *InMemoryStore) CreateProfile(p models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; ok {
		return models.ErrProfileExists
	}
	p.Fields = copyFields(p.Fields)
	s.profiles[p.UserID] = p
	return nil
}

func (s *InMemoryStore) UpdateProfile(userID string, update ProfileUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return models.ErrProfileNotFound
	}
	if update.Language != nil {
		p.Language = *update.Language
	}
	if update.State != nil {
		p.State = *update.State
	}
	if update.Plan != nil {
		p.Plan = *update.Plan
	}
	if len(update.Fields) > 0 {
		fields := copyFields(p.Fields)
		for k, v := range update.Fields {
			fields[k] = v
		}
		p.Fields = fields
	}
	p.UpdatedAt = time.Now()
	s.profiles[userID] = p
	return nil
}

func (s *InMemoryStore) AppendMessage(m models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.UserID] = append(s.messages[m.UserID], m)
	return nil
}

func (s *InMemoryStore) GetLastAssistantMessage(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[userID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			return msgs[i].Content, nil
		}
	}
	return "", nil
}

func (s *InMemoryStore) GetMessages(userID string, limit int) ([]models.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[userID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) IsProcessed(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return false, nil
	}
	return rec.ProcessedAt != nil, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
