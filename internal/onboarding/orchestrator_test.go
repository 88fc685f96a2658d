package onboarding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/store"
)

const testContact = "+15551234567"

func seedProfile(t *testing.T, st store.Store, state models.ConversationState, fields map[string]interface{}) string {
	t.Helper()
	if fields == nil {
		fields = map[string]interface{}{}
	}
	userID := UserID(testContact)
	now := time.Now()
	if err := st.CreateProfile(models.UserProfile{
		UserID:    userID,
		Contact:   testContact,
		Language:  "en",
		State:     state,
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed profile failed: %v", err)
	}
	return userID
}

func TestUserIDIsDeterministic(t *testing.T) {
	if UserID(testContact) != UserID(testContact) {
		t.Error("same contact must map to the same user ID")
	}
	if UserID(testContact) == UserID("+15557654321") {
		t.Error("different contacts must map to different user IDs")
	}
}

func TestHandleMessageEmptyContact(t *testing.T) {
	o := NewOrchestrator(store.NewInMemoryStore(), &scriptedGenAI{}, testRegistry())
	if _, err := o.HandleMessage(context.Background(), "  ", "m1", "hi"); !errors.Is(err, models.ErrEmptyContact) {
		t.Errorf("expected ErrEmptyContact, got %v", err)
	}
}

func TestNewUserGetsWelcomeWithoutCollection(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st, &scriptedGenAI{}, testRegistry())

	reply, err := o.HandleMessage(context.Background(), testContact, "m1", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Welcome! I'm Eric." {
		t.Errorf("expected welcome reply, got %q", reply)
	}

	p, err := st.GetProfile(UserID(testContact))
	if err != nil || p == nil {
		t.Fatalf("profile not created: %v", err)
	}
	if p.State != models.StateLanguagePending {
		t.Errorf("expected language_pending after welcome turn, got %q", p.State)
	}
	if len(p.Fields) != 0 {
		t.Errorf("welcome turn must not collect fields, got %+v", p.Fields)
	}

	// Both sides of the turn are in the log.
	msgs, err := st.GetMessages(p.UserID, 0)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("expected 2 log entries, got %d, %v", len(msgs), err)
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("log roles wrong: %+v", msgs)
	}
}

func TestRepeatedFirstContactCreatesOneProfile(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st, &scriptedGenAI{detect: "fr"}, testRegistry())

	if _, err := o.HandleMessage(context.Background(), testContact, "m1", "bonjour"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.HandleMessage(context.Background(), testContact, "m2", "bonjour encore"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := st.GetProfile(UserID(testContact))
	if err != nil || p == nil {
		t.Fatalf("profile missing: %v", err)
	}
	// Second message runs language detection and starts collection on the
	// same profile.
	if p.Language != "fr" {
		t.Errorf("expected detected language fr, got %q", p.Language)
	}
	if p.State != models.StateCollecting("name") {
		t.Errorf("expected collecting:name, got %q", p.State)
	}
}

func TestDuplicateDeliveryResendsLastReply(t *testing.T) {
	st := store.NewInMemoryStore()
	o := NewOrchestrator(st, &scriptedGenAI{}, testRegistry())

	first, err := o.HandleMessage(context.Background(), testContact, "m1", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := o.HandleMessage(context.Background(), testContact, "m1", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != first {
		t.Errorf("duplicate delivery should re-send last reply, got %q vs %q", again, first)
	}

	// The duplicate is not re-processed: state did not move past the
	// welcome turn.
	p, _ := st.GetProfile(UserID(testContact))
	if p.State != models.StateLanguagePending {
		t.Errorf("duplicate advanced state to %q", p.State)
	}
}

func TestOutOfRangeAnswerGetsClarification(t *testing.T) {
	st := store.NewInMemoryStore()
	userID := seedProfile(t, st, models.StateCollecting("age"), map[string]interface{}{"name": "Sam"})
	o := NewOrchestrator(st, &scriptedGenAI{extraction: `{"value": 17, "confidence": 0.9}`}, testRegistry())

	reply, err := o.HandleMessage(context.Background(), testContact, "m1", "I'm 17 years old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Let me ask that differently." {
		t.Errorf("expected clarification reply, got %q", reply)
	}

	p, _ := st.GetProfile(userID)
	if p.State != models.StateCollecting("age") {
		t.Errorf("rejection must not advance state, got %q", p.State)
	}
	if _, ok := p.Fields["age"]; ok {
		t.Error("rejected value must not be stored")
	}
}

func TestAcceptedAnswerAdvancesAndRoundTrips(t *testing.T) {
	st := store.NewInMemoryStore()
	userID := seedProfile(t, st, models.StateCollecting("age"), map[string]interface{}{"name": "Sam"})
	o := NewOrchestrator(st, &scriptedGenAI{extraction: `{"value": 34, "confidence": 0.9}`}, testRegistry())

	if _, err := o.HandleMessage(context.Background(), testContact, "m1", "I'm 34"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, _ := st.GetProfile(userID)
	if p.Fields["age"] != float64(34) {
		t.Errorf("accepted value must round-trip through the store, got %v", p.Fields["age"])
	}
	if p.State != models.StateCollecting("target_weight") {
		t.Errorf("expected advance to collecting:target_weight, got %q", p.State)
	}
	if p.Fields["name"] != "Sam" {
		t.Error("unrelated field clobbered by update")
	}
}

func TestCompletionGeneratesPlanAndMovesToChatting(t *testing.T) {
	st := store.NewInMemoryStore()
	userID := seedProfile(t, st, models.StateCollecting("target_weight"),
		map[string]interface{}{"name": "Sam", "age": float64(34)})
	ai := &scriptedGenAI{extraction: `{"value": 65, "unit": "kg", "confidence": 0.9}`, plan: "Your plan: eat well."}
	o := NewOrchestrator(st, ai, testRegistry())

	reply, err := o.HandleMessage(context.Background(), testContact, "m1", "65kg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Your plan: eat well." {
		t.Errorf("expected plan in reply, got %q", reply)
	}
	if ai.planCalls != 1 {
		t.Errorf("expected exactly one plan generation, got %d", ai.planCalls)
	}

	p, _ := st.GetProfile(userID)
	if p.State != models.StateChatting {
		t.Errorf("expected chatting after plan, got %q", p.State)
	}
	if p.Fields["target_weight"] != float64(65) {
		t.Errorf("expected target_weight 65 stored, got %v", p.Fields["target_weight"])
	}
	if p.Plan != "Your plan: eat well." {
		t.Errorf("plan not persisted: %q", p.Plan)
	}
}

func TestPlanFailureStaysCompleteAndRetries(t *testing.T) {
	st := store.NewInMemoryStore()
	userID := seedProfile(t, st, models.StateCollecting("target_weight"),
		map[string]interface{}{"name": "Sam", "age": float64(34)})
	ai := &scriptedGenAI{
		extraction: `{"value": 65, "confidence": 0.9}`,
		plan:       "Your plan: eat well.",
		planErr:    errors.New("upstream down"),
	}
	o := NewOrchestrator(st, ai, testRegistry())

	reply, err := o.HandleMessage(context.Background(), testContact, "m1", "65kg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != planPendingReply {
		t.Errorf("expected pending reply on plan failure, got %q", reply)
	}
	p, _ := st.GetProfile(userID)
	if p.State != models.StateComplete {
		t.Errorf("expected to remain complete, got %q", p.State)
	}

	// Next message retries plan generation from the stored profile.
	ai.planErr = nil
	reply, err = o.HandleMessage(context.Background(), testContact, "m2", "hello?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Your plan: eat well." {
		t.Errorf("expected plan on retry, got %q", reply)
	}
	p, _ = st.GetProfile(userID)
	if p.State != models.StateChatting {
		t.Errorf("expected chatting after retry, got %q", p.State)
	}
	if ai.planCalls != 2 {
		t.Errorf("expected two plan attempts, got %d", ai.planCalls)
	}
}

func TestChattingDelegatesToFreeChat(t *testing.T) {
	st := store.NewInMemoryStore()
	userID := seedProfile(t, st, models.StateChatting,
		map[string]interface{}{"name": "Sam", "age": float64(34), "target_weight": float64(65)})
	lang := "en"
	plan := "Your plan: eat well."
	if err := st.UpdateProfile(userID, store.ProfileUpdate{Language: &lang, Plan: &plan}); err != nil {
		t.Fatalf("seed plan failed: %v", err)
	}
	o := NewOrchestrator(st, &scriptedGenAI{chatReply: "You're doing great, Sam!"}, testRegistry())

	reply, err := o.HandleMessage(context.Background(), testContact, "m1", "how is my progress?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "You're doing great, Sam!" {
		t.Errorf("expected chat reply, got %q", reply)
	}
}

func TestKeyedMutexEvictsIdleEntries(t *testing.T) {
	var km keyedMutex

	unlockA := km.lock("user-a")
	unlockB := km.lock("user-b")
	if len(km.locks) != 2 {
		t.Fatalf("expected 2 live entries, got %d", len(km.locks))
	}
	unlockA()
	unlockB()
	if len(km.locks) != 0 {
		t.Errorf("expected idle entries to be evicted, got %d", len(km.locks))
	}

	// A contended key survives until the last holder releases.
	unlock := km.lock("user-a")
	released := make(chan struct{})
	go func() {
		u := km.lock("user-a")
		u()
		close(released)
	}()
	// The waiter has registered or will register; releasing must hand over.
	unlock()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	if len(km.locks) != 0 {
		t.Errorf("expected map empty after contention, got %d", len(km.locks))
	}
}

// failingStore wraps a working store and fails profile updates on demand.
type failingStore struct {
	store.Store
	failUpdate bool
}

func (f *failingStore) UpdateProfile(userID string, update store.ProfileUpdate) error {
	if f.failUpdate {
		return errors.New("db down")
	}
	return f.Store.UpdateProfile(userID, update)
}

// A redelivery of a message whose first delivery died mid-turn must be
// reprocessed, not answered with an earlier reply.
func TestRedeliveryAfterFailedTurnReprocesses(t *testing.T) {
	st := store.NewInMemoryStore()
	userID := seedProfile(t, st, models.StateCollecting("age"), map[string]interface{}{"name": "Sam"})
	if err := st.AppendMessage(models.ConversationMessage{
		UserID: userID, Role: models.RoleAssistant, Content: "How old are you?", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed message failed: %v", err)
	}

	fs := &failingStore{Store: st, failUpdate: true}
	o := NewOrchestrator(fs, &scriptedGenAI{extraction: `{"value": 34, "confidence": 0.9}`}, testRegistry())

	reply, err := o.HandleMessage(context.Background(), testContact, "m1", "I'm 34")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != genericErrorReply {
		t.Fatalf("expected generic error reply, got %q", reply)
	}

	// Store recovers and the transport redelivers the same message ID.
	fs.failUpdate = false
	reply, err = o.HandleMessage(context.Background(), testContact, "m1", "I'm 34")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply == "How old are you?" || reply == genericErrorReply {
		t.Errorf("redelivery should be reprocessed, got stale reply %q", reply)
	}
	p, _ := st.GetProfile(userID)
	if p.Fields["age"] != float64(34) {
		t.Errorf("redelivered answer must be stored, got %v", p.Fields["age"])
	}
	if p.State != models.StateCollecting("target_weight") {
		t.Errorf("redelivered answer must advance state, got %q", p.State)
	}

	// A further redelivery of the now-processed message re-sends the reply.
	again, err := o.HandleMessage(context.Background(), testContact, "m1", "I'm 34")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != reply {
		t.Errorf("processed duplicate should re-send last reply, got %q vs %q", again, reply)
	}
}

func TestPersistenceFailureDoesNotAdvanceState(t *testing.T) {
	st := store.NewInMemoryStore()
	userID := seedProfile(t, st, models.StateCollecting("age"), map[string]interface{}{"name": "Sam"})
	fs := &failingStore{Store: st, failUpdate: true}
	o := NewOrchestrator(fs, &scriptedGenAI{extraction: `{"value": 34, "confidence": 0.9}`}, testRegistry())

	reply, err := o.HandleMessage(context.Background(), testContact, "m1", "I'm 34")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != genericErrorReply {
		t.Errorf("expected generic error reply, got %q", reply)
	}

	p, _ := st.GetProfile(userID)
	if p.State != models.StateCollecting("age") {
		t.Errorf("failed write must not advance state, got %q", p.State)
	}
	if _, ok := p.Fields["age"]; ok {
		t.Error("failed write must not store the value")
	}

	// Once the store recovers, the same answer goes through.
	fs.failUpdate = false
	if _, err := o.HandleMessage(context.Background(), testContact, "m2", "I'm 34"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ = st.GetProfile(userID)
	if p.Fields["age"] != float64(34) {
		t.Errorf("retry after recovery should store the value, got %v", p.Fields["age"])
	}
}
