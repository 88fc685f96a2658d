package onboarding

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/DietPipe/internal/genai"
	"github.com/BTreeMap/DietPipe/internal/language"
	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/schema"
	"github.com/BTreeMap/DietPipe/internal/store"
)

// Reply text used when a turn fails internally. The orchestrator always
// returns some reply; raw errors never reach the user.
const genericErrorReply = "Sorry, something went wrong on my side. Could you send that again in a moment?"

// Reply text used when plan generation fails; the profile stays complete so
// the next inbound message retries.
const planPendingReply = "I have everything I need and I'm putting your plan together. Message me again in a moment!"

// userIDNamespace is the fixed UUIDv5 namespace for deriving user IDs, so the
// same contact always resolves to the same profile.
var userIDNamespace = uuid.MustParse("9a7d8e2c-5f31-4d6b-8c0a-1e2f3a4b5c6d")

// UserID derives the stable user ID for an external contact identifier.
func UserID(contact string) string {
	return uuid.NewSHA1(userIDNamespace, []byte(contact)).String()
}

// keyedMutex serializes turns per user ID. Cross-user turns run concurrently.
// Entries are reference counted and removed once the last holder releases,
// so the map only holds users with an active turn.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*userLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &userLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Orchestrator is the single entry point for inbound messages. It resolves
// the user, drives the state machine, persists the results, and produces the
// reply text for the transport to send.
type Orchestrator struct {
	store     store.Store
	registry  *schema.Registry
	machine   *Machine
	questions *QuestionGenerator
	planner   *Planner
	chat      *Chat
	detector  *language.Detector
	locks     keyedMutex
}

// NewOrchestrator creates an orchestrator over the given store and GenAI
// client. A nil registry means the default diet profile registry.
func NewOrchestrator(st store.Store, genaiClient genai.ClientInterface, registry *schema.Registry) *Orchestrator {
	if registry == nil {
		registry = schema.Default()
	}
	return &Orchestrator{
		store:     st,
		registry:  registry,
		machine:   NewMachine(registry, NewExtractor(genaiClient)),
		questions: NewQuestionGenerator(genaiClient),
		planner:   NewPlanner(registry, genaiClient),
		chat:      NewChat(genaiClient),
		detector:  language.NewDetector(genaiClient),
	}
}

// HandleMessage processes one inbound message and returns the reply text.
// messageID is the transport's message identifier used for deduplication; it
// may be empty when the transport has none. The returned error is non-nil
// only for caller contract violations; internal failures produce a generic
// reply and are logged.
func (o *Orchestrator) HandleMessage(ctx context.Context, contact, messageID, text string) (string, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return "", models.ErrEmptyContact
	}
	userID := UserID(contact)
	slog.Info("Orchestrator.HandleMessage: inbound", "userID", userID, "messageID", messageID, "preview", preview(text))

	// Duplicate webhook deliveries re-send the last reply instead of being
	// fed to the state machine as a stale answer.
	if messageID != "" {
		fresh, err := o.store.RecordInbound(messageID, userID)
		if err != nil {
			slog.Error("Orchestrator.HandleMessage: dedup record failed, processing anyway", "error", err, "userID", userID)
		} else if !fresh {
			processed, perr := o.store.IsProcessed(messageID)
			if perr != nil {
				slog.Error("Orchestrator.HandleMessage: processed check failed, reprocessing", "error", perr, "messageID", messageID)
			}
			if processed {
				slog.Info("Orchestrator.HandleMessage: duplicate delivery", "userID", userID, "messageID", messageID)
				last, err := o.store.GetLastAssistantMessage(userID)
				if err == nil && last != "" {
					return last, nil
				}
			}
			// The original delivery died before its turn completed;
			// process the redelivery normally.
		}
	}

	unlock := o.locks.lock(userID)
	defer unlock()

	profile, err := o.store.GetProfile(userID)
	if err != nil {
		slog.Error("Orchestrator.HandleMessage: profile load failed", "error", err, "userID", userID)
		return genericErrorReply, nil
	}

	wasNew := profile == nil
	now := time.Now()
	if wasNew {
		p := models.UserProfile{
			UserID:    userID,
			Contact:   contact,
			State:     models.StateNew,
			Fields:    map[string]interface{}{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.store.CreateProfile(p); err != nil {
			slog.Error("Orchestrator.HandleMessage: profile create failed", "error", err, "userID", userID)
			return genericErrorReply, nil
		}
		profile = &p
		slog.Info("Orchestrator.HandleMessage: profile created", "userID", userID)
	}

	if err := o.store.AppendMessage(models.ConversationMessage{
		UserID: userID, Role: models.RoleUser, Content: text, CreatedAt: now,
	}); err != nil {
		slog.Error("Orchestrator.HandleMessage: inbound log append failed", "error", err, "userID", userID)
		return genericErrorReply, nil
	}

	reply := o.turn(ctx, profile, text, wasNew)

	if err := o.store.AppendMessage(models.ConversationMessage{
		UserID: userID, Role: models.RoleAssistant, Content: reply, CreatedAt: time.Now(),
	}); err != nil {
		// State is already persisted; still deliver the reply.
		slog.Error("Orchestrator.HandleMessage: outbound log append failed", "error", err, "userID", userID)
	}
	// A turn that failed persistence stays unprocessed so a redelivery of
	// the same message ID retries instead of resending the error reply.
	if messageID != "" && reply != genericErrorReply {
		if err := o.store.MarkProcessed(messageID); err != nil {
			slog.Error("Orchestrator.HandleMessage: mark processed failed", "error", err, "messageID", messageID)
		}
	}
	return reply, nil
}

// turn computes the reply for one inbound message and persists any state or
// profile changes. A persistence failure returns the generic error reply
// without advancing state, so the next message retries from the same point.
func (o *Orchestrator) turn(ctx context.Context, profile *models.UserProfile, text string, wasNew bool) string {
	userID := profile.UserID

	// First contact: welcome only, no field collection yet.
	if wasNew {
		reply := o.questions.Welcome(ctx, text)
		langPending := models.StateLanguagePending
		if err := o.store.UpdateProfile(userID, store.ProfileUpdate{State: &langPending}); err != nil {
			slog.Error("Orchestrator.turn: welcome state persist failed", "error", err, "userID", userID)
			return genericErrorReply
		}
		return reply
	}

	// First substantive message: detect language once, then start collecting.
	if profile.Language == "" {
		code := o.detector.Detect(ctx, text)
		first := o.machine.FirstUnsetField(profile)
		if first == nil {
			complete := models.StateComplete
			if err := o.store.UpdateProfile(userID, store.ProfileUpdate{Language: &code, State: &complete}); err != nil {
				slog.Error("Orchestrator.turn: language persist failed", "error", err, "userID", userID)
				return genericErrorReply
			}
			profile.Language = code
			profile.State = complete
			return o.deliverPlan(ctx, profile)
		}
		collecting := models.StateCollecting(first.Name)
		if err := o.store.UpdateProfile(userID, store.ProfileUpdate{Language: &code, State: &collecting}); err != nil {
			slog.Error("Orchestrator.turn: language persist failed", "error", err, "userID", userID)
			return genericErrorReply
		}
		profile.Language = code
		profile.State = collecting
		slog.Info("Orchestrator.turn: language detected, collection started", "userID", userID, "language", code, "field", first.Name)
		return o.questions.Question(ctx, *first, profile)
	}

	if fieldName, ok := profile.State.CollectingField(); ok {
		lastQuestion, err := o.store.GetLastAssistantMessage(userID)
		if err != nil {
			slog.Error("Orchestrator.turn: last question load failed", "error", err, "userID", userID)
			lastQuestion = ""
		}
		outcome := o.machine.Advance(ctx, profile, text, lastQuestion)

		if outcome.Clarify {
			field, ok := o.registry.Field(fieldName)
			if !ok {
				return genericErrorReply
			}
			return o.questions.Clarification(ctx, field, profile, outcome.Violation)
		}

		update := store.ProfileUpdate{State: &outcome.NextState}
		if outcome.AcceptedField != "" {
			update.Fields = map[string]interface{}{outcome.AcceptedField: outcome.AcceptedValue}
		}
		if err := o.store.UpdateProfile(userID, update); err != nil {
			slog.Error("Orchestrator.turn: field persist failed", "error", err, "userID", userID, "field", outcome.AcceptedField)
			return genericErrorReply
		}
		if outcome.AcceptedField != "" {
			profile.Fields[outcome.AcceptedField] = outcome.AcceptedValue
		}
		profile.State = outcome.NextState

		if outcome.NextState == models.StateComplete {
			return o.deliverPlan(ctx, profile)
		}
		return o.questions.Question(ctx, *outcome.NextField, profile)
	}

	switch profile.State {
	case models.StateComplete:
		// A previous plan attempt failed; retry from the stored profile.
		return o.deliverPlan(ctx, profile)

	case models.StateChatting:
		history, err := o.store.GetMessages(userID, DefaultChatHistoryLimit)
		if err != nil {
			slog.Error("Orchestrator.turn: history load failed", "error", err, "userID", userID)
			history = nil
		}
		// The current message was already appended to the log; do not replay
		// it twice.
		if n := len(history); n > 0 && history[n-1].Role == models.RoleUser && history[n-1].Content == text {
			history = history[:n-1]
		}
		reply, err := o.chat.Reply(ctx, profile, history, text)
		if err != nil {
			slog.Error("Orchestrator.turn: chat reply failed", "error", err, "userID", userID)
			return genericErrorReply
		}
		return reply

	default:
		slog.Error("Orchestrator.turn: unexpected state", "userID", userID, "state", profile.State)
		return genericErrorReply
	}
}

// deliverPlan generates the plan from a completed profile and, on success,
// stores it and moves the user to chatting. On failure the profile stays
// complete so the next message retries.
func (o *Orchestrator) deliverPlan(ctx context.Context, profile *models.UserProfile) string {
	plan, err := o.planner.GeneratePlan(ctx, profile)
	if err != nil {
		slog.Error("Orchestrator.deliverPlan: plan generation failed", "error", err, "userID", profile.UserID)
		return planPendingReply
	}
	chatting := models.StateChatting
	if err := o.store.UpdateProfile(profile.UserID, store.ProfileUpdate{Plan: &plan, State: &chatting}); err != nil {
		slog.Error("Orchestrator.deliverPlan: plan persist failed", "error", err, "userID", profile.UserID)
		return genericErrorReply
	}
	profile.Plan = plan
	profile.State = chatting
	slog.Info("Orchestrator.deliverPlan: plan delivered", "userID", profile.UserID)
	return plan
}

// preview truncates message text for logs so full message bodies stay out of
// log output.
func preview(text string) string {
	const max = 32
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
