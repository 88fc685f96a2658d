package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DietPipe/internal/genai"
	"github.com/BTreeMap/DietPipe/internal/language"
	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/schema"
)

// coachPersona is the voice used for every generated message.
const coachPersona = "You are Eric, a warm, encouraging diet coach chatting over a messaging app. " +
	"Keep messages short (1-3 sentences), friendly, and free of markdown."

// fallbackWelcome is used when the collaborator cannot produce a welcome.
const fallbackWelcome = "Hi! I'm Eric, your personal diet coach. I'll ask you a few quick questions to build your plan. Ready when you are!"

// QuestionGenerator produces the natural-language side of the dialogue:
// welcome, per-field questions, and clarifications. Every method degrades to
// a fixed template on collaborator failure so the conversation never stalls.
type QuestionGenerator struct {
	genaiClient genai.ClientInterface
}

// NewQuestionGenerator creates a question generator backed by the GenAI client.
func NewQuestionGenerator(c genai.ClientInterface) *QuestionGenerator {
	return &QuestionGenerator{genaiClient: c}
}

// Welcome greets a brand-new user before any field collection starts.
func (q *QuestionGenerator) Welcome(ctx context.Context, firstMessage string) string {
	system := coachPersona + " Greet a brand-new user who just messaged you for the first time. " +
		"Introduce yourself and say you will ask a few questions to build their personal plan. " +
		"Reply in the same language as their message."
	text, err := q.genaiClient.GeneratePrompt(ctx, system, firstMessage)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Debug("QuestionGenerator.Welcome: falling back to template", "error", err)
		return fallbackWelcome
	}
	return strings.TrimSpace(text)
}

// Question asks the user for the given field in their language.
func (q *QuestionGenerator) Question(ctx context.Context, field schema.FieldDefinition, profile *models.UserProfile) string {
	system := coachPersona + fmt.Sprintf(
		" Ask the user one question to learn their %s (%s). Reply in %s.",
		fieldLabel(field.Name), field.Purpose, language.Name(profile.Language))
	user := fmt.Sprintf("Known so far: %s", profileSummary(profile))
	text, err := q.genaiClient.GeneratePrompt(ctx, system, user)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Debug("QuestionGenerator.Question: falling back to template", "field", field.Name, "error", err)
		return fmt.Sprintf("Could you tell me your %s?", fieldLabel(field.Name))
	}
	return strings.TrimSpace(text)
}

// Clarification re-asks for a field after a failed answer. When a validation
// violation is known, the message cites the violated constraint; otherwise it
// is a generic rephrase distinct from the original question.
func (q *QuestionGenerator) Clarification(ctx context.Context, field schema.FieldDefinition, profile *models.UserProfile, violation *ValidationError) string {
	constraint := ""
	if violation != nil {
		constraint = fmt.Sprintf(" Their last answer was rejected because it %s; mention that gently.", violation.Detail)
	}
	system := coachPersona + fmt.Sprintf(
		" The user's last answer for their %s did not work.%s Rephrase the question differently than before. Reply in %s.",
		fieldLabel(field.Name), constraint, language.Name(profile.Language))
	text, err := q.genaiClient.GeneratePrompt(ctx, system, fmt.Sprintf("Field: %s (%s)", field.Name, field.Type))
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Debug("QuestionGenerator.Clarification: falling back to template", "field", field.Name, "error", err)
		if violation != nil {
			return fmt.Sprintf("Sorry, I couldn't use that: your %s %s. Could you try again?", fieldLabel(field.Name), violation.Detail)
		}
		return fmt.Sprintf("Sorry, I didn't catch your %s. Could you say it another way?", fieldLabel(field.Name))
	}
	return strings.TrimSpace(text)
}

// fieldLabel turns a field name into words for prompts and templates.
func fieldLabel(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// profileSummary renders the collected fields as prompt context. Values are
// included verbatim; contact identifiers are not.
func profileSummary(p *models.UserProfile) string {
	if len(p.Fields) == 0 {
		return "nothing yet"
	}
	parts := make([]string, 0, len(p.Fields))
	for name, value := range p.Fields {
		parts = append(parts, fmt.Sprintf("%s=%v", name, value))
	}
	return strings.Join(parts, ", ")
}
