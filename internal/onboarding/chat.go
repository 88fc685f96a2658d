package onboarding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/DietPipe/internal/genai"
	"github.com/BTreeMap/DietPipe/internal/language"
	"github.com/BTreeMap/DietPipe/internal/models"
)

// DefaultChatHistoryLimit bounds how much conversation log is replayed as
// chat context.
const DefaultChatHistoryLimit = 20

// Chat handles the free-conversation phase after onboarding, replaying recent
// conversation log entries as model context.
type Chat struct {
	genaiClient genai.ClientInterface
}

// NewChat creates a chat handler backed by the GenAI client.
func NewChat(c genai.ClientInterface) *Chat {
	return &Chat{genaiClient: c}
}

// Reply answers a message from a user whose onboarding is finished.
func (c *Chat) Reply(ctx context.Context, profile *models.UserProfile, history []models.ConversationMessage, message string) (string, error) {
	system := coachPersona + fmt.Sprintf(
		" The user finished onboarding and has a plan. Answer their questions, keep them motivated, "+
			"and refer back to their plan when relevant. Reply in %s.\n\nTheir plan:\n%s",
		language.Name(profile.Language), profile.Plan)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(system))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(message))

	text, err := c.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("chat reply failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}
