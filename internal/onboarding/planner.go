package onboarding

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/DietPipe/internal/genai"
	"github.com/BTreeMap/DietPipe/internal/language"
	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/schema"
)

// Planner generates the diet plan from a completed profile. Unlike question
// generation there is no useful fallback text, so failures are returned to
// the caller, which keeps the profile in its completed state and retries on
// the next inbound message.
type Planner struct {
	genaiClient genai.ClientInterface
	registry    *schema.Registry
}

// NewPlanner creates a planner over the given registry and GenAI client.
func NewPlanner(registry *schema.Registry, c genai.ClientInterface) *Planner {
	return &Planner{genaiClient: c, registry: registry}
}

// GeneratePlan produces plan text from the completed profile. Recomputing
// from the same profile is safe; the only side effect of a retry is
// overwriting the stored plan.
func (p *Planner) GeneratePlan(ctx context.Context, profile *models.UserProfile) (string, error) {
	system := coachPersona + fmt.Sprintf(
		" Write the user's initial diet plan: a daily calorie target, a realistic weekly weight change, "+
			"meal guidance, and one piece of activity advice matched to their activity level. "+
			"Be specific to their numbers, stay safe and sustainable, and keep it under 200 words. Reply in %s.",
		language.Name(profile.Language))

	text, err := p.genaiClient.GeneratePrompt(ctx, system, p.profileReport(profile))
	if err != nil {
		return "", fmt.Errorf("plan generation failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("plan generation returned empty text")
	}
	return text, nil
}

// profileReport renders the profile in registry order for the plan prompt.
func (p *Planner) profileReport(profile *models.UserProfile) string {
	var b strings.Builder
	b.WriteString("User profile:\n")
	for _, f := range p.registry.OrderedFields() {
		value, ok := profile.Fields[f.Name]
		if !ok {
			continue
		}
		switch {
		case f.Type == schema.FieldTypeDate:
			fmt.Fprintf(&b, "- %s: %v weeks from now\n", fieldLabel(f.Name), value)
		case f.Unit != "":
			fmt.Fprintf(&b, "- %s: %v %s\n", fieldLabel(f.Name), value, f.Unit)
		default:
			fmt.Fprintf(&b, "- %s: %v\n", fieldLabel(f.Name), value)
		}
	}
	return b.String()
}
