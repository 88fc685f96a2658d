package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/DietPipe/internal/genai"
	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/schema"
)

// ConfidenceThreshold is the minimum extraction confidence accepted. It is a
// policy constant: a result at exactly the threshold passes, anything below
// is treated as a failed extraction.
const ConfidenceThreshold = 0.7

// Extractor turns one freeform user message into a typed candidate value for
// the active field by delegating to the GenAI collaborator.
type Extractor struct {
	genaiClient genai.ClientInterface
}

// NewExtractor creates an extractor backed by the given GenAI client.
func NewExtractor(c genai.ClientInterface) *Extractor {
	return &Extractor{genaiClient: c}
}

// extractionPayload is the JSON shape the model is instructed to return.
type extractionPayload struct {
	Value      json.RawMessage `json:"value"`
	Unit       string          `json:"unit"`
	Confidence float64         `json:"confidence"`
}

// Extract interprets message as an answer for field, in the context of the
// last question asked. It never returns an error: any collaborator failure,
// unparseable response, or sub-threshold confidence yields a result with
// Valid=false, Confidence=0 and no typed value.
func (e *Extractor) Extract(ctx context.Context, field schema.FieldDefinition, message, lastQuestion, locale string) models.ExtractionResult {
	failed := models.ExtractionResult{FieldName: field.Name}

	raw, err := e.genaiClient.GeneratePrompt(ctx, extractionSystemPrompt(field, locale), extractionUserPrompt(field, message, lastQuestion))
	if err != nil {
		slog.Debug("Extractor.Extract: collaborator call failed", "field", field.Name, "error", err)
		return failed
	}
	failed.RawValue = raw

	var payload extractionPayload
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &payload); err != nil {
		slog.Debug("Extractor.Extract: response not parseable", "field", field.Name, "error", err)
		return failed
	}

	typed, err := coerceValue(field.Type, payload.Value)
	if err != nil {
		slog.Debug("Extractor.Extract: value coercion failed", "field", field.Name, "error", err)
		return failed
	}

	if payload.Confidence < ConfidenceThreshold {
		slog.Debug("Extractor.Extract: confidence below threshold", "field", field.Name, "confidence", payload.Confidence)
		return failed
	}

	return models.ExtractionResult{
		FieldName:    field.Name,
		RawValue:     raw,
		TypedValue:   typed,
		OriginalUnit: payload.Unit,
		Confidence:   payload.Confidence,
	}
}

func extractionSystemPrompt(field schema.FieldDefinition, locale string) string {
	var b strings.Builder
	b.WriteString("You extract one structured value from a user's chat message for a diet coaching profile.\n")
	fmt.Fprintf(&b, "The user writes in language %q; the value itself must be language-independent.\n", locale)
	fmt.Fprintf(&b, "Field: %s (%s). Purpose: %s.\n", field.Name, field.Type, field.Purpose)

	switch field.Type {
	case schema.FieldTypeNumber:
		fmt.Fprintf(&b, "Return \"value\" as a number.\n")
	case schema.FieldTypeMeasurement:
		fmt.Fprintf(&b, "Return \"value\" as a number normalized to %s, converting from whatever unit the user wrote (feet/inches, pounds, stone). Report the unit the user wrote in \"unit\".\n", field.Unit)
	case schema.FieldTypeEnum:
		fmt.Fprintf(&b, "Return \"value\" as exactly one of: %s. Map the user's wording onto the closest option.\n", strings.Join(field.Bounds.AllowedValues, ", "))
	case schema.FieldTypeDate:
		b.WriteString("Return \"value\" as the number of weeks from today the user means. Convert months to weeks (1 month = 4.33 weeks) and absolute dates to a week count.\n")
	default:
		b.WriteString("Return \"value\" as a short string.\n")
	}

	if len(field.Hints) > 0 {
		fmt.Fprintf(&b, "Phrases that often signal this field: %s.\n", strings.Join(field.Hints, ", "))
	}
	b.WriteString("Respond with strict JSON only, no prose: {\"value\": ..., \"unit\": \"...\", \"confidence\": 0.0-1.0}.\n")
	b.WriteString("Set confidence to how certain you are the user actually answered this field. If the message does not answer it, use a low confidence.")
	return b.String()
}

func extractionUserPrompt(field schema.FieldDefinition, message, lastQuestion string) string {
	if lastQuestion == "" {
		return fmt.Sprintf("User message: %s", message)
	}
	return fmt.Sprintf("Question asked: %s\nUser message: %s", lastQuestion, message)
}

// coerceValue converts the raw JSON value into the Go type the validator for
// this field type expects: float64 for numeric kinds, string otherwise.
func coerceValue(ft schema.FieldType, raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing value")
	}
	switch ft {
	case schema.FieldTypeNumber, schema.FieldTypeMeasurement, schema.FieldTypeDate:
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, nil
		}
		// Tolerate a numeric string like "65" or "65 kg".
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected a number, got %s", raw)
		}
		s = strings.TrimSpace(s)
		if i := strings.IndexFunc(s, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != '-'
		}); i > 0 {
			s = s[:i]
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		return n, nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected a string, got %s", raw)
		}
		return s, nil
	}
}

// stripCodeFences removes a markdown code fence the model sometimes wraps
// JSON responses in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
