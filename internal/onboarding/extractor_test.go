package onboarding

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/DietPipe/internal/schema"
)

// scriptedGenAI routes prompt calls by the system instruction so one mock can
// stand in for extraction, detection, question, and plan generation.
type scriptedGenAI struct {
	extraction    string
	extractionErr error
	detect        string
	plan          string
	planErr       error
	planCalls     int
	chatReply     string
	chatErr       error
}

func (m *scriptedGenAI) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	switch {
	case strings.Contains(system, "Respond with strict JSON"):
		if m.extractionErr != nil {
			return "", m.extractionErr
		}
		return m.extraction, nil
	case strings.Contains(system, "language detection expert"):
		if m.detect == "" {
			return "en", nil
		}
		return m.detect, nil
	case strings.Contains(system, "initial diet plan"):
		m.planCalls++
		if m.planErr != nil {
			return "", m.planErr
		}
		return m.plan, nil
	case strings.Contains(system, "brand-new user"):
		return "Welcome! I'm Eric.", nil
	case strings.Contains(system, "did not work"):
		return "Let me ask that differently.", nil
	default:
		return "Next question?", nil
	}
}

func (m *scriptedGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if m.chatErr != nil {
		return "", m.chatErr
	}
	if m.chatReply == "" {
		return "Happy to help!", nil
	}
	return m.chatReply, nil
}

func ageField() schema.FieldDefinition {
	return schema.FieldDefinition{Name: "age", Type: schema.FieldTypeNumber, Required: true, Bounds: schema.Bounds{Min: 18, Max: 100}}
}

func weightField() schema.FieldDefinition {
	return schema.FieldDefinition{Name: "target_weight", Type: schema.FieldTypeMeasurement, Required: true, Unit: "kg", Bounds: schema.Bounds{Min: 30, Max: 300}}
}

func TestExtractNumber(t *testing.T) {
	e := NewExtractor(&scriptedGenAI{extraction: `{"value": 34, "unit": "", "confidence": 0.95}`})
	res := e.Extract(context.Background(), ageField(), "I'm 34 years old", "How old are you?", "en")
	if res.TypedValue != float64(34) {
		t.Errorf("expected 34, got %v", res.TypedValue)
	}
	if res.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %v", res.Confidence)
	}
}

func TestExtractMeasurementKeepsOriginalUnit(t *testing.T) {
	e := NewExtractor(&scriptedGenAI{extraction: `{"value": 65.0, "unit": "lbs", "confidence": 0.9}`})
	res := e.Extract(context.Background(), weightField(), "about 143 pounds", "", "en")
	if res.TypedValue != float64(65) {
		t.Errorf("expected normalized 65, got %v", res.TypedValue)
	}
	if res.OriginalUnit != "lbs" {
		t.Errorf("expected original unit lbs, got %q", res.OriginalUnit)
	}
}

func TestExtractStripsCodeFences(t *testing.T) {
	e := NewExtractor(&scriptedGenAI{extraction: "```json\n{\"value\": 34, \"confidence\": 0.8}\n```"})
	res := e.Extract(context.Background(), ageField(), "34", "", "en")
	if res.TypedValue != float64(34) {
		t.Errorf("expected fenced JSON to parse, got %+v", res)
	}
}

func TestExtractNumericString(t *testing.T) {
	e := NewExtractor(&scriptedGenAI{extraction: `{"value": "65 kg", "confidence": 0.8}`})
	res := e.Extract(context.Background(), weightField(), "65kg", "", "en")
	if res.TypedValue != float64(65) {
		t.Errorf("expected 65 from numeric string, got %v", res.TypedValue)
	}
}

func TestExtractConfidenceBoundary(t *testing.T) {
	// Exactly at the threshold passes.
	e := NewExtractor(&scriptedGenAI{extraction: `{"value": 34, "confidence": 0.7}`})
	res := e.Extract(context.Background(), ageField(), "34", "", "en")
	if res.TypedValue == nil || res.Confidence != 0.7 {
		t.Errorf("confidence 0.7 should be accepted, got %+v", res)
	}

	// Just below fails with a zeroed confidence.
	e = NewExtractor(&scriptedGenAI{extraction: `{"value": 34, "confidence": 0.6999}`})
	res = e.Extract(context.Background(), ageField(), "34", "", "en")
	if res.TypedValue != nil || res.Confidence != 0 {
		t.Errorf("confidence 0.6999 should be rejected, got %+v", res)
	}
}

func TestExtractCollaboratorFailure(t *testing.T) {
	e := NewExtractor(&scriptedGenAI{extractionErr: fmt.Errorf("upstream down")})
	res := e.Extract(context.Background(), ageField(), "34", "", "en")
	if res.TypedValue != nil || res.Confidence != 0 || res.Valid {
		t.Errorf("collaborator failure should yield empty result, got %+v", res)
	}
}

func TestExtractUnparseableResponse(t *testing.T) {
	e := NewExtractor(&scriptedGenAI{extraction: "Sure! The user is 34."})
	res := e.Extract(context.Background(), ageField(), "34", "", "en")
	if res.TypedValue != nil || res.Confidence != 0 {
		t.Errorf("prose response should yield empty result, got %+v", res)
	}
	if res.RawValue == "" {
		t.Error("raw response should be kept for audit")
	}
}
