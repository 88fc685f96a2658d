package onboarding

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/schema"
)

func testRegistry() *schema.Registry {
	return schema.NewRegistry([]schema.FieldDefinition{
		{Name: "name", Type: schema.FieldTypeText, Required: true, Bounds: schema.Bounds{MaxLength: 100}},
		{Name: "age", Type: schema.FieldTypeNumber, Required: true, Bounds: schema.Bounds{Min: 18, Max: 100}},
		{Name: "target_weight", Type: schema.FieldTypeMeasurement, Required: true, Unit: "kg", Bounds: schema.Bounds{Min: 30, Max: 300}},
		{Name: "notes", Type: schema.FieldTypeText, Required: false, Bounds: schema.Bounds{MaxLength: 500}},
	})
}

func collectingProfile(field string, fields map[string]interface{}) *models.UserProfile {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	now := time.Now()
	return &models.UserProfile{
		UserID:    "u1",
		Contact:   "+15551234567",
		Language:  "en",
		State:     models.StateCollecting(field),
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFirstUnsetFieldFollowsRegistryOrder(t *testing.T) {
	m := NewMachine(testRegistry(), NewExtractor(&scriptedGenAI{}))

	p := collectingProfile("name", nil)
	if f := m.FirstUnsetField(p); f == nil || f.Name != "name" {
		t.Errorf("expected name first, got %+v", f)
	}

	p.Fields["name"] = "Sam"
	if f := m.FirstUnsetField(p); f == nil || f.Name != "age" {
		t.Errorf("expected age after name, got %+v", f)
	}

	// Optional fields never drive collection.
	p.Fields["age"] = float64(34)
	p.Fields["target_weight"] = float64(65)
	if f := m.FirstUnsetField(p); f != nil {
		t.Errorf("expected no remaining required field, got %+v", f)
	}
}

func TestAdvanceAcceptsAndMovesToNextField(t *testing.T) {
	m := NewMachine(testRegistry(), NewExtractor(&scriptedGenAI{extraction: `{"value": 34, "confidence": 0.9}`}))
	p := collectingProfile("age", map[string]interface{}{"name": "Sam"})

	out := m.Advance(context.Background(), p, "I'm 34", "How old are you?")
	if out.Clarify {
		t.Fatalf("expected acceptance, got clarify with violation %v", out.Violation)
	}
	if out.AcceptedField != "age" || out.AcceptedValue != float64(34) {
		t.Errorf("expected age=34 accepted, got %q=%v", out.AcceptedField, out.AcceptedValue)
	}
	if out.NextState != models.StateCollecting("target_weight") {
		t.Errorf("expected transition to collecting:target_weight, got %q", out.NextState)
	}
	if out.NextField == nil || out.NextField.Name != "target_weight" {
		t.Errorf("expected next field target_weight, got %+v", out.NextField)
	}
	if !out.Extraction.Valid {
		t.Error("accepted value must be marked valid")
	}
	// Advance never mutates the profile itself.
	if _, ok := p.Fields["age"]; ok {
		t.Error("Advance mutated the profile")
	}
}

func TestAdvanceCompletesOnLastRequiredField(t *testing.T) {
	m := NewMachine(testRegistry(), NewExtractor(&scriptedGenAI{extraction: `{"value": 65, "confidence": 0.9}`}))
	p := collectingProfile("target_weight", map[string]interface{}{"name": "Sam", "age": float64(34)})

	out := m.Advance(context.Background(), p, "65kg", "")
	if out.NextState != models.StateComplete {
		t.Errorf("expected complete, got %q", out.NextState)
	}
	if out.NextField != nil {
		t.Errorf("expected no next field, got %+v", out.NextField)
	}
}

func TestAdvanceValidationRejectionIsRetry(t *testing.T) {
	m := NewMachine(testRegistry(), NewExtractor(&scriptedGenAI{extraction: `{"value": 17, "confidence": 0.9}`}))
	p := collectingProfile("age", map[string]interface{}{"name": "Sam"})

	out := m.Advance(context.Background(), p, "I'm 17 years old", "")
	if !out.Clarify {
		t.Fatal("expected clarify on out-of-range value")
	}
	if out.Violation == nil || out.Violation.Constraint != ConstraintRange {
		t.Errorf("expected range violation, got %v", out.Violation)
	}
	if out.NextState != p.State {
		t.Errorf("rejection must not change state: got %q", out.NextState)
	}
	if out.AcceptedField != "" {
		t.Errorf("rejection must not carry a value, got %q", out.AcceptedField)
	}
	if out.Extraction.Valid {
		t.Error("rejected value must not be marked valid")
	}
}

func TestAdvanceExtractionFailureIsRetryWithoutViolation(t *testing.T) {
	m := NewMachine(testRegistry(), NewExtractor(&scriptedGenAI{extraction: "not json"}))
	p := collectingProfile("age", map[string]interface{}{"name": "Sam"})

	out := m.Advance(context.Background(), p, "maybe later", "")
	if !out.Clarify || out.Violation != nil {
		t.Errorf("expected clarify without violation, got %+v", out)
	}
	if out.NextState != p.State {
		t.Errorf("extraction failure must not change state: got %q", out.NextState)
	}
}
