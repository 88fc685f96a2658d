package onboarding

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/DietPipe/internal/models"
	"github.com/BTreeMap/DietPipe/internal/schema"
)

// Outcome is the state machine's decision for one turn. The machine only
// computes it; the orchestrator owns persisting the transition, so a crash
// before the write leaves the user in the prior state.
type Outcome struct {
	// NextState is the state to persist for this turn.
	NextState models.ConversationState

	// AcceptedField and AcceptedValue carry a validated value to persist.
	// AcceptedValue is nil on a retry turn.
	AcceptedField string
	AcceptedValue interface{}

	// Clarify is true when the turn is a retry: the reply should be a
	// clarification for the active field and nothing is persisted.
	Clarify bool

	// Violation is the validation failure behind a clarification, when one is
	// known. It is nil when the extraction itself failed.
	Violation *ValidationError

	// NextField is the field to ask about next, nil once collection is done.
	NextField *schema.FieldDefinition

	// Extraction is the extraction behind this transition, with Valid set
	// once the value passed validation. Zero when no extraction ran.
	Extraction models.ExtractionResult
}

// Machine decides state transitions for the collecting phase of onboarding.
type Machine struct {
	registry  *schema.Registry
	extractor *Extractor
}

// NewMachine creates a state machine over the given registry and extractor.
func NewMachine(registry *schema.Registry, extractor *Extractor) *Machine {
	return &Machine{registry: registry, extractor: extractor}
}

// FirstUnsetField returns the first required field in registry order that has
// no stored value yet, or nil when every required field is filled. Stored
// fields are never revisited.
func (m *Machine) FirstUnsetField(profile *models.UserProfile) *schema.FieldDefinition {
	for _, f := range m.registry.OrderedFields() {
		if !f.Required {
			continue
		}
		if !profile.HasField(f.Name) {
			def := f
			return &def
		}
	}
	return nil
}

// Advance processes one inbound message while the profile is in a
// collecting:<field> state and computes the resulting transition. It never
// mutates the profile.
func (m *Machine) Advance(ctx context.Context, profile *models.UserProfile, message, lastQuestion string) Outcome {
	fieldName, ok := profile.State.CollectingField()
	if !ok {
		slog.Error("Machine.Advance: called outside a collecting state", "state", profile.State)
		return Outcome{NextState: profile.State, Clarify: true}
	}
	field, ok := m.registry.Field(fieldName)
	if !ok {
		// A field was removed from the registry between deployments; skip
		// ahead rather than trapping the user.
		slog.Warn("Machine.Advance: unknown active field, skipping", "field", fieldName)
		return m.advancePast(profile, fieldName, nil)
	}

	result := m.extractor.Extract(ctx, field, message, lastQuestion, profile.Language)
	if result.TypedValue == nil || result.Confidence < ConfidenceThreshold {
		slog.Debug("Machine.Advance: extraction retry", "field", field.Name, "confidence", result.Confidence)
		return Outcome{NextState: profile.State, Clarify: true, NextField: &field, Extraction: result}
	}

	accepted, violation := Validate(field, result.TypedValue)
	if violation != nil {
		slog.Debug("Machine.Advance: validation retry", "field", field.Name, "constraint", violation.Constraint)
		return Outcome{NextState: profile.State, Clarify: true, Violation: violation, NextField: &field, Extraction: result}
	}
	result.Valid = true

	slog.Debug("Machine.Advance: field accepted", "field", field.Name, "confidence", result.Confidence)
	out := m.advancePast(profile, field.Name, accepted)
	out.Extraction = result
	return out
}

// advancePast computes the transition after fieldName is resolved (accepted
// or skipped): collect the next unset required field, or complete.
func (m *Machine) advancePast(profile *models.UserProfile, fieldName string, accepted interface{}) Outcome {
	out := Outcome{}
	if accepted != nil {
		out.AcceptedField = fieldName
		out.AcceptedValue = accepted
	}
	for _, f := range m.registry.OrderedFields() {
		if !f.Required || f.Name == fieldName || profile.HasField(f.Name) {
			continue
		}
		def := f
		out.NextField = &def
		out.NextState = models.StateCollecting(f.Name)
		return out
	}
	out.NextState = models.StateComplete
	return out
}
