// Package onboarding implements the dialogue engine that collects a user
// profile field by field: extraction of typed values from freeform messages,
// validation against the field schema, the conversation state machine, and
// the orchestrator that ties them to storage and messaging.
package onboarding

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/DietPipe/internal/schema"
)

// Constraint identifies which rule a candidate value violated.
type Constraint string

const (
	ConstraintRange      Constraint = "range"
	ConstraintLength     Constraint = "length"
	ConstraintMembership Constraint = "membership"
	ConstraintDuration   Constraint = "duration"
	ConstraintType       Constraint = "type"
)

// ValidationError describes a rejected candidate value.
type ValidationError struct {
	Field      string
	Constraint Constraint
	Detail     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s rejected (%s): %s", e.Field, e.Constraint, e.Detail)
}

// Validate checks a typed candidate against the field's bounds. It is pure:
// no I/O, no hidden state. On acceptance it returns the canonical value to
// store; on rejection it returns the violated constraint.
func Validate(field schema.FieldDefinition, candidate interface{}) (interface{}, *ValidationError) {
	switch field.Type {
	case schema.FieldTypeNumber, schema.FieldTypeMeasurement:
		n, ok := candidate.(float64)
		if !ok {
			return nil, &ValidationError{Field: field.Name, Constraint: ConstraintType, Detail: "expected a number"}
		}
		if n < field.Bounds.Min || n > field.Bounds.Max {
			return nil, &ValidationError{
				Field:      field.Name,
				Constraint: ConstraintRange,
				Detail:     fmt.Sprintf("must be between %g and %g", field.Bounds.Min, field.Bounds.Max),
			}
		}
		return n, nil

	case schema.FieldTypeText:
		s, ok := candidate.(string)
		if !ok {
			return nil, &ValidationError{Field: field.Name, Constraint: ConstraintType, Detail: "expected text"}
		}
		s = strings.TrimSpace(s)
		minLen := field.Bounds.MinLength
		if minLen == 0 {
			minLen = 1
		}
		// Length bounds count characters, not bytes, so multibyte input
		// is not penalized.
		if utf8.RuneCountInString(s) < minLen {
			return nil, &ValidationError{
				Field:      field.Name,
				Constraint: ConstraintLength,
				Detail:     fmt.Sprintf("must be at least %d characters", minLen),
			}
		}
		if field.Bounds.MaxLength > 0 && utf8.RuneCountInString(s) > field.Bounds.MaxLength {
			return nil, &ValidationError{
				Field:      field.Name,
				Constraint: ConstraintLength,
				Detail:     fmt.Sprintf("must be at most %d characters", field.Bounds.MaxLength),
			}
		}
		return s, nil

	case schema.FieldTypeEnum:
		s, ok := candidate.(string)
		if !ok {
			return nil, &ValidationError{Field: field.Name, Constraint: ConstraintType, Detail: "expected text"}
		}
		normalized := strings.ToLower(strings.TrimSpace(s))
		for _, allowed := range field.Bounds.AllowedValues {
			if normalized == strings.ToLower(allowed) {
				return allowed, nil
			}
		}
		return nil, &ValidationError{
			Field:      field.Name,
			Constraint: ConstraintMembership,
			Detail:     fmt.Sprintf("must be one of: %s", strings.Join(field.Bounds.AllowedValues, ", ")),
		}

	case schema.FieldTypeDate:
		// Date fields are expressed as a duration in weeks from now.
		weeks, ok := candidate.(float64)
		if !ok {
			return nil, &ValidationError{Field: field.Name, Constraint: ConstraintType, Detail: "expected a number of weeks"}
		}
		if weeks <= 0 {
			return nil, &ValidationError{
				Field:      field.Name,
				Constraint: ConstraintDuration,
				Detail:     "must be in the future",
			}
		}
		if field.Bounds.MaxWeeksAhead > 0 && weeks > float64(field.Bounds.MaxWeeksAhead) {
			return nil, &ValidationError{
				Field:      field.Name,
				Constraint: ConstraintDuration,
				Detail:     fmt.Sprintf("must be within %d weeks from now", field.Bounds.MaxWeeksAhead),
			}
		}
		return weeks, nil

	default:
		return nil, &ValidationError{
			Field:      field.Name,
			Constraint: ConstraintType,
			Detail:     fmt.Sprintf("unknown field type %q", field.Type),
		}
	}
}
