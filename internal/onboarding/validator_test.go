package onboarding

import (
	"testing"

	"github.com/BTreeMap/DietPipe/internal/schema"
)

func TestValidateNumberBounds(t *testing.T) {
	field := schema.FieldDefinition{Name: "age", Type: schema.FieldTypeNumber, Bounds: schema.Bounds{Min: 18, Max: 100}}

	cases := []struct {
		name      string
		candidate interface{}
		wantOK    bool
		wantC     Constraint
	}{
		{"lower bound inclusive", float64(18), true, ""},
		{"upper bound inclusive", float64(100), true, ""},
		{"below range", float64(17), false, ConstraintRange},
		{"above range", float64(101), false, ConstraintRange},
		{"not a number", "eighteen", false, ConstraintType},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, violation := Validate(field, c.candidate)
			if c.wantOK {
				if violation != nil {
					t.Fatalf("expected acceptance, got %v", violation)
				}
				if got != c.candidate {
					t.Errorf("accepted value changed: %v -> %v", c.candidate, got)
				}
				return
			}
			if violation == nil {
				t.Fatalf("expected rejection, got accepted value %v", got)
			}
			if violation.Constraint != c.wantC {
				t.Errorf("expected constraint %q, got %q", c.wantC, violation.Constraint)
			}
		})
	}
}

func TestValidateText(t *testing.T) {
	field := schema.FieldDefinition{Name: "name", Type: schema.FieldTypeText, Bounds: schema.Bounds{MaxLength: 10}}

	if _, violation := Validate(field, "  "); violation == nil || violation.Constraint != ConstraintLength {
		t.Errorf("expected length rejection for whitespace, got %v", violation)
	}
	if _, violation := Validate(field, "a very long answer"); violation == nil || violation.Constraint != ConstraintLength {
		t.Errorf("expected length rejection for long text, got %v", violation)
	}
	got, violation := Validate(field, "  Sam ")
	if violation != nil {
		t.Fatalf("unexpected rejection: %v", violation)
	}
	if got != "Sam" {
		t.Errorf("expected trimmed value, got %q", got)
	}

	// Length bounds count characters: ten CJK characters fit a limit of
	// ten even though they are thirty bytes.
	if _, violation := Validate(field, "田中太郎田中太郎田中"); violation != nil {
		t.Errorf("unexpected rejection of multibyte name: %v", violation)
	}
	if _, violation := Validate(field, "田中太郎田中太郎田中太"); violation == nil || violation.Constraint != ConstraintLength {
		t.Errorf("expected length rejection for eleven characters, got %v", violation)
	}
}

func TestValidateEnum(t *testing.T) {
	field := schema.FieldDefinition{
		Name:   "activity_level",
		Type:   schema.FieldTypeEnum,
		Bounds: schema.Bounds{AllowedValues: []string{"sedentary", "lightly_active"}},
	}

	got, violation := Validate(field, " Sedentary ")
	if violation != nil {
		t.Fatalf("unexpected rejection: %v", violation)
	}
	if got != "sedentary" {
		t.Errorf("expected canonical allowed value, got %q", got)
	}

	if _, violation := Validate(field, "kind of active"); violation == nil || violation.Constraint != ConstraintMembership {
		t.Errorf("expected membership rejection, got %v", violation)
	}
}

func TestValidateDateDuration(t *testing.T) {
	field := schema.FieldDefinition{Name: "target_date", Type: schema.FieldTypeDate, Bounds: schema.Bounds{MaxWeeksAhead: 104}}

	if _, violation := Validate(field, float64(0)); violation == nil || violation.Constraint != ConstraintDuration {
		t.Errorf("expected duration rejection for zero weeks, got %v", violation)
	}
	if _, violation := Validate(field, float64(-3)); violation == nil || violation.Constraint != ConstraintDuration {
		t.Errorf("expected duration rejection for past date, got %v", violation)
	}
	if _, violation := Validate(field, float64(200)); violation == nil || violation.Constraint != ConstraintDuration {
		t.Errorf("expected duration rejection beyond limit, got %v", violation)
	}
	if got, violation := Validate(field, float64(104)); violation != nil || got != float64(104) {
		t.Errorf("expected limit to be inclusive, got %v, %v", got, violation)
	}
}
