// Package schema defines the static field registry for the onboarding
// dialogue.
//
// The registry is pure data: an ordered list of field definitions whose order
// fixes collection priority. It is defined once at process start and never
// mutated; changing the order is a deployment concern, not a runtime one.
package schema

// FieldType is the closed set of field value types. Validation dispatches on
// this tag rather than on field names.
type FieldType string

const (
	// FieldTypeText is a freeform string with length bounds.
	FieldTypeText FieldType = "text"
	// FieldTypeNumber is a numeric value with an inclusive range.
	FieldTypeNumber FieldType = "number"
	// FieldTypeEnum is one of a fixed set of allowed values.
	FieldTypeEnum FieldType = "enum"
	// FieldTypeMeasurement is a numeric value normalized to a canonical unit
	// (cm for heights, kg for weights) regardless of the unit the user typed.
	FieldTypeMeasurement FieldType = "measurement"
	// FieldTypeDate is a calendar date validated as a duration from now.
	FieldTypeDate FieldType = "date"
)

// Bounds holds the validation limits for a field. Only the members relevant
// to the field's type are consulted.
type Bounds struct {
	Min           float64  // inclusive lower bound for number/measurement
	Max           float64  // inclusive upper bound for number/measurement
	MinLength     int      // minimum text length; 0 means the default of 1
	MaxLength     int      // maximum text length; 0 means unlimited
	AllowedValues []string // enum membership, compared case-insensitively
	MaxWeeksAhead int      // date fields: furthest allowed date, in weeks from now
}

// FieldDefinition describes one named, typed slot in the user profile.
type FieldDefinition struct {
	Name     string
	Type     FieldType
	Required bool
	Unit     string // canonical unit for measurement fields ("cm", "kg")
	Bounds   Bounds
	// Hints are lexical cues passed to the extractor as advisory context.
	Hints []string
	// Purpose is a short description used when generating questions.
	Purpose string
}

// Registry is an ordered, read-only collection of field definitions.
type Registry struct {
	ordered []FieldDefinition
	byName  map[string]FieldDefinition
}

// NewRegistry builds a registry preserving the given field order.
func NewRegistry(fields []FieldDefinition) *Registry {
	byName := make(map[string]FieldDefinition, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	return &Registry{ordered: fields, byName: byName}
}

// OrderedFields returns every field definition in collection order.
func (r *Registry) OrderedFields() []FieldDefinition {
	return r.ordered
}

// Field returns the definition for name. The second return value is false
// when no such field exists.
func (r *Registry) Field(name string) (FieldDefinition, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Default returns the registry for the diet coaching profile. Order is
// significant: it is the order fields are collected in.
func Default() *Registry {
	return NewRegistry([]FieldDefinition{
		{
			Name:     "name",
			Type:     FieldTypeText,
			Required: true,
			Bounds:   Bounds{MinLength: 1, MaxLength: 100},
			Hints:    []string{"call me", "my name is", "I'm"},
			Purpose:  "how the coach should address the user",
		},
		{
			Name:     "age",
			Type:     FieldTypeNumber,
			Required: true,
			Bounds:   Bounds{Min: 12, Max: 100},
			Hints:    []string{"years old", "yo", "aged", "I am", "I'm"},
			Purpose:  "age-appropriate metabolic and exercise recommendations",
		},
		{
			Name:     "gender",
			Type:     FieldTypeEnum,
			Required: true,
			Bounds:   Bounds{AllowedValues: []string{"male", "female", "other", "prefer_not_to_say"}},
			Purpose:  "personalized nutritional needs and body composition",
		},
		{
			Name:     "height_cm",
			Type:     FieldTypeMeasurement,
			Required: true,
			Unit:     "cm",
			Bounds:   Bounds{Min: 100, Max: 250},
			Hints:    []string{"tall", "height", "cm", "feet", "ft", "inches", "'", "\""},
			Purpose:  "body composition calculations",
		},
		{
			Name:     "start_weight",
			Type:     FieldTypeMeasurement,
			Required: true,
			Unit:     "kg",
			Bounds:   Bounds{Min: 30, Max: 300},
			Hints:    []string{"weigh", "kg", "lbs", "pounds", "kilos"},
			Purpose:  "current weight as the baseline for progress tracking",
		},
		{
			Name:     "target_weight",
			Type:     FieldTypeMeasurement,
			Required: true,
			Unit:     "kg",
			Bounds:   Bounds{Min: 30, Max: 300},
			Hints:    []string{"goal", "target", "reach", "kg", "lbs"},
			Purpose:  "the weight goal that sets the program direction",
		},
		{
			Name:     "target_date",
			Type:     FieldTypeDate,
			Required: true,
			Bounds:   Bounds{MaxWeeksAhead: 104},
			Hints:    []string{"by", "within", "weeks", "months", "around"},
			Purpose:  "when the user wants to reach the target weight",
		},
		{
			Name:     "activity_level",
			Type:     FieldTypeEnum,
			Required: true,
			Bounds:   Bounds{AllowedValues: []string{"sedentary", "lightly_active", "moderately_active", "very_active"}},
			Hints:    []string{"sedentary", "active", "exercise", "work", "sports", "walk", "run"},
			Purpose:  "daily energy expenditure for caloric needs",
		},
		{
			Name:     "dietary_restrictions",
			Type:     FieldTypeText,
			Required: false,
			Bounds:   Bounds{MinLength: 1, MaxLength: 500},
			Hints:    []string{"vegetarian", "vegan", "allergy", "halal", "kosher", "gluten"},
			Purpose:  "meal plan customization and food safety",
		},
		{
			Name:     "health_conditions",
			Type:     FieldTypeText,
			Required: false,
			Bounds:   Bounds{MinLength: 1, MaxLength: 500},
			Hints:    []string{"diabetes", "condition", "medication", "injury"},
			Purpose:  "program safety adaptations",
		},
	})
}
