package model

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType enumerates the value shapes accepted from the inference layer.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldInt    FieldType = "integer"
	FieldBool   FieldType = "boolean"
	FieldEnum   FieldType = "enum"
)

// FieldSpec declares the expected shape of one schema field. Inference
// output is validated against these at the stage boundary; nothing
// unvalidated flows downstream.
type FieldSpec struct {
	Key        string
	Type       FieldType
	EntityType string // school, program, pricing, metrics, attributes
	Enum       []string
	Min        *float64
	Max        *float64
	MaxLength  int
}

// FieldRegistry is an indexed collection of field specs.
type FieldRegistry struct {
	Specs  []FieldSpec
	byKey  map[string]*FieldSpec
	byType map[string][]*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(specs []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Specs:  specs,
		byKey:  make(map[string]*FieldSpec, len(specs)),
		byType: make(map[string][]*FieldSpec),
	}
	for i := range r.Specs {
		s := &r.Specs[i]
		r.byKey[s.Key] = s
		r.byType[s.EntityType] = append(r.byType[s.EntityType], s)
	}
	return r
}

// ByKey returns the spec for the given key, or nil.
func (r *FieldRegistry) ByKey(key string) *FieldSpec {
	return r.byKey[key]
}

// ByEntityType returns all specs belonging to the given entity type.
func (r *FieldRegistry) ByEntityType(entityType string) []*FieldSpec {
	return r.byType[entityType]
}

// Coerce validates a raw value against the spec and returns the cleaned
// value. A nil value is always accepted (abstention). The error message is
// suitable for a Rejection reason.
func (s *FieldSpec) Coerce(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch s.Type {
	case FieldString:
		str := fmt.Sprintf("%v", value)
		if s.MaxLength > 0 && len(str) > s.MaxLength {
			str = str[:s.MaxLength]
		}
		return str, nil

	case FieldNumber:
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("not a number: %v", value)
		}
		if s.Min != nil && n < *s.Min {
			return nil, fmt.Errorf("%v below minimum %v", n, *s.Min)
		}
		if s.Max != nil && n > *s.Max {
			return nil, fmt.Errorf("%v above maximum %v", n, *s.Max)
		}
		return n, nil

	case FieldInt:
		n, ok := toFloat(value)
		if !ok || n != float64(int64(n)) {
			return nil, fmt.Errorf("not an integer: %v", value)
		}
		if s.Min != nil && n < *s.Min {
			return nil, fmt.Errorf("%v below minimum %v", n, *s.Min)
		}
		if s.Max != nil && n > *s.Max {
			return nil, fmt.Errorf("%v above maximum %v", n, *s.Max)
		}
		return int(n), nil

	case FieldBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(v))
			if err != nil {
				return nil, fmt.Errorf("not a boolean: %v", value)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("not a boolean: %v", value)
		}

	case FieldEnum:
		str := fmt.Sprintf("%v", value)
		for _, e := range s.Enum {
			if strings.EqualFold(str, e) {
				return e, nil
			}
		}
		return nil, fmt.Errorf("%q outside declared set %v", str, s.Enum)

	default:
		return nil, fmt.Errorf("unknown field type %q", s.Type)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		cleaned := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(v))
		n, err := strconv.ParseFloat(cleaned, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func ptr(f float64) *float64 { return &f }

// SchoolFieldSpecs returns the default flight-school field registry.
func SchoolFieldSpecs() []FieldSpec {
	return []FieldSpec{
		{Key: "name", Type: FieldString, EntityType: "school", MaxLength: 200},
		{Key: "description", Type: FieldString, EntityType: "school", MaxLength: 2000},
		{Key: "phone", Type: FieldString, EntityType: "school", MaxLength: 20},
		{Key: "email", Type: FieldString, EntityType: "school", MaxLength: 254},
		{Key: "website", Type: FieldString, EntityType: "school", MaxLength: 500},
		{Key: "address", Type: FieldString, EntityType: "school", MaxLength: 300},
		{Key: "city", Type: FieldString, EntityType: "school", MaxLength: 100},
		{Key: "state", Type: FieldString, EntityType: "school", MaxLength: 50},
		{Key: "zip_code", Type: FieldString, EntityType: "school", MaxLength: 12},
		{Key: "latitude", Type: FieldNumber, EntityType: "school", Min: ptr(-90), Max: ptr(90)},
		{Key: "longitude", Type: FieldNumber, EntityType: "school", Min: ptr(-180), Max: ptr(180)},
		{Key: "nearest_airport_icao", Type: FieldString, EntityType: "school", MaxLength: 8},
		{Key: "airport_distance_miles", Type: FieldNumber, EntityType: "school", Min: ptr(0), Max: ptr(200)},
		{Key: "accreditation_type", Type: FieldEnum, EntityType: "attributes", Enum: []string{"Part 61", "Part 141", "Part 142"}},
		{Key: "certificate_number", Type: FieldString, EntityType: "attributes", MaxLength: 40},
		{Key: "va_approved", Type: FieldBool, EntityType: "attributes"},
		{Key: "founded_year", Type: FieldInt, EntityType: "attributes", Min: ptr(1900), Max: ptr(2100)},
		{Key: "employee_count", Type: FieldInt, EntityType: "metrics", Min: ptr(1), Max: ptr(1000)},
		{Key: "fleet_size", Type: FieldInt, EntityType: "metrics", Min: ptr(1), Max: ptr(500)},
		{Key: "student_capacity", Type: FieldInt, EntityType: "metrics", Min: ptr(1)},
		{Key: "google_rating", Type: FieldNumber, EntityType: "metrics", Min: ptr(1), Max: ptr(5)},
		{Key: "google_review_count", Type: FieldInt, EntityType: "metrics", Min: ptr(0)},
		{Key: "program_type", Type: FieldEnum, EntityType: "program", Enum: []string{"sport", "private_pilot", "instrument", "commercial", "cfi", "atp"}},
		{Key: "hourly_rate", Type: FieldNumber, EntityType: "pricing", Min: ptr(0)},
		{Key: "typical_hours", Type: FieldNumber, EntityType: "pricing", Min: ptr(0)},
		{Key: "total_cost", Type: FieldNumber, EntityType: "pricing", Min: ptr(0)},
		{Key: "duration_weeks", Type: FieldInt, EntityType: "program", Min: ptr(1), Max: ptr(416)},
		{Key: "cost_band", Type: FieldEnum, EntityType: "pricing", Enum: []string{"budget", "$5k-$10k", "$10k-$15k", "$15k-$25k", "$25k+"}},
	}
}
