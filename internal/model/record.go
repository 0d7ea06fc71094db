package model

import "time"

// FieldValue is one extracted field with its confidence. Value nil with
// Confidence 0 is an explicit abstention, not an error.
type FieldValue struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// SchemaRecord is the structured output of LLM extraction for one school
// from one document. Multiple SchemaRecords per school are expected; they
// are merged during normalization.
type SchemaRecord struct {
	SeedID           string                `json:"seed_id"`
	Identity         Identity              `json:"identity"`
	SourceID         string                `json:"source_id"`
	SourceType       string                `json:"source_type"`
	SourceURL        string                `json:"source_url"`
	ExtractorVersion string                `json:"extractor_version"`
	AsOf             time.Time             `json:"as_of"`
	Fields           map[string]FieldValue `json:"fields"`
	Abstained        bool                  `json:"abstained,omitempty"`
	Manual           bool                  `json:"manual,omitempty"` // verified override record
}

// Provenance ties a field value back to where and when it was observed.
// Every populated NormalizedEntity field carries one.
type Provenance struct {
	SourceType       string    `json:"source_type"`
	SourceURL        string    `json:"source_url"`
	AsOf             time.Time `json:"as_of"`
	ExtractorVersion string    `json:"extractor_version"`
}

// NormalizedField is a validated, merged field with provenance and flags.
type NormalizedField struct {
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	Flags      []string   `json:"flags,omitempty"` // inconsistent, outlier, low_quality
}

// Flagged reports whether the field carries the given flag.
func (f NormalizedField) Flagged(flag string) bool {
	for _, fl := range f.Flags {
		if fl == flag {
			return true
		}
	}
	return false
}

// NormalizedEntity is the merged, validated representation of one school
// within one snapshot.
type NormalizedEntity struct {
	Key        string                     `json:"key"` // canonical identity key
	Identity   Identity                   `json:"identity"`
	SnapshotID string                     `json:"snapshot_id"`
	EntityType string                     `json:"entity_type"` // school, program, pricing, metrics, attributes
	Fields     map[string]NormalizedField `json:"fields"`
}

// Rejection records one field- or seed-level validation failure. Entities
// survive rejections; only the offending field is nulled.
type Rejection struct {
	EntityKey string `json:"entity_key,omitempty"`
	SeedID    string `json:"seed_id,omitempty"`
	Field     string `json:"field,omitempty"`
	Value     any    `json:"value,omitempty"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}
