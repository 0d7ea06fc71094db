package model

import "time"

// RawArtifact describes raw bytes fetched for one seed URL. Write-once per
// (seed, snapshot); the bytes live in the artifact store, keyed by hash.
type RawArtifact struct {
	SnapshotID  string    `json:"snapshot_id"`
	SourceID    string    `json:"source_id"`
	SeedID      string    `json:"seed_id"`
	URL         string    `json:"url"`
	ContentHash string    `json:"content_hash"`
	HTTPStatus  int       `json:"http_status"`
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
	RetryCount  int       `json:"retry_count"`
	CacheHit    bool      `json:"cache_hit,omitempty"`
}

// Section is one heading-delimited span of an extracted document.
type Section struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// TextQuality summarizes how much usable text an extraction produced.
type TextQuality struct {
	Chars    int     `json:"chars"`
	InkRatio float64 `json:"ink_ratio"` // non-whitespace chars / total chars
	Score    float64 `json:"score"`     // 0-1 composite
}

// ExtractedDocument is cleaned, section-tagged text derived from one
// RawArtifact. Never mutated after creation; regenerating it requires a
// new RawArtifact.
type ExtractedDocument struct {
	SnapshotID  string      `json:"snapshot_id"`
	SourceID    string      `json:"source_id"`
	SeedID      string      `json:"seed_id"`
	URL         string      `json:"url"`
	ContentHash string      `json:"content_hash"` // hash of the source artifact
	Sections    []Section   `json:"sections"`
	Quality     TextQuality `json:"quality"`
	LowQuality  bool        `json:"low_quality,omitempty"`
	ExtractedAt time.Time   `json:"extracted_at"`
}

// Text returns the full document text with section labels as headers.
func (d ExtractedDocument) Text() string {
	var out string
	for i, s := range d.Sections {
		if i > 0 {
			out += "\n\n"
		}
		out += "## " + s.Label + "\n" + s.Text
	}
	return out
}
