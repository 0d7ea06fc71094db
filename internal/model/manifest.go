package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// RunStatus is the completion status of one pipeline run.
type RunStatus string

const (
	RunStatusOpen      RunStatus = "open"
	RunStatusSuccess   RunStatus = "success"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StageCounts accumulates per-stage processing counts.
type StageCounts struct {
	Processed int `json:"processed"`
	CacheHits int `json:"cache_hits,omitempty"`
	Skipped   int `json:"skipped,omitempty"`
	Rejected  int `json:"rejected,omitempty"`
	Failed    int `json:"failed,omitempty"`
}

// Add accumulates counts from another StageCounts.
func (c *StageCounts) Add(other StageCounts) {
	c.Processed += other.Processed
	c.CacheHits += other.CacheHits
	c.Skipped += other.Skipped
	c.Rejected += other.Rejected
	c.Failed += other.Failed
}

// Manifest is the signed summary sealing one snapshot. Persisted before the
// publisher may mark the snapshot publishable.
type Manifest struct {
	SnapshotID    string                 `json:"snapshot_id"`
	Status        RunStatus              `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   time.Time              `json:"completed_at"`
	Stages        map[string]StageCounts `json:"stages"`
	SourceCounts  map[string]int         `json:"source_counts"`
	EntityCounts  map[string]int         `json:"entity_counts"` // per entity type
	Rejections    int                    `json:"rejections"`
	DataHashes    map[string]string      `json:"data_hashes"` // stage → sha256 of output
	Publishable   bool                   `json:"publishable"`
	Checksum      string                 `json:"checksum,omitempty"`
	SchemaVersion string                 `json:"schema_version"`
}

// Sign computes and stores the manifest checksum over its canonical JSON
// form (with Checksum cleared).
func (m *Manifest) Sign() error {
	m.Checksum = ""
	sum, err := DataHash(m)
	if err != nil {
		return err
	}
	m.Checksum = sum
	return nil
}

// Verify recomputes the checksum and reports whether it matches.
func (m Manifest) Verify() bool {
	stored := m.Checksum
	if stored == "" {
		return false
	}
	m.Checksum = ""
	sum, err := DataHash(m)
	return err == nil && sum == stored
}

// DataHash returns the sha256 hex digest of the canonical JSON encoding of v.
func DataHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
