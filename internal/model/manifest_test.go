package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() Manifest {
	return Manifest{
		SnapshotID:  "SNAP-20260801-120000",
		Status:      RunStatusSuccess,
		StartedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
		Stages: map[string]StageCounts{
			"fetch": {Processed: 40, CacheHits: 12, Failed: 1},
		},
		SourceCounts:  map[string]int{"faa_registry": 20},
		EntityCounts:  map[string]int{"school": 18, "pricing": 14},
		Rejections:    3,
		DataHashes:    map[string]string{"seeds": "abc"},
		Publishable:   true,
		SchemaVersion: "1",
	}
}

func TestManifest_SignAndVerify(t *testing.T) {
	m := sampleManifest()
	require.NoError(t, m.Sign())
	assert.NotEmpty(t, m.Checksum)
	assert.True(t, m.Verify())
}

func TestManifest_VerifyDetectsTampering(t *testing.T) {
	m := sampleManifest()
	require.NoError(t, m.Sign())

	m.Rejections = 0
	assert.False(t, m.Verify())
}

func TestManifest_VerifyRequiresChecksum(t *testing.T) {
	m := sampleManifest()
	assert.False(t, m.Verify())
}

func TestManifest_SignIsRepeatable(t *testing.T) {
	a := sampleManifest()
	b := sampleManifest()
	require.NoError(t, a.Sign())
	require.NoError(t, b.Sign())
	assert.Equal(t, a.Checksum, b.Checksum)
}

func TestStageCounts_Add(t *testing.T) {
	var c StageCounts
	c.Add(StageCounts{Processed: 5, CacheHits: 1})
	c.Add(StageCounts{Processed: 3, Failed: 2, Rejected: 1})

	assert.Equal(t, StageCounts{Processed: 8, CacheHits: 1, Rejected: 1, Failed: 2}, c)
}

func TestDataHash_Deterministic(t *testing.T) {
	type payload struct {
		A string `json:"a"`
		B int    `json:"b"`
	}

	h1, err := DataHash(payload{A: "x", B: 1})
	require.NoError(t, err)
	h2, err := DataHash(payload{A: "x", B: 1})
	require.NoError(t, err)
	h3, err := DataHash(payload{A: "x", B: 2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
