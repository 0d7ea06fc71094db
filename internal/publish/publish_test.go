package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
)

type fakeSink struct {
	name string
	// fail the first n calls per batch key
	failFirst int

	mu      sync.Mutex
	calls   int
	batches [][]model.NormalizedEntity
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Publish(_ context.Context, _ string, batch []model.NormalizedEntity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return resilience.NewTransientError(eris.New("sink unavailable"), 503)
	}
	f.batches = append(f.batches, batch)
	return nil
}

func testEntities(n int) []model.NormalizedEntity {
	out := make([]model.NormalizedEntity, n)
	for i := range out {
		out[i] = model.NormalizedEntity{
			Key:        "school:example.com",
			EntityType: "school",
			Fields: map[string]model.NormalizedField{
				"name": {Value: "Example Flight Academy", Confidence: 0.9},
			},
		}
	}
	return out
}

func sealedManifest(t *testing.T, status model.RunStatus) *model.Manifest {
	t.Helper()
	m := &model.Manifest{
		SnapshotID:  "SNAP-20260828-120000",
		Status:      status,
		Publishable: status == model.RunStatusSuccess || status == model.RunStatusPartial,
	}
	require.NoError(t, m.Sign())
	return m
}

func fastPublisher(cfg config.PublishConfig, sinks ...Sink) *Publisher {
	p := New(cfg, sinks...)
	p.retry.InitialBackoff = time.Millisecond
	p.retry.MaxBackoff = 2 * time.Millisecond
	return p
}

func TestPublish_AllSinks(t *testing.T) {
	pg := &fakeSink{name: "postgres"}
	search := &fakeSink{name: "mongo"}
	p := fastPublisher(config.PublishConfig{BatchSize: 10}, pg, search)

	report, err := p.Publish(context.Background(), sealedManifest(t, model.RunStatusSuccess), testEntities(25))
	require.NoError(t, err)

	assert.True(t, report.Complete())
	assert.Equal(t, 25, report.Sinks["postgres"].Published)
	assert.Equal(t, 25, report.Sinks["mongo"].Published)
	assert.Len(t, pg.batches, 3) // 10 + 10 + 5
	assert.Len(t, search.batches, 3)
}

func TestPublish_RefusesUnpublishableSnapshot(t *testing.T) {
	pg := &fakeSink{name: "postgres"}
	p := fastPublisher(config.PublishConfig{}, pg)

	for _, status := range []model.RunStatus{model.RunStatusFailed, model.RunStatusCancelled} {
		_, err := p.Publish(context.Background(), sealedManifest(t, status), testEntities(1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not publishable")
	}
	assert.Equal(t, 0, pg.calls)
}

func TestPublish_RefusesTamperedManifest(t *testing.T) {
	p := fastPublisher(config.PublishConfig{}, &fakeSink{name: "postgres"})

	m := sealedManifest(t, model.RunStatusSuccess)
	m.Rejections = 999 // post-seal mutation

	_, err := p.Publish(context.Background(), m, testEntities(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestPublish_RetriesTransientBatchFailure(t *testing.T) {
	pg := &fakeSink{name: "postgres", failFirst: 2}
	p := fastPublisher(config.PublishConfig{BatchSize: 10, MaxAttempts: 3}, pg)

	report, err := p.Publish(context.Background(), sealedManifest(t, model.RunStatusSuccess), testEntities(5))
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Equal(t, 5, report.Sinks["postgres"].Published)
	assert.Equal(t, 3, pg.calls)
}

func TestPublish_SinkFailureDoesNotBlockOthers(t *testing.T) {
	pg := &fakeSink{name: "postgres", failFirst: 1000}
	search := &fakeSink{name: "mongo"}
	p := fastPublisher(config.PublishConfig{BatchSize: 10, MaxAttempts: 2}, pg, search)

	report, err := p.Publish(context.Background(), sealedManifest(t, model.RunStatusSuccess), testEntities(5))
	require.NoError(t, err)

	assert.False(t, report.Complete())
	assert.Equal(t, 5, report.Sinks["postgres"].Failed)
	assert.NotEmpty(t, report.Sinks["postgres"].Errors)
	assert.Equal(t, 5, report.Sinks["mongo"].Published)
}

func TestPublish_PartialSnapshotIsPublishable(t *testing.T) {
	pg := &fakeSink{name: "postgres"}
	p := fastPublisher(config.PublishConfig{}, pg)

	report, err := p.Publish(context.Background(), sealedManifest(t, model.RunStatusPartial), testEntities(3))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Sinks["postgres"].Published)
}

func TestPublish_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastPublisher(config.PublishConfig{}, &fakeSink{name: "postgres"})
	_, err := p.Publish(ctx, sealedManifest(t, model.RunStatusSuccess), testEntities(3))
	require.Error(t, err)
}
