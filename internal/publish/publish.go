// Package publish pushes normalized entities from a sealed snapshot into the
// downstream stores: the relational store of record and the search index.
// Sinks are independent; a failure in one never blocks the other, and per-sink
// results are reported so a partial publish is visible in the manifest.
package publish

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
)

// Sink is one publish destination. Publish must be idempotent: the pipeline
// retries failed batches and may replay a snapshot after a crash.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snapshotID string, batch []model.NormalizedEntity) error
}

// SinkReport summarizes one sink's outcome.
type SinkReport struct {
	Published int      `json:"published"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Report is the per-sink publish outcome for one snapshot.
type Report struct {
	SnapshotID string                `json:"snapshot_id"`
	Sinks      map[string]SinkReport `json:"sinks"`
}

// Complete reports whether every sink published every entity.
func (r *Report) Complete() bool {
	for _, s := range r.Sinks {
		if s.Failed > 0 {
			return false
		}
	}
	return true
}

// Publisher fans entities out to all configured sinks in batches.
type Publisher struct {
	sinks     []Sink
	batchSize int
	retry     resilience.RetryConfig
}

// New creates a Publisher. Zero config values fall back to defaults.
func New(cfg config.PublishConfig, sinks ...Sink) *Publisher {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	retry.MaxBackoff = 10 * time.Second
	return &Publisher{sinks: sinks, batchSize: batch, retry: retry}
}

// Publish pushes entities to every sink. The manifest gates the operation: an
// unpublishable snapshot (failed or cancelled run, unsealed manifest) is
// refused outright. Batches that exhaust their retries are counted and
// skipped; remaining batches and sinks still run.
func (p *Publisher) Publish(ctx context.Context, manifest *model.Manifest, entities []model.NormalizedEntity) (*Report, error) {
	if manifest == nil {
		return nil, eris.New("publish: nil manifest")
	}
	if !manifest.Verify() {
		return nil, eris.Errorf("publish: manifest checksum mismatch for %s", manifest.SnapshotID)
	}
	if !manifest.Publishable {
		return nil, eris.Errorf("publish: snapshot %s is not publishable (status %s)", manifest.SnapshotID, manifest.Status)
	}

	log := zap.L().Named("publish")
	report := &Report{SnapshotID: manifest.SnapshotID, Sinks: make(map[string]SinkReport)}

	for _, sink := range p.sinks {
		var sr SinkReport
		for start := 0; start < len(entities); start += p.batchSize {
			if err := ctx.Err(); err != nil {
				return report, eris.Wrap(err, "publish: cancelled")
			}
			end := start + p.batchSize
			if end > len(entities) {
				end = len(entities)
			}
			batch := entities[start:end]

			err := resilience.Do(ctx, p.retry, func(ctx context.Context) error {
				return sink.Publish(ctx, manifest.SnapshotID, batch)
			})
			if err != nil {
				log.Error("batch publish failed",
					zap.String("sink", sink.Name()),
					zap.String("snapshot", manifest.SnapshotID),
					zap.Int("batch_start", start),
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				sr.Failed += len(batch)
				sr.Errors = append(sr.Errors, err.Error())
				continue
			}
			sr.Published += len(batch)
		}
		report.Sinks[sink.Name()] = sr
		log.Info("sink done",
			zap.String("sink", sink.Name()),
			zap.Int("published", sr.Published),
			zap.Int("failed", sr.Failed),
		)
	}

	return report, nil
}
