package inference

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wheelsup-data/flightschool-etl/internal/artifact"
	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// Extractor turns extracted documents into SchemaRecords via the provider
// chain.
type Extractor struct {
	cfg      config.InferenceConfig
	chain    *Chain
	registry *model.FieldRegistry
	cache    *resultCache
	now      func() time.Time
}

// NewExtractor creates the inference stage. mem is the run-wide HashCache
// shared with the fetch pool.
func NewExtractor(cfg config.InferenceConfig, chain *Chain, registry *model.FieldRegistry, mem *artifact.HashCache) (*Extractor, error) {
	cache, err := newResultCache(mem, cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:      cfg,
		chain:    chain,
		registry: registry,
		cache:    cache,
		now:      time.Now,
	}, nil
}

// ExtractFields runs inference over one document and returns a SchemaRecord.
// When every chunk fails on every provider the record is an abstention:
// empty fields, Abstained set, and no error. Fields that fail registry
// validation are dropped at this boundary and reported as rejections.
func (e *Extractor) ExtractFields(ctx context.Context, doc model.ExtractedDocument, seed model.SeedRecord, src model.Source) (model.SchemaRecord, []model.Rejection) {
	log := zap.L().Named("inference").With(
		zap.String("seed", seed.ID),
		zap.String("url", doc.URL),
	)

	rec := model.SchemaRecord{
		SeedID:           seed.ID,
		Identity:         seed.Identity,
		SourceID:         src.ID,
		SourceType:       src.SourceType,
		SourceURL:        doc.URL,
		ExtractorVersion: e.cfg.ExtractorVersion,
		AsOf:             e.now().UTC(),
		Fields:           make(map[string]model.FieldValue),
	}

	chunks := chunkSections(doc.Sections, e.cfg.ChunkTokenBudget)
	if len(chunks) == 0 {
		rec.Abstained = true
		return rec, nil
	}

	var rejections []model.Rejection
	succeeded := 0
	cacheHits := 0

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}

		key := chunkKey(chunk, e.cfg.ExtractorVersion)
		res, hit := e.cache.get(key)
		if hit {
			cacheHits++
		} else {
			var err error
			res, err = e.chain.Extract(ctx, chunk)
			if err != nil {
				log.Warn("chunk extraction failed", zap.Error(err))
				continue
			}
			e.cache.put(key, res)
		}
		succeeded++

		rejections = append(rejections, e.mergeFields(&rec, res, seed.ID)...)
	}

	if succeeded == 0 {
		// Model silence is a recorded outcome, not a pipeline failure.
		rec.Abstained = true
		rec.Fields = make(map[string]model.FieldValue)
	}

	log.Debug("document inference complete",
		zap.Int("chunks", len(chunks)),
		zap.Int("cache_hits", cacheHits),
		zap.Int("fields", len(rec.Fields)),
		zap.Bool("abstained", rec.Abstained),
	)
	return rec, rejections
}

// mergeFields validates chunk results against the registry and folds them
// into the record, keeping the highest-confidence value per field.
func (e *Extractor) mergeFields(rec *model.SchemaRecord, res *ProviderResult, seedID string) []model.Rejection {
	var rejections []model.Rejection
	for _, f := range res.Fields {
		spec := e.registry.ByKey(f.Name)
		if spec == nil {
			rejections = append(rejections, model.Rejection{
				SeedID: seedID,
				Field:  f.Name,
				Value:  f.Value,
				Stage:  "inference",
				Reason: "field not in registry",
			})
			continue
		}

		value, err := spec.Coerce(f.Value)
		if err != nil {
			rejections = append(rejections, model.Rejection{
				SeedID: seedID,
				Field:  f.Name,
				Value:  f.Value,
				Stage:  "inference",
				Reason: err.Error(),
			})
			continue
		}
		if value == nil {
			continue
		}

		if existing, ok := rec.Fields[f.Name]; !ok || f.Confidence > existing.Confidence {
			rec.Fields[f.Name] = model.FieldValue{Value: value, Confidence: f.Confidence}
		}
	}
	return rejections
}

// DocInput pairs a document with its seed and source for batch extraction.
type DocInput struct {
	Doc  model.ExtractedDocument
	Seed model.SeedRecord
	Src  model.Source
}

// ExtractAll runs ExtractFields over many documents with bounded
// concurrency and returns records in input order.
func (e *Extractor) ExtractAll(ctx context.Context, inputs []DocInput) ([]model.SchemaRecord, []model.Rejection, model.StageCounts) {
	records := make([]model.SchemaRecord, len(inputs))
	rejLists := make([][]model.Rejection, len(inputs))

	g, gCtx := errgroup.WithContext(ctx)
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	g.SetLimit(workers)

	for i, in := range inputs {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			records[i], rejLists[i] = e.ExtractFields(gCtx, in.Doc, in.Seed, in.Src)
			return nil
		})
	}
	_ = g.Wait()

	var counts model.StageCounts
	var rejections []model.Rejection
	for i := range records {
		if records[i].Fields == nil {
			// Cancelled before this slot ran.
			counts.Skipped++
			continue
		}
		counts.Processed++
		rejections = append(rejections, rejLists[i]...)
		counts.Rejected += len(rejLists[i])
	}
	return records, rejections, counts
}
