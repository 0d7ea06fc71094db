// Package pipeline wires the snapshot ETL stages end to end: catalog →
// fetch → extract → inference → normalize → seal → publish. Stages hand off
// through durable intermediates under the snapshot data directory, and every
// stage reports its counts to the snapshot ledger.
package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/artifact"
	"github.com/wheelsup-data/flightschool-etl/internal/catalog"
	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/extract"
	"github.com/wheelsup-data/flightschool-etl/internal/fetch"
	"github.com/wheelsup-data/flightschool-etl/internal/identity"
	"github.com/wheelsup-data/flightschool-etl/internal/inference"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
	"github.com/wheelsup-data/flightschool-etl/internal/normalize"
	"github.com/wheelsup-data/flightschool-etl/internal/ocr"
	"github.com/wheelsup-data/flightschool-etl/internal/publish"
	"github.com/wheelsup-data/flightschool-etl/internal/snapshot"
)

// RejectionSink persists the rejection log alongside published entities.
type RejectionSink interface {
	PublishRejections(ctx context.Context, snapshotID string, rejections []model.Rejection) error
}

// Options carries the injectable pieces of a Pipeline. Everything left nil
// gets a production default, except Publisher and RejectionSink which stay
// off when unset.
type Options struct {
	Lister        catalog.Lister
	Chain         *inference.Chain
	Browser       fetch.Fetcher
	Publisher     *publish.Publisher
	RejectionSink RejectionSink
}

// Pipeline runs one snapshot end to end.
type Pipeline struct {
	cfg        *config.Config
	ledger     *snapshot.Ledger
	builder    *catalog.Builder
	pool       *fetch.Pool
	stage      *extract.Stage
	extractor  *inference.Extractor
	normalizer *normalize.Normalizer
	publisher  *publish.Publisher
	rejections RejectionSink
	store      *artifact.Store
	now        func() time.Time
}

// New assembles a Pipeline from configuration.
func New(cfg *config.Config, ledger *snapshot.Ledger, opts Options) (*Pipeline, error) {
	store, err := artifact.NewStore(cfg.Snapshot.DataDir)
	if err != nil {
		return nil, err
	}
	cache := artifact.NewHashCache()

	timeout := time.Duration(cfg.Fetch.TimeoutSecs) * time.Second
	static := fetch.NewStaticFetcher(timeout, cfg.Fetch.UserAgent, cfg.Fetch.AllowedTypes)
	browser := opts.Browser
	if browser == nil {
		browser = fetch.NewBrowserFetcher(time.Duration(cfg.Fetch.BrowserTimeout)*time.Second, cfg.Fetch.UserAgent)
	}
	pool := fetch.NewPool(cfg.Fetch, store, cache, static, browser)

	pdfLocal, err := ocr.NewExtractor(config.OCRConfig{Provider: "local", PdfToTextPath: cfg.OCR.PdfToTextPath})
	if err != nil {
		return nil, err
	}
	pdfOCR, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, err
	}

	registry := model.NewFieldRegistry(model.SchoolFieldSpecs())
	extractor, err := inference.NewExtractor(cfg.Inference, opts.Chain, registry, cache)
	if err != nil {
		return nil, err
	}

	facilityCodes, err := identity.LoadFacilityCodes(cfg.Sources.FacilityPath)
	if err != nil && !os.IsNotExist(eris.Cause(err)) {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		ledger:     ledger,
		builder:    catalog.NewBuilder(identity.NewResolver(facilityCodes), opts.Lister),
		pool:       pool,
		stage:      extract.NewStage(cfg.Extract, pdfLocal, pdfOCR),
		extractor:  extractor,
		normalizer: normalize.New(cfg.Normalize, registry),
		publisher:  opts.Publisher,
		rejections: opts.RejectionSink,
		store:      store,
		now:        time.Now,
	}, nil
}

// Result is the outcome of one pipeline run.
type Result struct {
	Manifest      *model.Manifest
	ManifestPath  string
	Entities      []model.NormalizedEntity
	PublishReport *publish.Report
}

// Run executes one snapshot. An empty snapshotID generates one from the
// current time. On cancellation the run is sealed with a cancelled manifest
// and the context error is returned.
func (p *Pipeline) Run(ctx context.Context, snapshotID string) (*Result, error) {
	id := snapshotID
	if id == "" {
		id = snapshot.NewID(p.now())
	}

	// The ledger row must exist even when the run is cancelled immediately,
	// so the cancelled manifest has somewhere to land.
	run, err := p.ledger.Open(sealContext(ctx), id)
	if err != nil {
		return nil, err
	}

	log := zap.L().Named("pipeline").With(zap.String("snapshot", id))
	log.Info("run started")

	// Stage 1: catalog.
	sources, err := model.LoadSources(p.cfg.Sources.Path)
	if err != nil {
		return nil, p.abort(ctx, run, err)
	}
	seeds, report, err := p.builder.BuildSeeds(ctx, sources)
	if err != nil {
		return nil, p.abort(ctx, run, err)
	}
	for sid, n := range report.SourceCounts {
		run.AddSourceCount(sid, n)
	}
	if err := run.Record(sealContext(ctx), "catalog", model.StageCounts{
		Processed: len(seeds),
		Skipped:   len(report.SkippedSources),
	}); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	if err := p.writeStage(run, "seeds", seeds); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	log.Info("catalog built", zap.Int("seeds", len(seeds)), zap.Int("merges", len(report.Merges)))

	srcByID := make(map[string]model.Source, len(sources))
	for _, s := range sources {
		srcByID[s.ID] = s
	}
	seedByID := make(map[string]model.SeedRecord, len(seeds))
	for _, s := range seeds {
		seedByID[s.ID] = s
	}

	// Stage 2: fetch.
	results, fetchCounts := p.pool.Run(ctx, id, seeds, srcByID)
	if err := run.Record(sealContext(ctx), "fetch", fetchCounts); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, p.abort(ctx, run, err)
	}

	// Stage 3: extract.
	var (
		docs          []model.ExtractedDocument
		inputs        []inference.DocInput
		extractCounts model.StageCounts
	)
	for _, res := range results {
		if res.Err != nil || res.Artifact == nil {
			continue
		}
		art := *res.Artifact
		body, _, err := p.store.Get(art.SnapshotID, art.SourceID, art.SeedID, art.ContentHash)
		if err != nil {
			log.Warn("artifact unreadable", zap.String("seed", art.SeedID), zap.Error(err))
			extractCounts.Failed++
			continue
		}
		doc, err := p.stage.Extract(ctx, art, body)
		if err != nil {
			log.Warn("extraction failed", zap.String("url", art.URL), zap.Error(err))
			extractCounts.Failed++
			continue
		}
		extractCounts.Processed++
		docs = append(docs, doc)
		inputs = append(inputs, inference.DocInput{
			Doc:  doc,
			Seed: seedByID[art.SeedID],
			Src:  srcByID[art.SourceID],
		})
	}
	if err := run.Record(sealContext(ctx), "extract", extractCounts); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	if err := p.writeStage(run, "extracted", docs); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, p.abort(ctx, run, err)
	}

	// Stage 4: inference.
	records, infRejections, infCounts := p.extractor.ExtractAll(ctx, inputs)
	if err := run.Record(sealContext(ctx), "inference", infCounts); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	if err := p.writeStage(run, "inferred", records); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, p.abort(ctx, run, err)
	}

	// Stage 5: normalize, behind the per-entity join barrier.
	manual, err := LoadManualOverrides(p.cfg.Sources.OverridesPath, p.now())
	if err != nil {
		return nil, p.abort(ctx, run, err)
	}
	entities, normRejections := p.normalizeAll(id, append(records, manual...))
	flagged := p.normalizer.FlagOutliers(entities)

	allRejections := append(infRejections, normRejections...)
	run.AddRejections(len(allRejections))
	typeCounts := make(map[string]int)
	for _, ent := range entities {
		typeCounts[ent.EntityType]++
	}
	for entityType, n := range typeCounts {
		run.AddEntityCount(entityType, n)
	}
	if err := run.Record(sealContext(ctx), "normalize", model.StageCounts{
		Processed: len(entities),
		Rejected:  len(normRejections),
	}); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	if err := p.writeStage(run, "entities", entities); err != nil {
		return nil, p.abort(ctx, run, err)
	}
	log.Info("normalized",
		zap.Int("entities", len(entities)),
		zap.Int("rejections", len(allRejections)),
		zap.Int("outliers_flagged", flagged),
	)

	// Seal before any publishing may happen.
	status := runStatus(ctx, len(seeds), len(entities), fetchCounts, extractCounts, infCounts)
	manifest, err := run.Seal(sealContext(ctx), status)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Manifest:     manifest,
		ManifestPath: filepath.Join(p.cfg.Snapshot.DataDir, id, "manifest.json"),
		Entities:     entities,
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	// Stage 6: publish.
	if p.publisher != nil && manifest.Publishable {
		pubReport, err := p.publisher.Publish(ctx, manifest, entities)
		if err != nil {
			return result, err
		}
		result.PublishReport = pubReport
		if p.rejections != nil && len(allRejections) > 0 {
			if err := p.rejections.PublishRejections(ctx, id, allRejections); err != nil {
				log.Error("rejection log publish failed", zap.Error(err))
			}
		}
	}

	log.Info("run finished", zap.String("status", string(manifest.Status)))
	return result, nil
}

// entityGroup gathers all records for one real-world school, keyed by any
// shared canonical identifier rather than exact identity equality, so a
// manual override naming only the school's phone still joins records whose
// identity prefers the domain.
type entityGroup struct {
	identity model.Identity
	records  []model.SchemaRecord
}

// normalizeAll groups records by canonical identity and merges each group.
// Records whose identity resolved to nothing cannot join any entity and are
// rejected.
func (p *Pipeline) normalizeAll(snapshotID string, records []model.SchemaRecord) ([]model.NormalizedEntity, []model.Rejection) {
	var groups []*entityGroup
	var rejections []model.Rejection
	for _, rec := range records {
		if rec.Identity.Empty() {
			rejections = append(rejections, model.Rejection{
				SeedID: rec.SeedID,
				Stage:  "normalize",
				Reason: "no canonical identifier",
			})
			continue
		}

		// Existing groups are pairwise disjoint, so a record bridging
		// several of them is the only link: fold all matches into one.
		joined := &entityGroup{identity: rec.Identity}
		remaining := groups[:0]
		for _, g := range groups {
			if g.identity.Matches(rec.Identity) {
				joined.identity = unionIdentity(joined.identity, g.identity)
				joined.records = append(joined.records, g.records...)
			} else {
				remaining = append(remaining, g)
			}
		}
		joined.records = append(joined.records, rec)
		groups = append(remaining, joined)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].identity.Key() < groups[j].identity.Key()
	})

	var entities []model.NormalizedEntity
	for _, g := range groups {
		ents, rejs := p.normalizer.Merge(snapshotID, g.identity.Key(), g.identity, g.records)
		entities = append(entities, ents...)
		rejections = append(rejections, rejs...)
	}
	return entities, rejections
}

func unionIdentity(a, b model.Identity) model.Identity {
	if a.Domain == "" {
		a.Domain = b.Domain
	}
	if a.PhoneE164 == "" {
		a.PhoneE164 = b.PhoneE164
	}
	if a.FacilityCode == "" {
		a.FacilityCode = b.FacilityCode
	}
	return a
}

// abort seals the run as cancelled or failed and returns the original error.
func (p *Pipeline) abort(ctx context.Context, run *snapshot.Run, cause error) error {
	status := model.RunStatusFailed
	if ctx.Err() != nil {
		status = model.RunStatusCancelled
	}
	if _, err := run.Seal(sealContext(ctx), status); err != nil {
		zap.L().Named("pipeline").Error("seal after abort failed", zap.Error(err))
	}
	return cause
}

// writeStage persists one stage's durable output and records its data hash.
func (p *Pipeline) writeStage(run *snapshot.Run, name string, v any) error {
	hash, err := model.DataHash(v)
	if err != nil {
		return eris.Wrapf(err, "pipeline: hash %s output", name)
	}

	dir := filepath.Join(p.cfg.Snapshot.DataDir, run.ID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create %s", dir)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "pipeline: encode %s output", name)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), raw, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s output", name)
	}

	run.SetDataHash(name, hash)
	return nil
}

// runStatus decides the completion status: cancelled when the context died,
// failed when seeds existed but nothing came out the far end, partial when
// any stage dropped work, success otherwise.
func runStatus(ctx context.Context, seeds, entities int, stages ...model.StageCounts) model.RunStatus {
	if ctx.Err() != nil {
		return model.RunStatusCancelled
	}
	if seeds > 0 && entities == 0 {
		return model.RunStatusFailed
	}
	for _, c := range stages {
		if c.Failed > 0 {
			return model.RunStatusPartial
		}
	}
	return model.RunStatusSuccess
}

func sealContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
