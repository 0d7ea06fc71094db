package fetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wheelsup-data/flightschool-etl/internal/artifact"
	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
)

// Result is the terminal outcome for one seed URL: either an artifact or a
// permanent FetchError. Transient failures only surface here after retries
// are exhausted.
type Result struct {
	SeedID   string
	SourceID string
	URL      string
	Artifact *model.RawArtifact
	Err      error
}

// Pool is the bounded-concurrency fetch worker pool.
type Pool struct {
	cfg     config.FetchConfig
	store   *artifact.Store
	cache   *artifact.HashCache
	static  Fetcher
	browser Fetcher
	robots  *robotsPolicy
	retry   resilience.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPool creates a Pool. browser may be nil when no source needs rendering.
func NewPool(cfg config.FetchConfig, store *artifact.Store, cache *artifact.HashCache, static, browser Fetcher) *Pool {
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	return &Pool{
		cfg:      cfg,
		store:    store,
		cache:    cache,
		static:   static,
		browser:  browser,
		robots:   newRobotsPolicy(time.Duration(cfg.TimeoutSecs)*time.Second, cfg.UserAgent),
		retry:    retry,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the per-source rate limiter, creating it on first use.
// Rate limits are per source, never global, so one strict source cannot
// starve the others.
func (p *Pool) limiter(src model.Source) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[src.ID]; ok {
		return l
	}
	perSec := src.RatePerSec
	if perSec <= 0 {
		perSec = p.cfg.DefaultRatePS
	}
	burst := src.Burst
	if burst <= 0 {
		burst = p.cfg.DefaultBurst
	}
	l := rate.NewLimiter(rate.Limit(perSec), burst)
	p.limiters[src.ID] = l
	return l
}

// Run fetches every URL of every seed with bounded concurrency and persists
// the resulting artifacts. It returns one Result per (seed, URL) pair plus
// stage counts. Cancellation aborts in-flight retries after the current
// attempt; results gathered so far are still returned.
func (p *Pool) Run(ctx context.Context, snapshotID string, seeds []model.SeedRecord, sources map[string]model.Source) ([]Result, model.StageCounts) {
	log := zap.L().Named("fetch")

	var mu sync.Mutex
	var results []Result
	var counts model.StageCounts

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, seed := range seeds {
		g.Go(func() error {
			src := sources[seed.SourceID]
			for _, u := range seed.URLs {
				if gCtx.Err() != nil {
					return nil
				}
				res := p.fetchOne(gCtx, snapshotID, seed, src, u)

				mu.Lock()
				results = append(results, res)
				switch {
				case res.Err != nil:
					counts.Failed++
				case res.Artifact.CacheHit:
					counts.Processed++
					counts.CacheHits++
				default:
					counts.Processed++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("fetch stage complete",
		zap.String("snapshot", snapshotID),
		zap.Int("fetched", counts.Processed),
		zap.Int("cache_hits", counts.CacheHits),
		zap.Int("failed", counts.Failed),
	)
	return results, counts
}

func (p *Pool) fetchOne(ctx context.Context, snapshotID string, seed model.SeedRecord, src model.Source, url string) Result {
	log := zap.L().Named("fetch").With(
		zap.String("seed", seed.ID),
		zap.String("source", src.ID),
		zap.String("url", url),
	)

	res := Result{SeedID: seed.ID, SourceID: src.ID, URL: url}

	if !p.robots.Allowed(ctx, url) {
		res.Err = resilience.NewPermanentError(
			errRobots(url), resilience.ReasonRobotsBlocked,
		)
		log.Warn("blocked by robots policy")
		return res
	}

	fetcher, err := ForMethod(src.Method, p.static, p.browser)
	if err != nil {
		res.Err = resilience.NewPermanentError(err, resilience.ReasonBadRequest)
		return res
	}

	retryCfg := p.retry
	retryCfg.OnRetry = resilience.RetryLogger(src.ID, "fetch")

	attempts := 0
	page, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Page, error) {
		attempts++
		if limitErr := p.limiter(src).Wait(ctx); limitErr != nil {
			return nil, limitErr
		}
		return fetcher.Fetch(ctx, url)
	})
	if err != nil {
		res.Err = err
		if resilience.IsPermanent(err) {
			log.Warn("permanent fetch failure", zap.String("reason", string(resilience.PermanentReasonOf(err))))
		} else {
			log.Warn("fetch retries exhausted", zap.Error(err))
		}
		return res
	}

	hash := artifact.HashBytes(page.Body)
	art := model.RawArtifact{
		SnapshotID:  snapshotID,
		SourceID:    src.ID,
		SeedID:      seed.ID,
		URL:         page.URL,
		ContentHash: hash,
		HTTPStatus:  page.HTTPStatus,
		ContentType: page.ContentType,
		FetchedAt:   time.Now().UTC(),
		RetryCount:  attempts - 1,
	}

	// Same content hash for the same seed within this snapshot: reuse the
	// stored artifact instead of re-persisting.
	cacheKey := snapshotID + "/" + seed.ID + "/" + hash
	if _, loaded := p.cache.GetOrInsert(cacheKey, art.ContentHash); loaded {
		art.CacheHit = true
		res.Artifact = &art
		return res
	}

	if _, err := p.store.Put(art, page.Body); err != nil {
		res.Err = err
		return res
	}
	res.Artifact = &art
	return res
}

type robotsBlockedError string

func (e robotsBlockedError) Error() string { return "robots policy disallows " + string(e) }

func errRobots(url string) error { return robotsBlockedError(url) }
