package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelsup-data/flightschool-etl/internal/artifact"
	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
)

const testSnapshot = "SNAP-20260801-120000"

func testPool(t *testing.T) *Pool {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.FetchConfig{
		Workers:       4,
		MaxAttempts:   3,
		TimeoutSecs:   5,
		UserAgent:     "fsetl-test/1.0",
		AllowedTypes:  []string{"text/html", "application/pdf"},
		DefaultRatePS: 100,
		DefaultBurst:  10,
	}
	static := NewStaticFetcher(5*time.Second, cfg.UserAgent, cfg.AllowedTypes)
	p := NewPool(cfg, store, artifact.NewHashCache(), static, nil)
	p.retry.InitialBackoff = time.Millisecond
	p.retry.MaxBackoff = 5 * time.Millisecond
	return p
}

func seedFor(srv *httptest.Server, paths ...string) model.SeedRecord {
	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		urls = append(urls, srv.URL+p)
	}
	return model.SeedRecord{
		ID:       "seed-1",
		Name:     "Test Flight Academy",
		SourceID: "faa",
		URLs:     urls,
	}
}

func sourcesFor() map[string]model.Source {
	return map[string]model.Source{
		"faa": {ID: "faa", Name: "FAA Directory", Method: model.CrawlStatic, TrustTier: 3},
	}
}

func TestPool_FetchesAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>rates: $150/hr</html>"))
	}))
	defer srv.Close()

	p := testPool(t)
	results, counts := p.Run(context.Background(), testSnapshot, []model.SeedRecord{seedFor(srv, "/school")}, sourcesFor())

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	art := results[0].Artifact
	require.NotNil(t, art)
	assert.Equal(t, testSnapshot, art.SnapshotID)
	assert.Equal(t, 200, art.HTTPStatus)
	assert.Equal(t, "text/html", art.ContentType)
	assert.Equal(t, 0, art.RetryCount)
	assert.Equal(t, 1, counts.Processed)
	assert.Equal(t, 0, counts.Failed)

	body, _, err := p.store.Get(testSnapshot, "faa", "seed-1", art.ContentHash)
	require.NoError(t, err)
	assert.Contains(t, string(body), "$150/hr")
}

func TestPool_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>recovered</html>"))
	}))
	defer srv.Close()

	p := testPool(t)
	results, counts := p.Run(context.Background(), testSnapshot, []model.SeedRecord{seedFor(srv, "/flaky")}, sourcesFor())

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Artifact.RetryCount)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, counts.Processed)
}

func TestPool_PermanentFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := testPool(t)
	results, counts := p.Run(context.Background(), testSnapshot, []model.SeedRecord{seedFor(srv, "/gone")}, sourcesFor())

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, resilience.ReasonNotFound, resilience.PermanentReasonOf(results[0].Err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 0, counts.Processed)
}

func TestPool_DisallowedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer srv.Close()

	p := testPool(t)
	results, _ := p.Run(context.Background(), testSnapshot, []model.SeedRecord{seedFor(srv, "/logo.png")}, sourcesFor())

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, resilience.ReasonDisallowedType, resilience.PermanentReasonOf(results[0].Err))
}

func TestPool_SameContentSameSeedIsCacheHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>identical body</html>"))
	}))
	defer srv.Close()

	p := testPool(t)
	seed := seedFor(srv, "/a", "/b")
	results, counts := p.Run(context.Background(), testSnapshot, []model.SeedRecord{seed}, sourcesFor())

	require.Len(t, results, 2)
	hits := 0
	for _, r := range results {
		require.NoError(t, r.Err)
		if r.Artifact.CacheHit {
			hits++
		}
	}
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, counts.Processed)
	assert.Equal(t, 1, counts.CacheHits)

	// The cache hit produced zero additional writes.
	arts, err := p.store.ListSeed(testSnapshot, "faa", "seed-1")
	require.NoError(t, err)
	assert.Len(t, arts, 1)
}

func TestPool_RobotsDisallowBlocksURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>open</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := testPool(t)
	seed := seedFor(srv, "/private/pricing", "/public/pricing")
	results, counts := p.Run(context.Background(), testSnapshot, []model.SeedRecord{seed}, sourcesFor())

	require.Len(t, results, 2)
	byURL := map[string]Result{}
	for _, r := range results {
		byURL[r.URL] = r
	}

	blocked := byURL[srv.URL+"/private/pricing"]
	require.Error(t, blocked.Err)
	assert.Equal(t, resilience.ReasonRobotsBlocked, resilience.PermanentReasonOf(blocked.Err))

	open := byURL[srv.URL+"/public/pricing"]
	require.NoError(t, open.Err)
	assert.Equal(t, 1, counts.Processed)
	assert.Equal(t, 1, counts.Failed)
}

func TestPool_CancellationStopsRemainingWork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>slow</html>"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := testPool(t)
	results, _ := p.Run(ctx, testSnapshot, []model.SeedRecord{seedFor(srv, "/a", "/b", "/c")}, sourcesFor())

	// A cancelled context yields no successful artifacts.
	for _, r := range results {
		assert.Nil(t, r.Artifact)
	}
}

func TestPool_PerSourceLimitersAreIndependent(t *testing.T) {
	p := testPool(t)
	a := p.limiter(model.Source{ID: "faa", RatePerSec: 1, Burst: 1})
	b := p.limiter(model.Source{ID: "yelp", RatePerSec: 50, Burst: 5})
	assert.NotSame(t, a, b)
	assert.Same(t, a, p.limiter(model.Source{ID: "faa"}))
}
