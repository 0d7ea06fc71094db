// Package fetch implements the crawl stage: a bounded worker pool that
// retrieves raw content per seed with per-source rate limiting, retry with
// backoff, robots policy checks, and content-hash deduplication. It is the
// only component that writes raw artifacts.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
	"github.com/wheelsup-data/flightschool-etl/internal/resilience"
)

// Page is the raw outcome of fetching one URL.
type Page struct {
	URL         string
	Body        []byte
	HTTPStatus  int
	ContentType string
}

// Fetcher retrieves a single URL. Implementations map failures onto the
// resilience taxonomy: transient errors are retried by the pool, permanent
// errors are terminal for the URL.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, url string) (*Page, error)
}

// StaticFetcher fetches URLs with a plain HTTP client. Used for sources
// whose crawl method is "static".
type StaticFetcher struct {
	client       *http.Client
	userAgent    string
	allowedTypes []string
}

// NewStaticFetcher creates a StaticFetcher.
func NewStaticFetcher(timeout time.Duration, userAgent string, allowedTypes []string) *StaticFetcher {
	return &StaticFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent:    userAgent,
		allowedTypes: allowedTypes,
	}
}

// Name implements Fetcher.
func (f *StaticFetcher) Name() string { return "static" }

// Fetch implements Fetcher.
func (f *StaticFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "fetch: build request"), resilience.ReasonBadRequest)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: GET %s", url), 0)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, url); err != nil {
		return nil, err
	}

	contentType := parseContentType(resp.Header.Get("Content-Type"))
	if !f.typeAllowed(contentType) {
		return nil, resilience.NewPermanentError(
			eris.Errorf("fetch: content type %q not allowed for %s", contentType, url),
			resilience.ReasonDisallowedType,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: read body %s", url), resp.StatusCode)
	}

	return &Page{
		URL:         url,
		Body:        body,
		HTTPStatus:  resp.StatusCode,
		ContentType: contentType,
	}, nil
}

func (f *StaticFetcher) typeAllowed(contentType string) bool {
	if len(f.allowedTypes) == 0 {
		return true
	}
	for _, t := range f.allowedTypes {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

func classifyStatus(status int, url string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(eris.Errorf("fetch: status %d for %s", status, url), status)
	case status == http.StatusNotFound || status == http.StatusGone:
		return resilience.NewPermanentError(eris.Errorf("fetch: status %d for %s", status, url), resilience.ReasonNotFound)
	default:
		return resilience.NewPermanentError(eris.Errorf("fetch: status %d for %s", status, url), resilience.ReasonBadRequest)
	}
}

func parseContentType(header string) string {
	if header == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return mediaType
}

// ForMethod returns the fetcher matching a source's crawl method.
func ForMethod(method model.CrawlMethod, static Fetcher, browser Fetcher) (Fetcher, error) {
	switch method {
	case model.CrawlStatic, "":
		return static, nil
	case model.CrawlBrowser:
		if browser == nil {
			return nil, fmt.Errorf("fetch: browser fetcher not configured")
		}
		return browser, nil
	default:
		return nil, fmt.Errorf("fetch: unknown crawl method %q", method)
	}
}
