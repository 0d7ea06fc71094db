package fetch

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// robotsPolicy caches per-host robots.txt disallow rules. A host whose
// robots.txt cannot be fetched is treated as fully allowed; only an
// explicit Disallow blocks a URL.
type robotsPolicy struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	rules map[string][]string // host → disallowed path prefixes
}

func newRobotsPolicy(timeout time.Duration, userAgent string) *robotsPolicy {
	return &robotsPolicy{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		rules:     make(map[string][]string),
	}
}

// Allowed reports whether the target URL is permitted by its host's
// robots.txt for our user agent (or the wildcard agent).
func (r *robotsPolicy) Allowed(ctx context.Context, target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return true
	}

	prefixes := r.hostRules(ctx, u.Scheme, u.Host)
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	return true
}

func (r *robotsPolicy) hostRules(ctx context.Context, scheme, host string) []string {
	r.mu.Lock()
	if rules, ok := r.rules[host]; ok {
		r.mu.Unlock()
		return rules
	}
	r.mu.Unlock()

	rules := r.fetchRules(ctx, scheme, host)

	r.mu.Lock()
	// First writer wins on a racing fetch of the same host.
	if existing, ok := r.rules[host]; ok {
		rules = existing
	} else {
		r.rules[host] = rules
	}
	r.mu.Unlock()
	return rules
}

func (r *robotsPolicy) fetchRules(ctx context.Context, scheme, host string) []string {
	if scheme == "" {
		scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	return parseRobots(resp.Body, r.userAgent)
}

// parseRobots extracts Disallow prefixes for the given agent or "*".
// Deliberately minimal: no Allow overrides, no crawl-delay.
func parseRobots(body interface{ Read([]byte) (int, error) }, userAgent string) []string {
	agentToken := strings.ToLower(strings.Split(userAgent, "/")[0])

	var disallow []string
	applies := false
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			agent := strings.ToLower(value)
			applies = agent == "*" || strings.Contains(agentToken, agent)
		case "disallow":
			if applies && value != "" {
				disallow = append(disallow, value)
			}
		}
	}
	return disallow
}
