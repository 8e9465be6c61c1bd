// Package githubapi implements the rate-limit-aware API client (C4): a
// wrapper over the upstream code-hosting REST API with minimum request
// spacing, wait-until-reset back-off, bounded consecutive retries, and a
// request-dedup cache, per spec.md §4.4.
package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/cache"
	"github.com/rebase-inc/knowledge-scanner/internal/adapter/observability"
	"github.com/rebase-inc/knowledge-scanner/internal/domain"
)

// Config configures the rate-limit-aware API client.
type Config struct {
	BaseURL    string
	Token      string
	MinDelay   time.Duration // default 750ms, per spec.md §4.4.
	MaxRetries int           // default 3, per spec.md §4.4.
	// Cache backs the request-dedup cache with a shared store (e.g. Redis,
	// via internal/adapter/cache) instead of the process-local map, so
	// multiple scanner processes share one dedup window. Nil keeps the
	// in-memory default.
	Cache cache.Store
	// CacheTTL bounds how long a dedup entry survives in Cache; zero means
	// no expiry, matching the in-memory default's unbounded semantics.
	CacheTTL time.Duration
}

// Client wraps net/http with the retry/back-off/dedup policies of C4.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter

	mu                  sync.Mutex
	waitUntil           time.Time
	consecutiveFailures int
	cache               map[string]*cachedResponse
}

type cachedResponse struct {
	status int
	body   []byte
}

// New returns a Client applying spec.md §4.4 defaults for zero-valued fields.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 750 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Every(cfg.MinDelay), 1)
	return &Client{cfg: cfg, http: httpClient, limiter: limiter, cache: map[string]*cachedResponse{}}
}

// requestKey composes a canonical, order-independent key for the dedup cache
// from a request tuple, per spec.md §4.4/§9 ("compose parameter maps into a
// canonical, order-independent key form").
func requestKey(method, rawURL string, params url.Values, headers http.Header, body []byte) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(rawURL)
	b.WriteByte('\n')
	writeSortedMultimap(&b, params)
	writeSortedMultimap(&b, url.Values(headers))
	b.Write(body)
	return b.String()
}

func writeSortedMultimap(b *strings.Builder, m map[string][]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), m[k]...)
		sort.Strings(vals)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(vals, ","))
		b.WriteByte(';')
	}
}

// doRequest performs one HTTP request honoring the minimum-delay throttle,
// wait-until-reset, max-retries, and dedup-cache policies of spec.md §4.4.
// endpoint is a low-cardinality label (e.g. "list_repos") used to tag the
// GithubAPIRequestsTotal/GithubAPIRequestDuration metrics for this call.
func (c *Client) doRequest(ctx context.Context, endpoint, method, rawURL string, params url.Values) ([]byte, error) {
	key := requestKey(method, rawURL, params, nil, nil)

	if body, hit, err := c.lookupCache(ctx, key); err == nil && hit {
		return body, nil
	}

	var resultBody []byte
	op := func() error {
		c.throttle(ctx)

		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.URL.RawQuery = params.Encode()
		if c.cfg.Token != "" {
			req.Header.Set("Authorization", "token "+c.cfg.Token)
		}
		req.Header.Set("Accept", "application/vnd.github+json")

		start := time.Now()
		resp, httpErr := c.http.Do(req)
		if httpErr != nil {
			c.recordAttempt(endpoint, "error", time.Since(start))
			if !isRetryable(httpErr, 0) {
				return backoff.Permanent(httpErr)
			}
			return c.failureOrGiveUp(httpErr)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			c.recordAttempt(endpoint, "error", time.Since(start))
			return c.failureOrGiveUp(fmt.Errorf("truncated read: %w", readErr))
		}

		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining == "0" {
				c.applyResetHeader(resp.Header)
				c.recordAttempt(endpoint, "rate_limited", time.Since(start))
				return c.failureOrGiveUp(fmt.Errorf("rate limited"))
			}
		}
		if resp.StatusCode == http.StatusUnauthorized && looksLikeSpuriousBadCredentials(body) {
			c.recordAttempt(endpoint, "spurious_unauthorized", time.Since(start))
			return c.failureOrGiveUp(fmt.Errorf("spurious bad credentials"))
		}
		if resp.StatusCode >= 500 {
			c.recordAttempt(endpoint, "server_error", time.Since(start))
			return c.failureOrGiveUp(fmt.Errorf("upstream %d: %s", resp.StatusCode, string(body)))
		}
		if resp.StatusCode >= 400 {
			c.recordAttempt(endpoint, "client_error", time.Since(start))
			return backoff.Permanent(fmt.Errorf("upstream %d: %s", resp.StatusCode, string(body)))
		}

		c.recordAttempt(endpoint, "success", time.Since(start))
		c.resetFailures()
		resultBody = body
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries))
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if c.consecutiveFailuresExceeded() {
			return nil, domain.ErrRateLimitMaxRetries
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientUpstream, err)
	}

	c.storeCache(ctx, key, resultBody)
	return resultBody, nil
}

// lookupCache consults the shared Cache store when configured, falling back
// to the process-local map otherwise.
func (c *Client) lookupCache(ctx context.Context, key string) ([]byte, bool, error) {
	if c.cfg.Cache != nil {
		return c.cfg.Cache.Get(ctx, key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.cache[key]
	if !ok {
		return nil, false, nil
	}
	return cached.body, true, nil
}

// storeCache writes body under key to the shared Cache store when
// configured, falling back to the process-local map otherwise. Errors from
// the shared store are logged-by-omission: a dedup-cache write failure must
// never fail the request it is caching.
func (c *Client) storeCache(ctx context.Context, key string, body []byte) {
	if c.cfg.Cache != nil {
		_ = c.cfg.Cache.Set(ctx, key, body, c.cfg.CacheTTL)
		return
	}
	c.mu.Lock()
	c.cache[key] = &cachedResponse{body: body}
	c.mu.Unlock()
}

// throttle enforces the minimum request spacing (via a token-bucket limiter
// ticking at 1/MinDelay) and any pending wait-until-reset deadline before
// issuing the next request.
func (c *Client) throttle(ctx context.Context) {
	c.mu.Lock()
	wait := time.Until(c.waitUntil)
	c.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
}

func (c *Client) applyResetHeader(h http.Header) {
	reset := h.Get("X-RateLimit-Reset")
	if reset == "" {
		return
	}
	secs, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.waitUntil = time.Unix(secs, 0)
	c.mu.Unlock()
}

// recordAttempt records one upstream call attempt's outcome and duration
// against the GithubAPIRequestsTotal/GithubAPIRequestDuration metrics.
func (c *Client) recordAttempt(endpoint, outcome string, dur time.Duration) {
	observability.GithubAPIRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	observability.GithubAPIRequestDuration.WithLabelValues(endpoint).Observe(dur.Seconds())
}

func (c *Client) failureOrGiveUp(err error) error {
	c.mu.Lock()
	c.consecutiveFailures++
	exceeded := c.consecutiveFailures > c.cfg.MaxRetries
	c.mu.Unlock()
	if exceeded {
		return backoff.Permanent(err)
	}
	return err
}

func (c *Client) resetFailures() {
	c.mu.Lock()
	c.consecutiveFailures = 0
	c.mu.Unlock()
}

func (c *Client) consecutiveFailuresExceeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures > c.cfg.MaxRetries
}

func looksLikeSpuriousBadCredentials(body []byte) bool {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(envelope.Message), "bad credentials")
}

func isRetryable(err error, statusCode int) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"connection reset", "connection refused", "timeout", "eof"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
