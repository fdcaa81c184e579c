// Package client provides the remote collection client: parameterized list
// fetches, reference-set fetches and single-item mutations against a
// dashboard API that wraps every payload in a {success, data, message}
// envelope.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/cache"
	"github.com/Sternrassler/dashboard-sync/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for remote requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_requests_total",
		Help: "Total remote requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashsync_request_duration_seconds",
		Help:    "Remote request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashsync_errors_total",
		Help: "Total remote request errors by class",
	}, []string{"class"})
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 32 << 20

// Client talks to one dashboard API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://admin.example.com".
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Token is an optional bearer token.
	Token string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// CacheScope separates cached reference sets of different identities.
	CacheScope string
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithCache serves FetchList responses through a response cache.
func WithCache(m *cache.Manager) Option {
	return func(c *Client) { c.cache = m }
}

// WithRateLimiter gates every request on the remote's advertised budget.
func WithRateLimiter(t *ratelimit.Tracker) Option {
	return func(c *Client) { c.rateLimiter = t }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a new client.
func New(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("base url must be absolute, got %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		config:     cfg,
		logger:     log.With().Str("component", "remote-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache is true when the body was served by the response cache.
	FromCache bool
}

// Do performs a request with rate limiting, metrics and error classification.
// label names the endpoint in metrics and logs. Transport failures and
// rate-limit blocks are returned as *RemoteRequestFailed; HTTP error statuses
// are returned as a Response for the envelope decoder to classify.
func (c *Client) Do(req *http.Request, label string) (*Response, error) {
	ctx := req.Context()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(label).Observe(time.Since(startTime).Seconds())
	}()

	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return nil, &RemoteRequestFailed{
				Class:   ErrorClassNetwork,
				Message: "rate limit check",
				Err:     err,
			}
		}
		if !allowed {
			c.logger.Warn().Str("endpoint", label).Msg("Request blocked by rate limiter")
			requestsTotal.WithLabelValues(label, "rate_limited").Inc()
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &RemoteRequestFailed{
				Class:   ErrorClassRateLimit,
				Message: "blocked by rate limiter",
				Err:     ErrRateLimited,
			}
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	c.logger.Debug().
		Str("endpoint", label).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Executing remote request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, label, ctxErr)
		}
		c.logger.Warn().Err(err).Str("endpoint", label).Msg("HTTP request failed")
		requestsTotal.WithLabelValues(label, "network_error").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &RemoteRequestFailed{
			Class:   ErrorClassNetwork,
			Message: "transport failure",
			Err:     err,
		}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		requestsTotal.WithLabelValues(label, "network_error").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &RemoteRequestFailed{
			Status:  httpResp.StatusCode,
			Class:   ErrorClassNetwork,
			Message: "read response body",
			Err:     err,
		}
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromHeaders(ctx, httpResp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	requestsTotal.WithLabelValues(label, strconv.Itoa(httpResp.StatusCode)).Inc()
	if class := classifyStatus(httpResp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", label).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(class)).
			Msg("Remote request error")
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// get issues an uncached GET.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req, endpoint)
}

// getCached serves a GET through the response cache: fresh entries are
// returned directly, stale entries are revalidated with a conditional request.
func (c *Client) getCached(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	if c.cache == nil {
		return c.get(ctx, endpoint, query)
	}

	key := cache.CacheKey{Endpoint: endpoint, QueryParams: query, Scope: c.config.CacheScope}
	entry, err := c.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
	}

	if entry != nil && !entry.IsExpired() {
		c.logger.Debug().Str("endpoint", endpoint).Dur("ttl", entry.TTL()).Msg("Serving fresh cache entry")
		return entryToResponse(entry), nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return nil, err
	}
	if entry != nil && cache.ShouldMakeConditionalRequest(entry) {
		cache.AddConditionalHeaders(req, entry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("etag", entry.ETag).
			Msg("Making conditional request")
	}

	resp, err := c.Do(req, endpoint)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && entry != nil {
		cache.NotModifiedResponses.Inc()
		if err := c.cache.UpdateTTL(ctx, key, cache.ExpiresFrom(resp.Header)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
		}
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified - using cache")
		return entryToResponse(entry), nil
	}

	// only successful envelopes are worth caching
	if resp.StatusCode == http.StatusOK && gjson.GetBytes(resp.Body, "success").Bool() {
		if err := c.cache.Set(ctx, key, cache.NewEntry(resp.StatusCode, resp.Header, resp.Body)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// Invalidate drops the cached response of a reference endpoint so the next
// FetchList goes to the server.
func (c *Client) Invalidate(ctx context.Context, endpoint string, query url.Values) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, cache.CacheKey{Endpoint: endpoint, QueryParams: query, Scope: c.config.CacheScope})
}

func entryToResponse(entry *cache.CacheEntry) *Response {
	return &Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Headers.Clone(),
		Body:       entry.Data,
		FromCache:  true,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}
