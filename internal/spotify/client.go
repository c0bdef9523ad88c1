// Package spotify provides the Spotify Web API client: player and device endpoints, catalog lookups and OAuth.
package spotify

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

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"spinsync/internal/core"
	"spinsync/internal/metrics"
	"spinsync/internal/store"
)

const (
	// MaxErrorBodyBytes bounds how much of an error response is read.
	MaxErrorBodyBytes = 64 << 10

	reasonNoActiveDevice = "NO_ACTIVE_DEVICE"
)

// Client talks to the Spotify Web API with a bearer token from a core.TokenProvider.
// It translates HTTP outcomes into *core.Error and never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     core.TokenProvider
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
	cache      *store.TrackCache
	now        func() time.Time
	catalog    *spotify.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTrackCache keeps catalog results in cache.
func WithTrackCache(cache *store.TrackCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithRequestsPerSecond paces outgoing requests. Zero or negative disables pacing.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewClient(config *core.SpotifyConfig, tokens core.TokenProvider, logger *zap.Logger, opts ...Option) *Client {
	baseURL := strings.TrimSuffix(config.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = core.DefaultAPIBaseURL
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
	}
	WithRequestsPerSecond(config.RequestsPerSecond)(c)

	for _, opt := range opts {
		opt(c)
	}

	if c.cache == nil {
		c.cache = store.NewTrackCache(store.DefaultTrackCacheSize, store.DefaultBloomFalsePositiveRate)
	}
	catalogHTTP := &http.Client{
		Transport: &bearerTransport{tokens: c.tokens, base: c.httpClient.Transport},
		Timeout:   c.httpClient.Timeout,
	}
	c.catalog = spotify.New(catalogHTTP, spotify.WithBaseURL(c.baseURL+"/"))

	return c
}

// do issues one request. out may be nil. It reports whether a response body was decoded;
// 204 and an empty 2xx body are success without data.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (bool, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		return false, &core.Error{Kind: core.KindUnauthenticated, Op: op, Message: "missing access token", Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, &core.Error{Kind: core.KindTransient, Op: op, Message: "request pacing interrupted", Err: err}
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return false, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRemoteRequest(op, "error", time.Since(start))
		c.logger.Debug("Spotify request failed", zap.String("op", op), zap.Error(err))
		return false, &core.Error{Kind: core.KindTransient, Op: op, Message: "network error", Err: err}
	}
	defer resp.Body.Close()
	c.metrics.RecordRemoteRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodyBytes))
		apiErr := classify(op, resp, raw, c.now())
		c.logger.Debug("Spotify request rejected",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", apiErr.Kind.String()),
			zap.String("message", apiErr.Message))
		return false, apiErr
	}

	if resp.StatusCode == http.StatusNoContent || out == nil {
		return false, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &core.Error{Kind: core.KindTransient, Op: op, Message: "failed to read response", Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, &core.Error{Kind: core.KindUnknown, Op: op, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return true, nil
}

type errorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// classify maps a non-2xx response to a tagged error.
func classify(op string, resp *http.Response, raw []byte, now time.Time) *core.Error {
	var payload errorBody
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = errorBody{}
	}

	apiErr := classifyStatus(op, resp.StatusCode, payload.Error.Message, payload.Error.Reason)
	// Any error status may carry a retry hint, not only 429.
	apiErr.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	return apiErr
}

// classifyStatus is the only place the wire message text is inspected.
func classifyStatus(op string, status int, message, reason string) *core.Error {
	apiErr := &core.Error{Op: op, Status: status, Message: message}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		apiErr.Kind = core.KindUnauthenticated
	case isRestriction(status, apiErr.Message):
		apiErr.Kind = core.KindRestricted
	case reason == reasonNoActiveDevice:
		apiErr.Kind = core.KindNotFound
	case status == http.StatusForbidden:
		apiErr.Kind = core.KindForbidden
	case status == http.StatusNotFound:
		apiErr.Kind = core.KindNotFound
	case status == http.StatusTooManyRequests:
		apiErr.Kind = core.KindRateLimited
	case status >= http.StatusInternalServerError:
		apiErr.Kind = core.KindTransient
	default:
		apiErr.Kind = core.KindUnknown
	}

	return apiErr
}

func isRestriction(status int, message string) bool {
	msg := strings.ToLower(message)
	if strings.Contains(msg, "no longer active") {
		return true
	}
	return status == http.StatusForbidden && strings.Contains(msg, "restriction violated")
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds or as an HTTP date.
// Missing, malformed or past values yield 0.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if d := when.Sub(now); d > 0 {
		return d
	}
	return 0
}

// bearerTransport injects the current access token into catalog requests.
type bearerTransport struct {
	tokens core.TokenProvider
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.AccessToken(req.Context())
	if err != nil || token == "" {
		if err == nil {
			err = errors.New("empty access token")
		}
		return nil, &core.Error{Kind: core.KindUnauthenticated, Op: "catalog", Message: "missing access token", Err: err}
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}
