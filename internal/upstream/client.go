// Package upstream is the transport client for the practice-management
// system's REST API: token authentication, tenant scoping, retry with
// backoff, rate-limit handling and validated decoding of response envelopes.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ehr/pmsync/internal/platform/metrics"
)

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	BaseURL    string
	APIKey     string
	Subdomain  string
	LocationID string
	APIVersion string

	Timeout           time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	Multiplier        float64
	RateLimitWait     time.Duration
	MaxRateLimitWaits int
	RateLimitRPS      float64

	TokenTTL          time.Duration
	TokenSafetyMargin time.Duration

	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	// Now overrides the clock used for token expiry.
	Now func() time.Time
}

const (
	DefaultAPIVersion        = "2"
	DefaultTimeout           = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultBaseDelay         = time.Second
	DefaultMultiplier        = 2.0
	DefaultRateLimitWait     = 60 * time.Second
	DefaultMaxRateLimitWaits = 10
	DefaultTokenTTL          = 60 * time.Minute
	DefaultTokenSafetyMargin = 10 * time.Minute
)

func (o *Options) applyDefaults() {
	if o.APIVersion == "" {
		o.APIVersion = DefaultAPIVersion
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}
	if o.RateLimitWait <= 0 {
		o.RateLimitWait = DefaultRateLimitWait
	}
	if o.MaxRateLimitWaits <= 0 {
		o.MaxRateLimitWaits = DefaultMaxRateLimitWaits
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = DefaultTokenTTL
	}
	if o.TokenSafetyMargin <= 0 || o.TokenSafetyMargin >= o.TokenTTL {
		o.TokenSafetyMargin = DefaultTokenSafetyMargin
	}
}

// Client talks to the upstream API on behalf of exactly one practice. It
// owns that practice's token cache and must not be shared across practices.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	metrics *metrics.Metrics

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates opts and returns a Client. A zero MaxRetries means
// DefaultMaxRetries; a negative value disables retries.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("upstream: base URL is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("upstream: api key is required")
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	opts.applyDefaults()
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	return &Client{
		opts:    opts,
		http:    hc,
		limiter: limiter,
		logger:  opts.Logger.With().Str("component", "upstream").Str("subdomain", opts.Subdomain).Logger(),
		metrics: opts.Metrics,
		now:     now,
		sleep:   sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do performs an authenticated, tenant-scoped request and decodes the JSON
// response into out (when non-nil).
//
//   - 429 waits Retry-After and retries without consuming the retry budget.
//   - 5xx and network errors retry up to MaxRetries with exponential backoff.
//   - 401 drops the cached token and retries once with a fresh one; a second
//     401 is an *AuthError.
//   - Any other non-2xx status fails immediately.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	attempt, rateWaits := 0, 0
	reauthenticated := false
	for {
		token, err := c.Authenticate(ctx)
		if err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, header, respBody, err := c.send(ctx, method, path, query, payload, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		})
		c.metrics.ObserveUpstream(method, status)
		log := c.logger.With().Str("method", method).Str("path", path).Int("attempt", attempt).Logger()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= c.opts.MaxRetries {
				return &APIError{Method: method, Path: path, Err: err}
			}
			delay := c.backoff(attempt)
			log.Warn().Err(err).Dur("delay", delay).Msg("upstream network error, retrying")
			c.metrics.ObserveRetry("network")
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			attempt++
			continue
		}

		switch {
		case status >= 200 && status < 300:
			if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, path, err)
			}
			return nil

		case status == http.StatusTooManyRequests:
			if rateWaits >= c.opts.MaxRateLimitWaits {
				return &APIError{Method: method, Path: path, StatusCode: status, Body: string(respBody)}
			}
			rateWaits++
			wait := c.retryAfter(header.Get("Retry-After"))
			log.Warn().Dur("wait", wait).Int("rate_limit_waits", rateWaits).Msg("upstream rate limited")
			c.metrics.ObserveRetry("rate_limit")
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue

		case status == http.StatusUnauthorized && !reauthenticated:
			reauthenticated = true
			log.Warn().Msg("upstream rejected token, re-authenticating")
			c.metrics.ObserveRetry("reauth")
			c.InvalidateToken()
			continue

		case status == http.StatusUnauthorized:
			c.InvalidateToken()
			return &AuthError{Err: &APIError{Method: method, Path: path, StatusCode: status, Body: string(respBody)}}

		case status >= 500:
			if attempt >= c.opts.MaxRetries {
				return &APIError{Method: method, Path: path, StatusCode: status, Body: string(respBody)}
			}
			delay := c.backoff(attempt)
			log.Warn().Int("status", status).Dur("delay", delay).Msg("upstream server error, retrying")
			c.metrics.ObserveRetry("server_error")
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			attempt++
			continue

		default:
			return &APIError{Method: method, Path: path, StatusCode: status, Body: string(respBody)}
		}
	}
}

// send issues a single request. It returns the status, the response headers,
// the fully read body and any transport error.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, decorate func(*http.Request)) (int, http.Header, []byte, error) {
	q := url.Values{}
	for k, vs := range query {
		q[k] = append([]string(nil), vs...)
	}
	if c.opts.Subdomain != "" {
		q.Set("subdomain", c.opts.Subdomain)
	}
	if c.opts.LocationID != "" {
		q.Set("location_id", c.opts.LocationID)
	}
	endpoint := c.opts.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Version", c.opts.APIVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if decorate != nil {
		decorate(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(float64(c.opts.BaseDelay) * math.Pow(c.opts.Multiplier, float64(attempt)))
}

// retryAfter parses a Retry-After header given either as delta seconds or
// as an HTTP date, falling back to RateLimitWait.
func (c *Client) retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return c.opts.RateLimitWait
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(c.now()); d > 0 {
			return d
		}
		return 0
	}
	return c.opts.RateLimitWait
}
