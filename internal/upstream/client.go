// Package upstream wraps the pooled HTTP client Vein uses to talk to
// RubyGems, crates.io and npm, including the idempotent-GET retry policy
// from §4.3 step 6 and §4.6's conditional-GET support for index kinds.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vein-cache/vein/internal/config"
)

// defaultTransport is cloned per Client so connection pool tunings are
// shared without sharing idle connections across distinct base URLs.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Client is a pooled HTTP client bound to one upstream base URL, with
// capped decorrelated-jitter retry for idempotent GETs.
type Client struct {
	http    *http.Client
	baseURL string
}

// New builds a Client for baseURL with pool size connections per host and
// the given per-request timeout.
func New(baseURL string, poolSize int, timeout time.Duration) *Client {
	if poolSize <= 0 {
		poolSize = 100
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := defaultTransport.Clone()
	transport.MaxIdleConnsPerHost = poolSize
	transport.MaxIdleConns = poolSize

	return &Client{
		http:    &http.Client{Timeout: timeout, Transport: transport},
		baseURL: baseURL,
	}
}

// RubyGems builds the RubyGems upstream client from config, honoring the
// configurable base URL (§4.6: "RubyGems configurable; others fixed").
func RubyGems(cfg config.UpstreamConfig) *Client {
	return New(cfg.URL, cfg.ConnectionPoolSize, cfg.Timeout())
}

// CratesIndex and CratesStatic are crates.io's two fixed upstream hosts: the
// sparse index and the static artifact CDN.
func CratesIndex(cfg config.UpstreamConfig) *Client {
	return New("https://index.crates.io", cfg.ConnectionPoolSize, cfg.Timeout())
}

func CratesStatic(cfg config.UpstreamConfig) *Client {
	return New("https://static.crates.io", cfg.ConnectionPoolSize, cfg.Timeout())
}

// NPM is npm's fixed upstream registry host.
func NPM(cfg config.UpstreamConfig) *Client {
	return New("https://registry.npmjs.org", cfg.ConnectionPoolSize, cfg.Timeout())
}

// ErrNonRetryable wraps the status of a 5xx response; Get returns it once
// every retry of a failing 5xx is used up. A 4xx is not wrapped: Get
// returns that response itself with a nil error.
var ErrNonRetryable = errors.New("upstream: non-retryable response")

// Get issues a GET for path against the client's base URL, retrying
// connect errors and 5xx responses up to 3 attempts total with
// exponential backoff and jitter, per §4.3 step 6. A 4xx response is
// returned immediately without retry. The caller owns closing the response
// body.
func (c *Client) Get(ctx context.Context, path string, headers http.Header) (*http.Response, error) {
	backoff := retry.NewExponential(100 * time.Millisecond)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithMaxRetries(2, backoff) // 2 retries + the initial attempt = 3 total

	var resp *http.Response
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		for key, values := range headers {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}

		r, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return retry.RetryableError(fmt.Errorf("%w: %d", ErrNonRetryable, r.StatusCode))
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
