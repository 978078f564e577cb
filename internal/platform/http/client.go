package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 500

// Client is a wrapper for HTTP client with rate limiting and bounded retries.
// One Client is shared by every fetcher that talks to the same upstream.
type Client struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter

	opts   ClientOptions
	retry  map[int]bool
	logger zerolog.Logger
}

// ClientOptions holds options for creating a new Client
type ClientOptions struct {
	// Name identifies the upstream in logs and errors.
	Name string
	// Timeout bounds a single attempt.
	Timeout        time.Duration
	RequestsPerSec int
	// MaxRetries is the number of attempts after the first one. Zero disables retries.
	MaxRetries int
	// RetryDelay is the wait before the first retry; later waits double up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// MaxRetryTimeout caps the total time spent retrying. Zero means only MaxRetries applies.
	MaxRetryTimeout time.Duration
	// RetryStatuses lists the status codes worth retrying. Empty means 429 and every 5xx.
	RetryStatuses []int
	UserAgent     string
	// Proxy routes requests through an HTTP(S) proxy when set.
	Proxy string
}

// NewClient creates a new HTTP client with rate limiting
func NewClient(opts ClientOptions) *Client {
	// Set default values if not provided
	if opts.Name == "" {
		opts.Name = "upstream"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.MaxRetryDelay == 0 {
		opts.MaxRetryDelay = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "CoinDash/1.0"
	}

	var retry map[int]bool
	if len(opts.RetryStatuses) > 0 {
		retry = make(map[int]bool, len(opts.RetryStatuses))
		for _, code := range opts.RetryStatuses {
			retry[code] = true
		}
	}

	hc := &http.Client{
		Timeout: opts.Timeout,
	}
	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil {
			hc.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		} else {
			log.Warn().Err(err).Str("upstream", opts.Name).Msg("Ignoring invalid proxy URL")
		}
	}

	return &Client{
		HTTPClient: hc,
		Limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.RequestsPerSec),
		opts:       opts,
		retry:      retry,
		logger:     log.With().Str("component", "http_client").Str("upstream", opts.Name).Logger(),
	}
}

// Options returns the effective options after defaults were applied.
func (c *Client) Options() ClientOptions {
	return c.opts
}

// Get performs a GET request with rate limiting and retries and returns the
// body of the first 200 response.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	var body []byte
	err := c.do(ctx, rawURL, func() error {
		b, err := c.getOnce(ctx, rawURL, params)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GetJSON performs a GET request and decodes the JSON body into out. A body
// that does not decode is treated like a transient failure and retried.
// Numbers decoded into interface values are kept as json.Number.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("%s: GetJSON needs a non-nil pointer, got %T", c.opts.Name, out)
	}

	return c.do(ctx, rawURL, func() error {
		b, err := c.getOnce(ctx, rawURL, params)
		if err != nil {
			return err
		}

		// Start every attempt from a zero value so a failed decode cannot leak fields.
		target.Elem().Set(reflect.Zero(target.Elem().Type()))

		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return &DecodeError{Err: err, Body: string(truncate(b))}
		}
		return nil
	})
}

// do runs operation with exponential backoff bounded by MaxRetries and ctx.
func (c *Client) do(ctx context.Context, rawURL string, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryDelay
	b.MaxInterval = c.opts.MaxRetryDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = c.opts.MaxRetryTimeout
	b.Reset()

	attempts := 0
	wrapped := func() error {
		attempts++
		// Wait for rate limiter
		if err := c.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return operation()
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn().
			Err(err).
			Str("url", rawURL).
			Int("attempt", attempts).
			Dur("retry_in", next).
			Msg("Request failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxRetries)), ctx)
	if err := backoff.RetryNotify(wrapped, policy, notify); err != nil {
		return fmt.Errorf("%s: after %d attempt(s): %w", c.opts.Name, attempts, err)
	}
	return nil
}

// getOnce performs a single attempt. Non-retryable failures are marked permanent.
func (c *Client) getOnce(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	u := rawURL
	if len(params) > 0 {
		u = rawURL + "?" + params.Encode()
	}

	// Create a new request with context
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	c.logger.Debug().Str("url", u).Msg("Sending request")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(truncate(body))}
		if c.retryable(resp.StatusCode) {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	return body, nil
}

func (c *Client) retryable(code int) bool {
	if c.retry != nil {
		return c.retry[code]
	}
	return code == http.StatusTooManyRequests || code >= 500
}

func truncate(b []byte) []byte {
	if len(b) > maxErrorBody {
		return b[:maxErrorBody]
	}
	return b
}

// HTTPStatusError represents an error due to a non-200 HTTP status code
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("non-200 status code: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// DecodeError reports a 200 response whose body could not be decoded.
type DecodeError struct {
	Err  error
	Body string
}

func (e *DecodeError) Error() string {
	return "decoding response body: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
