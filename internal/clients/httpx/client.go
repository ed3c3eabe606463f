// Package httpx executes outbound HTTP calls with bounded retry on a
// narrow set of transient conditions: rate limiting and DNS resolution
// failures. Everything else propagates immediately. The retry layer does
// not deduplicate; callers own idempotency.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/defybank/rails/internal/domain"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 4
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
	defaultDNSRetries  = 3
	defaultDNSBackoff  = 300 * time.Millisecond
)

// Client wraps an http.Client with the retry policy.
type Client struct {
	http        *http.Client
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	dnsRetries  int
	dnsBackoff  time.Duration
	logger      *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMaxAttempts caps total attempts for rate-limited requests.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithBackoff sets the exponential backoff base and ceiling.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) { c.backoffBase, c.backoffMax = base, max }
}

// WithDNSRetry sets the transient-DNS retry count and linear backoff base.
func WithDNSRetry(tries int, base time.Duration) Option {
	return func(c *Client) { c.dnsRetries, c.dnsBackoff = tries, base }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client with default values and optional overrides.
func New(opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		dnsRetries:  defaultDNSRetries,
		dnsBackoff:  defaultDNSBackoff,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes the request produced by build, rebuilding it per attempt so
// bodies are replayable. A 429 honors a numeric Retry-After, otherwise
// backs off exponentially with jitter; transient DNS failures back off
// linearly; all other failures return immediately.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	expo := &backoff.Backoff{
		Min:    c.backoffBase,
		Max:    c.backoffMax,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	dnsAttempt := 0
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if isTransientDNS(err) {
				dnsAttempt++
				lastErr = err
				if dnsAttempt >= c.dnsRetries {
					return nil, errors.Wrapf(domain.ErrTransientNetwork,
						"dns resolution failed after %d attempts: %s", dnsAttempt, err)
				}
				if err := sleep(ctx, c.dnsBackoff*time.Duration(dnsAttempt)); err != nil {
					return nil, err
				}
				attempt--
				continue
			}
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		delay := retryAfter(resp)
		if delay <= 0 {
			delay = expo.Duration()
		}
		drain(resp)
		lastErr = errors.Errorf("rate limited (%s %s)", req.Method, req.URL.Path)
		c.logger.Debug("rate limited, backing off",
			zap.String("url", req.URL.String()),
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt+1))

		if attempt == c.maxAttempts-1 {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, errors.Wrapf(domain.ErrTransientNetwork,
		"gave up after %d attempts: %s", c.maxAttempts, lastErr)
}

// GetJSON issues a GET and decodes a 2xx JSON body into out. A 4xx/5xx
// answer is returned as an error with a body preview.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	return c.doJSON(ctx, http.MethodGet, url, nil, headers, out)
}

// PostJSON issues a POST with a JSON body and decodes a 2xx JSON answer.
func (c *Client) PostJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error {
	return c.doJSON(ctx, http.MethodPost, url, body, headers, out)
}

// PutJSON issues a PUT with a JSON body and decodes a 2xx JSON answer.
func (c *Client) PutJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error {
	return c.doJSON(ctx, http.MethodPut, url, body, headers, out)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body any, headers map[string]string, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
	}

	resp, err := c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	if resp.StatusCode >= 400 {
		preview := string(raw)
		if len(preview) > 500 {
			preview = preview[:500]
		}
		return errors.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, preview)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode response body")
}

func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func isTransientDNS(err error) bool {
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		return false
	}
	return dnsErr.IsTemporary || dnsErr.IsTimeout
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
