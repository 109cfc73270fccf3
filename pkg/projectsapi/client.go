// Package projectsapi is the raw HTTP transport for the Zoho Projects REST
// API. It knows nothing about portals or routing; callers build full URLs.
package projectsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/project-link/internal/resilience"
)

const maxBodyBytes = 16 << 20

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RetryAfter parses the Retry-After header in seconds.
func (r *Response) RetryAfter() time.Duration {
	secs, err := strconv.Atoi(r.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Doer performs authenticated GETs against a full Projects URL.
type Doer interface {
	Get(ctx context.Context, rawURL, token string) (*Response, error)
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout. The timeout is layered on top of
// the caller's context, whichever ends first wins.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit allows n requests per window with a burst of n.
func WithRateLimit(n int, window time.Duration) Option {
	return func(c *Client) {
		if n > 0 && window > 0 {
			c.limiter = rate.NewLimiter(rate.Every(window/time.Duration(n)), n)
		}
	}
}

// Client is the default Doer.
type Client struct {
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// NewClient creates a Projects transport. Defaults: 10s timeout, 100
// requests per 2 minutes.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: 10 * time.Second,
		limiter: rate.NewLimiter(rate.Every(2*time.Minute/100), 100),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues one GET. Non-2xx statuses are returned as a Response, not an
// error; errors are transport failures or caller cancellation.
func (c *Client) Get(ctx context.Context, rawURL, token string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, resilience.Aborted(ctx, "projectsapi: rate limit wait")
			}
			return nil, eris.Wrap(err, "projectsapi: rate limit wait")
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "projectsapi: create request")
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.Aborted(ctx, "projectsapi: get")
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "projectsapi: get %s", redact(rawURL)), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.Aborted(ctx, "projectsapi: read body")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "projectsapi: read body"), resp.StatusCode)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Decode parses a JSON object keeping numbers as json.Number. An empty body
// decodes to an empty map.
func Decode(body []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, eris.Wrap(err, "projectsapi: decode response")
	}
	return out, nil
}

// redact drops the query string so tokens or emails never reach logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}
