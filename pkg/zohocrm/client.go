// Package zohocrm provides authenticated read access to the Zoho CRM v2 API.
package zohocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/project-link/internal/auth"
	"github.com/sells-group/project-link/internal/resilience"
)

// DefaultBaseURL is the US data center API root.
const DefaultBaseURL = "https://www.zohoapis.com/crm/v2"

// Client defines the CRM operations used by the linker.
type Client interface {
	// Get fetches endpoint (relative to the API root) and decodes the JSON
	// body into out. A 204 leaves out untouched.
	Get(ctx context.Context, endpoint string, query url.Values, out any) error
}

// ClientOption configures the CRM client.
type ClientOption func(*crmClient)

// WithBaseURL sets a custom API root (for testing or other data centers).
func WithBaseURL(u string) ClientOption {
	return func(c *crmClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *crmClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second rate limit for CRM calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) ClientOption {
	return func(c *crmClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *crmClient) {
		c.retry = cfg
	}
}

type crmClient struct {
	baseURL string
	tokens  auth.TokenProvider
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a CRM client that authenticates with tokens.
func NewClient(tokens auth.TokenProvider, opts ...ClientOption) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("zohocrm", "get")
	c := &crmClient{
		baseURL: DefaultBaseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *crmClient) Get(ctx context.Context, endpoint string, query url.Values, out any) error {
	reqURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, endpoint, reqURL)
	})
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 || out == nil {
		return nil
	}
	return decode(body, out, endpoint)
}

func (c *crmClient) do(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "zohocrm: rate limit")
		}
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "zohocrm: access token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "zohocrm: create request")
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, resilience.Aborted(ctx, "zohocrm: get "+endpoint)
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "zohocrm: get %s", endpoint), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "zohocrm: read %s", endpoint)
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &resilience.RateLimitError{Service: "zohocrm", URL: endpoint, Body: truncate(body)}
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("zohocrm: %s status %d: %s", endpoint, resp.StatusCode, truncate(body)), resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, eris.Errorf("zohocrm: %s status %d: %s", endpoint, resp.StatusCode, truncate(body))
	}
	return body, nil
}

func decode(body []byte, out any, endpoint string) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return eris.Wrap(err, fmt.Sprintf("zohocrm: decode %s", endpoint))
	}
	return nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
