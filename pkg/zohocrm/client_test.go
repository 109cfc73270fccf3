package zohocrm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/project-link/internal/auth"
	"github.com/sells-group/project-link/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestClient(srv *httptest.Server) Client {
	return NewClient(auth.StaticProvider("tok"),
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRetry(fastRetry()),
	)
}

func TestGet_DecodesWithNumbers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/Deals/42", r.URL.Path)
		assert.Equal(t, "a", r.URL.Query().Get("x"))
		_, _ = w.Write([]byte(`{"data":[{"id":1708545000000017007}]}`))
	}))
	defer srv.Close()

	var out map[string]any
	err := newTestClient(srv).Get(context.Background(), "Deals/42", url.Values{"x": {"a"}}, &out)
	require.NoError(t, err)

	rows := out["data"].([]any)
	assert.Equal(t, json.Number("1708545000000017007"), rows[0].(map[string]any)["id"])
}

func TestGet_NoContentLeavesOutUntouched(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out := map[string]any{"keep": true}
	require.NoError(t, newTestClient(srv).Get(context.Background(), "Deals", nil, &out))
	assert.Equal(t, true, out["keep"])
}

func TestGet_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out map[string]any
	require.NoError(t, newTestClient(srv).Get(context.Background(), "Deals", nil, &out))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, true, out["ok"])
}

func TestGet_RateLimitNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := newTestClient(srv).Get(context.Background(), "Deals", nil, nil)
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimited(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"INVALID_MODULE"}`))
	}))
	defer srv.Close()

	err := newTestClient(srv).Get(context.Background(), "Nope", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "INVALID_MODULE")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_TokenError(t *testing.T) {
	t.Parallel()

	c := NewClient(auth.StaticProvider(""), WithBaseURL("http://127.0.0.1:1"), WithRetry(fastRetry()))
	err := c.Get(context.Background(), "Deals", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token")
}
