package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/oauth/v2/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuthProvider_RefreshesOnceAndReuses(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := tokenServer(t, &calls)

	p, err := NewOAuthProvider(context.Background(), Config{
		AccountsURL:  srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "rt-1",
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := p.AccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "at-1", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestOAuthProvider_MissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewOAuthProvider(context.Background(), Config{ClientID: "cid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestOAuthProvider_EndpointError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	p, err := NewOAuthProvider(context.Background(), Config{
		AccountsURL:  srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "rt-1",
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)

	_, err = p.AccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth: refresh token")
}

func TestOAuthProvider_CancelledContext(t *testing.T) {
	t.Parallel()

	p, err := NewOAuthProvider(context.Background(), Config{
		ClientID: "cid", ClientSecret: "secret", RefreshToken: "rt",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.AccessToken(ctx)
	require.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	tok, err := StaticProvider("abc").AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = StaticProvider("").AccessToken(context.Background())
	assert.Error(t, err)
}
