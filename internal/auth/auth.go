// Package auth supplies OAuth access tokens for the CRM and Projects APIs.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
)

// TokenProvider returns a currently valid access token.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config holds the refresh-token grant settings.
type Config struct {
	AccountsURL  string
	ClientID     string
	ClientSecret string
	RefreshToken string
	// EarlyExpiry refreshes the token this long before it expires.
	EarlyExpiry time.Duration
	HTTPClient  *http.Client
}

// OAuthProvider refreshes tokens with the refresh-token grant. Concurrent
// callers share one refresh: oauth2's reuse source holds a lock around it.
type OAuthProvider struct {
	src oauth2.TokenSource
}

// NewOAuthProvider builds a provider. ctx only carries the HTTP client used
// for refreshes and must outlive the provider.
func NewOAuthProvider(ctx context.Context, cfg Config) (*OAuthProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, eris.New("auth: client id, client secret and refresh token are required")
	}
	accounts := strings.TrimRight(cfg.AccountsURL, "/")
	if accounts == "" {
		accounts = "https://accounts.zoho.com"
	}
	early := cfg.EarlyExpiry
	if early <= 0 {
		early = 2 * time.Minute
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  accounts + "/oauth/v2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	base := context.WithoutCancel(ctx)
	if cfg.HTTPClient != nil {
		base = context.WithValue(base, oauth2.HTTPClient, cfg.HTTPClient)
	}
	src := oc.TokenSource(base, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return &OAuthProvider{src: oauth2.ReuseTokenSourceWithExpiry(nil, src, early)}, nil
}

// AccessToken returns a cached token or refreshes one.
func (p *OAuthProvider) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "auth: access token")
	}
	tok, err := p.src.Token()
	if err != nil {
		return "", eris.Wrap(err, "auth: refresh token")
	}
	if tok.AccessToken == "" {
		return "", eris.New("auth: token endpoint returned no access token")
	}
	return tok.AccessToken, nil
}

// StaticProvider always returns the same token.
type StaticProvider string

// AccessToken implements TokenProvider.
func (s StaticProvider) AccessToken(context.Context) (string, error) {
	if s == "" {
		return "", eris.New("auth: no access token configured")
	}
	return string(s), nil
}
