// Package projects resolves which regional API host and portal serve a Zoho
// Projects request and performs the call with multi-route fallback.
package projects

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/auth"
	"github.com/sells-group/project-link/internal/cache"
	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
	"github.com/sells-group/project-link/pkg/projectsapi"
)

// DefaultMaxRouteAttempts caps the routes tried by one Call.
const DefaultMaxRouteAttempts = 12

// DefaultBases are the regional REST roots, tried in order.
var DefaultBases = []string{
	"https://projectsapi.zoho.com/restapi",
	"https://projectsapi.zoho.eu/restapi",
	"https://projectsapi.zoho.in/restapi",
	"https://projectsapi.zoho.com.au/restapi",
	"https://projectsapi.zoho.jp/restapi",
	"https://projectsapi.zohocloud.ca/restapi",
	"https://projectsapi.zoho.com.cn/restapi",
	"https://projectsapi.zoho.sa/restapi",
}

const defaultKey = "default"

// Config holds operator overrides for routing.
type Config struct {
	PortalID         string
	APIBase          string
	Bases            []string
	MaxRouteAttempts int
}

// Resolver routes Projects API calls.
type Resolver struct {
	cfg      Config
	doer     projectsapi.Doer
	tokens   auth.TokenProvider
	caches   *cache.Manager
	breakers *resilience.ServiceBreakers
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config, doer projectsapi.Doer, tokens auth.TokenProvider, caches *cache.Manager) *Resolver {
	if len(cfg.Bases) == 0 {
		cfg.Bases = DefaultBases
	}
	if cfg.MaxRouteAttempts <= 0 {
		cfg.MaxRouteAttempts = DefaultMaxRouteAttempts
	}
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	cfg.PortalID = strings.TrimSpace(cfg.PortalID)

	bc := resilience.DefaultCircuitBreakerConfig()
	bc.ShouldTrip = func(err error) bool { return !resilience.IsAborted(err) }
	return &Resolver{
		cfg:      cfg,
		doer:     doer,
		tokens:   tokens,
		caches:   caches,
		breakers: resilience.NewServiceBreakers(bc),
	}
}

// PortalConfigured reports whether an operator pinned the portal id.
func (r *Resolver) PortalConfigured() bool {
	return r.cfg.PortalID != ""
}

// deferredEmpty is a 2xx answer with an empty projects list. Mis-scoped
// portals answer like that for foreign projects, so it only wins when every
// other route fails.
type deferredEmpty struct {
	route   model.Route
	payload map[string]any
}

// Call performs GET endpoint with query against the first route that gives
// a usable answer.
func (r *Resolver) Call(ctx context.Context, endpoint string, query url.Values) (map[string]any, error) {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "projects: access token")
	}

	projectID := projectIDFromEndpoint(endpoint)
	cands := newCandidates(r.cfg.MaxRouteAttempts)
	for _, route := range r.staticRoutes(projectID) {
		cands.add(route)
	}

	var (
		attempts []resilience.RouteAttempt
		deferred *deferredEmpty
	)
	try := func(route model.Route) (map[string]any, bool, error) {
		if ctx.Err() != nil {
			return nil, false, resilience.Aborted(ctx, "projects: call "+endpoint)
		}
		payload, status, err := r.attempt(ctx, token, route, endpoint, query)
		switch {
		case err == nil && (status == http.StatusNoContent || isEmptyProjects(payload)):
			if deferred == nil {
				deferred = &deferredEmpty{route: route, payload: payload}
			}
			return nil, false, nil
		case err == nil:
			r.remember(route, projectID)
			return payload, true, nil
		case resilience.IsRateLimited(err) || resilience.IsAborted(err):
			return nil, false, err
		}
		zap.L().Debug("projects: route failed",
			zap.String("endpoint", endpoint),
			zap.String("route", route.String()),
			zap.Int("status", status),
			zap.Error(err),
		)
		attempts = append(attempts, resilience.RouteAttempt{Base: route.Base, PortalID: route.PortalID, Status: status, Err: err})
		return nil, false, nil
	}

	for route, ok := cands.next(); ok; route, ok = cands.next() {
		payload, done, err := try(route)
		if err != nil {
			return nil, err
		}
		if done {
			return payload, nil
		}
	}

	// Live portal discovery, one base at a time, only after every known
	// combination failed.
	for _, base := range r.bases() {
		if cands.full() {
			break
		}
		portals, err := r.discoverPortals(ctx, token, base)
		if err != nil {
			if resilience.IsRateLimited(err) || resilience.IsAborted(err) {
				return nil, err
			}
			zap.L().Debug("projects: portal discovery failed", zap.String("base", base), zap.Error(err))
			continue
		}
		for _, portal := range portals {
			cands.add(model.Route{Base: base, PortalID: portal})
		}
		for route, ok := cands.next(); ok; route, ok = cands.next() {
			payload, done, err := try(route)
			if err != nil {
				return nil, err
			}
			if done {
				return payload, nil
			}
		}
	}

	if deferred != nil {
		zap.L().Debug("projects: returning deferred empty answer",
			zap.String("endpoint", endpoint),
			zap.String("route", deferred.route.String()),
		)
		return deferred.payload, nil
	}
	return nil, &resilience.RouteExhaustedError{Endpoint: endpoint, Attempts: attempts}
}

// CallRoute performs a single GET against route without fallback. A 204
// decodes to an empty map.
func (r *Resolver) CallRoute(ctx context.Context, route model.Route, endpoint string, query url.Values) (map[string]any, error) {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "projects: access token")
	}
	payload, _, err := r.attempt(ctx, token, route, endpoint, query)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// attempt performs one GET. It returns the status seen, and an error for
// transport failures, 429, non-2xx statuses and undecodable bodies.
func (r *Resolver) attempt(ctx context.Context, token string, route model.Route, endpoint string, query url.Values) (map[string]any, int, error) {
	breaker := r.breakers.Get(route.Base)
	if err := breaker.Allow(); err != nil {
		return nil, 0, err
	}

	rawURL := route.URL(endpoint)
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	resp, err := r.doer.Get(ctx, rawURL, token)
	if err != nil {
		if ctx.Err() != nil || resilience.IsAborted(err) {
			return nil, 0, resilience.Aborted(ctx, "projects: call "+endpoint)
		}
		breaker.Record(err)
		return nil, 0, err
	}
	breaker.Record(nil)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		zap.L().Warn("projects: rate limited by upstream",
			zap.String("route", route.String()),
			zap.String("endpoint", endpoint),
			zap.Duration("retry_after", resp.RetryAfter()),
		)
		return nil, resp.StatusCode, &resilience.RateLimitError{
			Service:    "projects",
			URL:        route.String() + " " + endpoint,
			RetryAfter: resp.RetryAfter(),
			Body:       snippet(resp.Body),
		}
	case resp.StatusCode == http.StatusNoContent:
		return map[string]any{}, resp.StatusCode, nil
	case !resp.OK():
		return nil, resp.StatusCode, eris.Errorf("projects: status %d: %s", resp.StatusCode, snippet(resp.Body))
	}

	payload, err := projectsapi.Decode(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return payload, resp.StatusCode, nil
}

func (r *Resolver) remember(route model.Route, projectID string) {
	r.caches.APIBase.Set(defaultKey, route.Base)
	r.caches.PortalID.Set(defaultKey, route.PortalID)
	if projectID != "" {
		r.caches.Routes.Set(projectID, route)
	}
}

// isEmptyProjects reports a payload whose projects list is present but empty.
func isEmptyProjects(payload map[string]any) bool {
	v, ok := payload["projects"]
	if !ok {
		return false
	}
	list, ok := v.([]any)
	return ok && len(list) == 0
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
