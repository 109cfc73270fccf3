package projects

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
	"github.com/sells-group/project-link/pkg/projectsapi"
)

const discoveryWorkers = 4

// discoverPortals lists the portals visible at base, using the per-base
// cache when warm.
func (r *Resolver) discoverPortals(ctx context.Context, token, base string) ([]string, error) {
	if cached, ok := r.caches.PortalLists.Get(base); ok {
		return cached, nil
	}

	breaker := r.breakers.Get(base)
	if err := breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := r.doer.Get(ctx, base+"/portals/", token)
	if err != nil {
		if ctx.Err() != nil || resilience.IsAborted(err) {
			return nil, resilience.Aborted(ctx, "projects: list portals")
		}
		breaker.Record(err)
		return nil, eris.Wrapf(err, "projects: list portals at %s", base)
	}
	breaker.Record(nil)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		zap.L().Warn("projects: rate limited listing portals", zap.String("base", base))
		return nil, &resilience.RateLimitError{Service: "projects", URL: base + "/portals/", RetryAfter: resp.RetryAfter()}
	case resp.StatusCode == http.StatusNoContent:
		r.caches.PortalLists.Set(base, nil)
		return nil, nil
	case !resp.OK():
		return nil, eris.Errorf("projects: list portals at %s: status %d", base, resp.StatusCode)
	}

	payload, err := decodePortals(resp.Body)
	if err != nil {
		return nil, err
	}
	r.caches.PortalLists.Set(base, payload)
	return payload, nil
}

func decodePortals(body []byte) ([]string, error) {
	payload, err := projectsapi.Decode(body)
	if err != nil {
		return nil, err
	}
	list, _ := payload["portals"].([]any)
	var out []string
	seen := make(map[string]bool)
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := model.Text(m["id_string"])
		if id == "" {
			id = model.Text(m["id"])
		}
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// Routes returns every base and portal combination worth sweeping. When a
// base is configured or already discovered only those bases are used;
// otherwise every regional base is asked for its portals.
func (r *Resolver) Routes(ctx context.Context) ([]model.Route, error) {
	token, err := r.tokens.AccessToken(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "projects: access token")
	}

	bases := r.knownBases()
	pinned := len(bases) > 0
	if !pinned {
		bases = r.bases()
	}
	listed := make([][]string, len(bases))
	err = resilience.ForEach(ctx, bases, discoveryWorkers, func(ctx context.Context, i int, base string) error {
		portals, err := r.discoverPortals(ctx, token, base)
		switch {
		case err == nil:
			listed[i] = portals
		case resilience.IsRateLimited(err), resilience.IsAborted(err):
			return err
		default:
			zap.L().Debug("projects: portal discovery failed", zap.String("base", base), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []model.Route
	seen := make(map[model.Route]bool)
	add := func(route model.Route) {
		if route.Base != "" && route.PortalID != "" && !seen[route] {
			seen[route] = true
			out = append(out, route)
		}
	}
	for i, base := range bases {
		// Pinned or remembered portals only pair with pinned or remembered
		// bases.
		if pinned {
			for _, p := range r.portals("") {
				add(model.Route{Base: base, PortalID: p})
			}
		}
		for _, p := range listed[i] {
			add(model.Route{Base: base, PortalID: p})
		}
	}
	return out, nil
}

func (r *Resolver) knownBases() []string {
	var out []string
	if r.cfg.APIBase != "" {
		out = append(out, r.cfg.APIBase)
	}
	if b, ok := r.caches.APIBase.Get(defaultKey); ok && b != r.cfg.APIBase {
		out = append(out, b)
	}
	return out
}
