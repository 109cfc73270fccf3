package projects

import (
	"regexp"
	"strings"

	"github.com/sells-group/project-link/internal/model"
)

var projectEndpoint = regexp.MustCompile(`^/?projects/([A-Za-z0-9_-]+)`)

// projectIDFromEndpoint returns the project id of a /projects/<id>/...
// endpoint, or "".
func projectIDFromEndpoint(endpoint string) string {
	m := projectEndpoint.FindStringSubmatch(endpoint)
	if m == nil {
		return ""
	}
	return m[1]
}

// derivePortalIDs guesses portal ids from a numeric project id. Zoho ids
// are commonly a 6 to 12 digit portal prefix, zero padding, then an entity
// counter.
func derivePortalIDs(projectID string) []string {
	if len(projectID) < 13 || strings.Trim(projectID, "0123456789") != "" {
		return nil
	}
	var out []string
	for l := 6; l <= 12; l++ {
		prefix := projectID[:l]
		if prefix[l-1] == '0' {
			continue
		}
		if strings.HasPrefix(projectID[l:], "000") {
			out = append(out, prefix)
		}
	}
	return out
}

// candidates is an ordered, deduplicated, capped queue of routes.
type candidates struct {
	limit  int
	queue  []model.Route
	seen   map[model.Route]bool
	issued int
}

func newCandidates(limit int) *candidates {
	return &candidates{limit: limit, seen: make(map[model.Route]bool)}
}

func (c *candidates) add(r model.Route) {
	if r.Base == "" || r.PortalID == "" || c.seen[r] {
		return
	}
	c.seen[r] = true
	c.queue = append(c.queue, r)
}

// next pops the next route unless the cap is reached.
func (c *candidates) next() (model.Route, bool) {
	if len(c.queue) == 0 || c.full() {
		return model.Route{}, false
	}
	r := c.queue[0]
	c.queue = c.queue[1:]
	c.issued++
	return r, true
}

func (c *candidates) full() bool {
	return c.issued >= c.limit
}

// bases returns the API roots in preference order: configured, cached
// discovery, then the regional list.
func (r *Resolver) bases() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(b string) {
		b = strings.TrimRight(strings.TrimSpace(b), "/")
		if b != "" && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	add(r.cfg.APIBase)
	if b, ok := r.caches.APIBase.Get(defaultKey); ok {
		add(b)
	}
	for _, b := range r.cfg.Bases {
		add(b)
	}
	return out
}

// portals returns the portal candidates known without a network call.
func (r *Resolver) portals(projectID string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(r.cfg.PortalID)
	for _, p := range derivePortalIDs(projectID) {
		add(p)
	}
	if p, ok := r.caches.PortalID.Get(defaultKey); ok {
		add(p)
	}
	return out
}

// staticRoutes lists the routes known without discovery: the cached route of
// the project first, then every base crossed with the portal candidates and
// that base's cached portal list.
func (r *Resolver) staticRoutes(projectID string) []model.Route {
	var out []model.Route
	if projectID != "" {
		if route, ok := r.caches.Routes.Get(projectID); ok {
			out = append(out, route)
		}
	}
	portals := r.portals(projectID)
	for _, base := range r.bases() {
		for _, p := range portals {
			out = append(out, model.Route{Base: base, PortalID: p})
		}
		if listed, ok := r.caches.PortalLists.Get(base); ok {
			for _, p := range listed {
				out = append(out, model.Route{Base: base, PortalID: p})
			}
		}
	}
	return out
}
