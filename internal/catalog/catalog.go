// Package catalog fetches the Zoho Projects project list used for name
// matching and listing.
package catalog

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/project-link/internal/cache"
	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
)

const (
	catalogKey      = "catalog"
	defaultPageSize = 100
	maxPageSize     = 200
	maxPages        = 25
	sweepWorkers    = 4
)

// sweepStatuses are fetched separately because Zoho lists only active
// projects by default.
var sweepStatuses = []string{"active", "archived"}

// API is the subset of the resolver the fetcher needs.
type API interface {
	Call(ctx context.Context, endpoint string, query url.Values) (map[string]any, error)
	CallRoute(ctx context.Context, route model.Route, endpoint string, query url.Values) (map[string]any, error)
	Routes(ctx context.Context) ([]model.Route, error)
}

// Fetcher loads project catalogs.
type Fetcher struct {
	api      API
	caches   *cache.Manager
	pageSize int
}

// NewFetcher creates a Fetcher.
func NewFetcher(api API, caches *cache.Manager) *Fetcher {
	return &Fetcher{api: api, caches: caches, pageSize: defaultPageSize}
}

// ForMatching returns every active and archived project visible on any
// route, deduplicated by id. Concurrent callers share one sweep and the
// result is cached.
func (f *Fetcher) ForMatching(ctx context.Context) ([]model.Project, error) {
	if projects, ok := f.caches.Catalog.Get(catalogKey); ok {
		return projects, nil
	}
	projects, _, err := f.caches.CatalogLoads.Do(ctx, catalogKey, f.sweep)
	return projects, err
}

type branch struct {
	route  model.Route
	status string
}

func (f *Fetcher) sweep(ctx context.Context) ([]model.Project, error) {
	routes, err := f.api.Routes(ctx)
	if err != nil {
		if resilience.IsAborted(err) || resilience.IsRateLimited(err) {
			return nil, err
		}
		zap.L().Warn("catalog: route discovery failed, using fallback listing", zap.Error(err))
	}

	var branches []branch
	for _, r := range routes {
		for _, s := range sweepStatuses {
			branches = append(branches, branch{route: r, status: s})
		}
	}

	results := make([][]model.Project, len(branches))
	var (
		mu          sync.Mutex
		failed      int
		rateLimited error
	)
	var g errgroup.Group
	g.SetLimit(sweepWorkers)
	for i, b := range branches {
		g.Go(func() error {
			projects, err := f.pages(ctx, f.pageSize, func(ctx context.Context, q url.Values) (map[string]any, error) {
				q.Set("status", b.status)
				return f.api.CallRoute(ctx, b.route, "/projects/", q)
			})
			if err != nil {
				zap.L().Warn("catalog: sweep branch failed",
					zap.String("route", b.route.String()),
					zap.String("status", b.status),
					zap.Error(err),
				)
				mu.Lock()
				failed++
				if rateLimited == nil && resilience.IsRateLimited(err) {
					rateLimited = err
				}
				mu.Unlock()
			}
			results[i] = projects
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, resilience.Aborted(ctx, "catalog: sweep")
	}

	merged := merge(results...)
	if len(merged) > 0 {
		f.caches.Catalog.Set(catalogKey, merged)
		return merged, nil
	}
	if rateLimited != nil {
		return nil, rateLimited
	}

	fallback, ferr := f.ListAll(ctx, "", f.pageSize)
	if ferr != nil {
		if len(branches) > 0 && failed < len(branches) {
			zap.L().Warn("catalog: fallback listing failed", zap.Error(ferr))
			f.caches.Catalog.Set(catalogKey, nil)
			return nil, nil
		}
		return nil, eris.Wrap(ferr, "catalog: every catalog call failed")
	}
	f.caches.Catalog.Set(catalogKey, fallback)
	return fallback, nil
}

// ListAll pages through /projects/ on the preferred route. An empty status
// lists the upstream default.
func (f *Fetcher) ListAll(ctx context.Context, status string, pageSize int) ([]model.Project, error) {
	if pageSize <= 0 {
		pageSize = f.pageSize
	}
	pageSize = min(pageSize, maxPageSize)

	return f.pages(ctx, pageSize, func(ctx context.Context, q url.Values) (map[string]any, error) {
		if status != "" {
			q.Set("status", status)
		}
		return f.api.Call(ctx, "/projects/", q)
	})
}

// pages walks index/range pagination. A failure after the first page keeps
// what was collected.
func (f *Fetcher) pages(ctx context.Context, pageSize int, get func(ctx context.Context, q url.Values) (map[string]any, error)) ([]model.Project, error) {
	var out []model.Project
	seen := make(map[string]bool)
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("index", strconv.Itoa(page*pageSize+1))
		q.Set("range", strconv.Itoa(pageSize))

		payload, err := get(ctx, q)
		if err != nil {
			if page == 0 || resilience.IsAborted(err) || resilience.IsRateLimited(err) {
				return out, err
			}
			zap.L().Warn("catalog: stopping pagination early", zap.Int("page", page), zap.Error(err))
			return out, nil
		}

		rows := Parse(payload)
		added := 0
		for _, p := range rows {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
				added++
			}
		}
		if added == 0 || len(rows) < pageSize {
			break
		}
	}
	return out, nil
}

// Parse extracts the projects of a /projects/ payload.
func Parse(payload map[string]any) []model.Project {
	list, _ := payload["projects"].([]any)
	out := make([]model.Project, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := model.ProjectFromMap(m); ok {
			out = append(out, p)
		}
	}
	return out
}

func merge(lists ...[]model.Project) []model.Project {
	var out []model.Project
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, p := range list {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	return out
}
