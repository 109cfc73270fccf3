package linker

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/match"
	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
)

// membershipPass links projects whose member list contains the client's
// email. Deals are matched against those projects; member projects left
// over become deal-less links.
func (l *Linker) membershipPass(ctx context.Context, r *run, email string) {
	if !r.loadCatalog(ctx, l.catalog) {
		return
	}
	members := l.memberships(ctx, r.catalog, email)
	if len(members) == 0 {
		return
	}

	var pool []model.Project
	for _, p := range r.catalog {
		if members[p.ID] {
			pool = append(pool, p)
		}
	}
	used := r.links.used()
	for _, d := range r.unmapped() {
		if res := match.BestMatch(d, pool, used, r.fields); res != nil {
			if r.links.add(model.LinkForDeal(res.ProjectID, d)) {
				used[res.ProjectID] = true
			}
		}
	}
	for _, p := range pool {
		r.links.add(model.Link{ProjectID: p.ID})
	}
}

// memberships returns the ids of catalog projects listing email as a user.
// Lookups are bounded and shared between concurrent callers.
func (l *Linker) memberships(ctx context.Context, catalog []model.Project, email string) map[string]bool {
	if set, ok := l.caches.Memberships.Get(email); ok {
		return set
	}
	set, _, err := l.caches.MemberLoads.Do(ctx, email, func(ctx context.Context) (map[string]bool, error) {
		candidates := catalog[:min(len(catalog), l.cfg.MaxMembershipLookups)]
		found := make([]bool, len(candidates))
		err := resilience.ForEach(ctx, candidates, l.cfg.MembershipWorkers, func(ctx context.Context, i int, p model.Project) error {
			payload, err := l.projects.Call(ctx, "/projects/"+url.PathEscape(p.ID)+"/users/", nil)
			if err != nil {
				if resilience.IsRateLimited(err) || resilience.IsAborted(err) {
					return err
				}
				zap.L().Warn("linker: project users lookup failed", zap.String("project_id", p.ID), zap.Error(err))
				return nil
			}
			found[i] = hasMember(payload, email)
			return nil
		})

		set := make(map[string]bool)
		for i, ok := range found {
			if ok {
				set[candidates[i].ID] = true
			}
		}
		if err != nil {
			zap.L().Warn("linker: membership lookups stopped early", zap.Error(err))
			return set, nil
		}
		l.caches.Memberships.Set(email, set)
		return set, nil
	})
	if err != nil {
		zap.L().Warn("linker: membership lookup failed", zap.Error(err))
		return nil
	}
	return set
}

func hasMember(payload map[string]any, email string) bool {
	users, _ := payload["users"].([]any)
	for _, u := range users {
		m, ok := u.(map[string]any)
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(model.Text(m["email"])), email) {
			return true
		}
	}
	return false
}
