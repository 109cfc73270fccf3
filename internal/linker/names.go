package linker

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/match"
	"github.com/sells-group/project-link/internal/model"
)

// exactPass links deals whose name or project-field text equals a catalog
// project name. A deal linked to a project missing from the catalog is
// moved to its exact match when one exists; remaining links to projects
// missing from the catalog are dropped. The caller guarantees a non-empty
// catalog.
func (l *Linker) exactPass(r *run) {
	inCatalog := make(map[string]bool, len(r.catalog))
	byName := make(map[string][]model.Project)
	for _, p := range r.catalog {
		inCatalog[p.ID] = true
		if n := match.Normalize(p.Name); n != "" {
			byName[n] = append(byName[n], p)
		}
	}

	for _, d := range r.deals {
		id := d.ID()
		if id == "" {
			continue
		}
		current, mapped := r.links.projectFor(id)
		if mapped && inCatalog[current] {
			continue
		}
		if !mapped && r.handled[id] {
			continue
		}

		p := exactMatch(d, r.fields, byName, r.links)
		if p == nil {
			continue
		}
		if mapped {
			zap.L().Debug("linker: replacing stale link with exact match",
				zap.String("deal_id", id),
				zap.String("stale_project_id", current),
				zap.String("project_id", p.ID),
			)
			r.links.remove(current)
		}
		r.links.add(model.LinkForDeal(p.ID, d))
	}

	for _, link := range r.links.list() {
		if inCatalog[link.ProjectID] {
			continue
		}
		zap.L().Warn("linker: dropping link to project missing from catalog",
			zap.String("project_id", link.ProjectID),
			zap.String("deal_id", link.DealID),
			zap.Int("catalog_size", len(r.catalog)),
		)
		r.links.remove(link.ProjectID)
		if link.DealID != "" {
			delete(r.handled, link.DealID)
		}
	}
}

func exactMatch(d model.Deal, fields []string, byName map[string][]model.Project, links *linkSet) *model.Project {
	for _, c := range match.ExactCandidates(d, fields) {
		for _, p := range byName[c] {
			if !links.has(p.ID) {
				return &p
			}
		}
	}
	return nil
}

// fuzzyPass scores the remaining deals against active projects, then the
// whole catalog.
func (l *Linker) fuzzyPass(r *run) {
	var active []model.Project
	for _, p := range r.catalog {
		if p.IsActive() {
			active = append(active, p)
		}
	}
	contested := make(map[string]bool)
	fuzzyRound(r, active, contested)
	fuzzyRound(r, r.catalog, contested)
}

type proposal struct {
	deal   model.Deal
	result match.Result
}

// fuzzyRound lets each unmapped deal propose its accepted best project.
// When several deals propose the same project below the high-confidence
// score and within the ambiguity gap of each other, none of them gets it
// and they sit out the following rounds.
func fuzzyRound(r *run, pool []model.Project, contested map[string]bool) {
	if len(pool) == 0 {
		return
	}
	used := r.links.used()

	var props []proposal
	for _, d := range r.unmapped() {
		if contested[d.ID()] {
			continue
		}
		best, second := match.BestScores(match.DealCandidates(d, r.fields), pool, used)
		if best.ProjectID == "" || !match.Accept(best.Score, second) {
			continue
		}
		props = append(props, proposal{deal: d, result: best})
	}

	var order []string
	byProject := make(map[string][]proposal)
	for _, p := range props {
		pid := p.result.ProjectID
		if _, ok := byProject[pid]; !ok {
			order = append(order, pid)
		}
		byProject[pid] = append(byProject[pid], p)
	}

	for _, pid := range order {
		group := byProject[pid]
		sort.SliceStable(group, func(i, j int) bool { return group[i].result.Score > group[j].result.Score })
		top := group[0]
		if len(group) > 1 {
			gap := top.result.Score - group[1].result.Score
			if top.result.Score < match.HighConfidenceScore && gap < match.MinAmbiguityGap {
				for _, p := range group {
					contested[p.deal.ID()] = true
				}
				zap.L().Debug("linker: contested fuzzy match left unlinked",
					zap.String("project_id", pid),
					zap.Int("deals", len(group)),
					zap.Int("score", top.result.Score),
				)
				continue
			}
		}
		r.links.add(model.LinkForDeal(pid, top.deal))
	}
}
