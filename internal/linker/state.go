package linker

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/model"
)

// linkSet holds at most one link per project and maps each deal to at most
// one project.
type linkSet struct {
	order  []string
	byID   map[string]model.Link
	byDeal map[string]string
}

func newLinkSet() *linkSet {
	return &linkSet{byID: make(map[string]model.Link), byDeal: make(map[string]string)}
}

func (s *linkSet) len() int { return len(s.order) }

func (s *linkSet) has(projectID string) bool {
	_, ok := s.byID[projectID]
	return ok
}

func (s *linkSet) projectFor(dealID string) (string, bool) {
	pid, ok := s.byDeal[dealID]
	return pid, ok
}

// add inserts l unless its project is already linked. A deal that already
// owns a project is dropped from l, leaving a deal-less link.
func (s *linkSet) add(l model.Link) bool {
	if l.ProjectID == "" || s.has(l.ProjectID) {
		return false
	}
	if l.DealID != "" {
		if _, taken := s.byDeal[l.DealID]; taken {
			l = model.Link{ProjectID: l.ProjectID}
		} else {
			s.byDeal[l.DealID] = l.ProjectID
		}
	}
	s.byID[l.ProjectID] = l
	s.order = append(s.order, l.ProjectID)
	return true
}

func (s *linkSet) remove(projectID string) {
	l, ok := s.byID[projectID]
	if !ok {
		return
	}
	delete(s.byID, projectID)
	if l.DealID != "" {
		delete(s.byDeal, l.DealID)
	}
	for i, id := range s.order {
		if id == projectID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *linkSet) used() map[string]bool {
	out := make(map[string]bool, len(s.byID))
	for id := range s.byID {
		out[id] = true
	}
	return out
}

func (s *linkSet) list() []model.Link {
	out := make([]model.Link, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// run is the state of one LinksForClient evaluation.
type run struct {
	deals   []model.Deal
	fields  []string
	links   *linkSet
	handled map[string]bool

	catalog       []model.Project
	catalogLoaded bool
}

// unmapped returns deals still eligible for name matching.
func (r *run) unmapped() []model.Deal {
	var out []model.Deal
	for _, d := range r.deals {
		id := d.ID()
		if id == "" || r.handled[id] {
			continue
		}
		if _, ok := r.links.projectFor(id); ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// loadCatalog fetches the catalog once per run and reports whether it is
// usable.
func (r *run) loadCatalog(ctx context.Context, c Catalog) bool {
	if !r.catalogLoaded {
		r.catalogLoaded = true
		projects, err := c.ForMatching(ctx)
		if err != nil {
			zap.L().Warn("linker: project catalog unavailable", zap.Error(err))
		}
		r.catalog = projects
	}
	return len(r.catalog) > 0
}
