package linker

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/extract"
	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/internal/resilience"
	"github.com/sells-group/project-link/pkg/zohocrm"
)

const (
	dealsModule = "Deals"
	metadataKey = "deals"
)

// dealFields returns the project reference fields to read: configured
// names, the built-in list and project fields found in CRM metadata.
func (l *Linker) dealFields(ctx context.Context) []string {
	fields := append(append([]string(nil), l.cfg.DealFields...), extract.DefaultDealFields...)
	if l.crm == nil {
		return fields
	}
	if discovered, ok := l.caches.DealFields.Get(metadataKey); ok {
		return append(fields, discovered...)
	}

	meta, err := zohocrm.Fields(ctx, l.crm, dealsModule)
	if err != nil {
		zap.L().Warn("linker: deal field discovery failed", zap.Error(err))
		return fields
	}
	var discovered []string
	for _, f := range meta {
		if extract.IsProjectField(f.APIName) || strings.Contains(strings.ToLower(f.FieldLabel), "project") {
			discovered = append(discovered, f.APIName)
		}
	}
	l.caches.DealFields.Set(metadataKey, discovered)
	return append(fields, discovered...)
}

// directPass links every identifier found in the deals' project fields. The
// first id of a deal carries the deal; further ids become deal-less links.
func (l *Linker) directPass(r *run) {
	for _, d := range r.deals {
		ids := extract.DealProjectIDs(d, r.fields)
		if len(ids) == 0 {
			continue
		}
		addDealIDs(r, d, ids)
	}
}

func addDealIDs(r *run, d model.Deal, ids []string) {
	if id := d.ID(); id != "" {
		r.handled[id] = true
	}
	for i, pid := range ids {
		if i == 0 {
			r.links.add(model.LinkForDeal(pid, d))
			continue
		}
		r.links.add(model.Link{ProjectID: pid})
	}
}

// relatedListPass reads project ids from the Deals related list that links
// to projects. The working list name is probed on the first deal and
// cached.
func (l *Linker) relatedListPass(ctx context.Context, r *run) {
	if l.crm == nil {
		return
	}
	deals := r.unmapped()
	if len(deals) == 0 {
		return
	}

	name, rows, ok := l.probeRelatedList(ctx, deals[0])
	if !ok {
		return
	}

	perDeal := make([][]string, len(deals))
	perDeal[0] = rowIDs(rows)
	err := resilience.ForEach(ctx, deals[1:], l.cfg.RehydrateWorkers, func(ctx context.Context, i int, d model.Deal) error {
		rows, err := zohocrm.RelatedRecords(ctx, l.crm, dealsModule, d.ID(), name)
		if err != nil {
			zap.L().Warn("linker: related list fetch failed",
				zap.String("deal_id", d.ID()),
				zap.String("related_list", name),
				zap.Error(err),
			)
			return nil
		}
		perDeal[i+1] = rowIDs(rows)
		return nil
	})
	if err != nil {
		zap.L().Warn("linker: related list pass aborted", zap.Error(err))
	}

	for i, d := range deals {
		if len(perDeal[i]) > 0 {
			addDealIDs(r, d, perDeal[i])
		}
	}
}

// probeRelatedList finds a related-list name that the CRM accepts for d,
// starting with the cached winner.
func (l *Linker) probeRelatedList(ctx context.Context, d model.Deal) (string, []map[string]any, bool) {
	try := func(name string) ([]map[string]any, bool, bool) {
		rows, err := zohocrm.RelatedRecords(ctx, l.crm, dealsModule, d.ID(), name)
		if err == nil {
			l.caches.RelatedList.Set(metadataKey, name)
			return rows, true, false
		}
		zap.L().Debug("linker: related list rejected", zap.String("related_list", name), zap.Error(err))
		if resilience.IsRateLimited(err) || resilience.IsAborted(err) {
			zap.L().Warn("linker: related list discovery stopped", zap.Error(err))
			return nil, false, true
		}
		return nil, false, false
	}

	cached, hasCached := l.caches.RelatedList.Get(metadataKey)
	if hasCached {
		rows, ok, stop := try(cached)
		if ok {
			return cached, rows, true
		}
		if stop {
			return "", nil, false
		}
	}
	for _, name := range l.relatedListNames(ctx) {
		if hasCached && name == cached {
			continue
		}
		rows, ok, stop := try(name)
		if ok {
			return name, rows, true
		}
		if stop {
			return "", nil, false
		}
	}
	zap.L().Warn("linker: no related list name accepted", zap.String("deal_id", d.ID()))
	return "", nil, false
}

// relatedListNames orders candidates: CRM metadata first, then the
// configured fallbacks.
func (l *Linker) relatedListNames(ctx context.Context) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	lists, err := zohocrm.RelatedLists(ctx, l.crm, dealsModule)
	if err != nil {
		zap.L().Warn("linker: related list metadata unavailable", zap.Error(err))
	}
	for _, rl := range lists {
		if isProjectList(rl) {
			add(rl.APIName)
		}
	}
	for _, name := range l.cfg.RelatedLists {
		add(name)
	}
	return out
}

func isProjectList(rl zohocrm.RelatedList) bool {
	for _, s := range []string{rl.APIName, rl.Module.APIName, rl.DisplayLabel, rl.Name} {
		if strings.Contains(strings.ToLower(s), "project") {
			return true
		}
	}
	return false
}

func rowIDs(rows []map[string]any) []string {
	var out []string
	seen := make(map[string]bool)
	for _, row := range rows {
		for _, id := range extract.ParseProjectIDs(row) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
