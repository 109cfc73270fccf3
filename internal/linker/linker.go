// Package linker answers which Zoho Projects projects belong to a CRM
// client. It links deals to projects through direct identifiers, CRM
// related lists, exact and fuzzy name matching and, as a last resort,
// project membership of the client's email.
package linker

import (
	"context"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/cache"
	"github.com/sells-group/project-link/internal/model"
	"github.com/sells-group/project-link/pkg/zohocrm"
)

// DealSource loads the deals of a client. Deals without an "id" still
// contribute direct project ids, as deal-less links, but take no part in
// name matching or membership matching.
type DealSource interface {
	GetDealsForClient(ctx context.Context, contactID, email string) ([]model.Deal, error)
}

// ProjectsAPI performs a routed Projects API call.
type ProjectsAPI interface {
	Call(ctx context.Context, endpoint string, query url.Values) (map[string]any, error)
}

// Catalog supplies the projects used for name matching.
type Catalog interface {
	ForMatching(ctx context.Context) ([]model.Project, error)
}

// Config tunes the linker.
type Config struct {
	// DealFields are tenant-specific project reference fields, checked
	// before the built-in list and the "project" key heuristic.
	DealFields []string
	// RelatedLists are related-list API names tried after the ones found in
	// CRM metadata.
	RelatedLists []string

	RehydrateWorkers     int
	MembershipWorkers    int
	MaxMembershipLookups int
}

// DefaultRelatedLists are related-list API names seen across tenants.
var DefaultRelatedLists = []string{"Zoho_Projects", "Projects", "Zoho_Projects_Deals", "Projects_Deals"}

func (c Config) withDefaults() Config {
	if len(c.RelatedLists) == 0 {
		c.RelatedLists = DefaultRelatedLists
	}
	if c.RehydrateWorkers <= 0 {
		c.RehydrateWorkers = 3
	}
	if c.MembershipWorkers <= 0 {
		c.MembershipWorkers = 3
	}
	if c.MaxMembershipLookups <= 0 {
		c.MaxMembershipLookups = 80
	}
	return c
}

// Linker is the deal to project orchestrator.
type Linker struct {
	deals    DealSource
	projects ProjectsAPI
	catalog  Catalog
	crm      zohocrm.Client
	caches   *cache.Manager
	cfg      Config
}

// New creates a Linker. crm may be nil, which disables field discovery and
// the related-list pass.
func New(deals DealSource, projects ProjectsAPI, catalog Catalog, crm zohocrm.Client, caches *cache.Manager, cfg Config) *Linker {
	return &Linker{
		deals:    deals,
		projects: projects,
		catalog:  catalog,
		crm:      crm,
		caches:   caches,
		cfg:      cfg.withDefaults(),
	}
}

// LinksForContact is LinksForClient without an email.
func (l *Linker) LinksForContact(ctx context.Context, contactID string) ([]model.Link, error) {
	return l.LinksForClient(ctx, contactID, "")
}

// ProjectIDsForContact returns the linked project ids in rank order.
func (l *Linker) ProjectIDsForContact(ctx context.Context, contactID string) ([]string, error) {
	links, err := l.LinksForContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(links))
	for i, link := range links {
		ids[i] = link.ProjectID
	}
	return ids, nil
}

// LinksForClient returns the ranked project links of a client. Only a
// failure to load the client's deals is returned as an error; every other
// failing step is logged and contributes nothing.
func (l *Linker) LinksForClient(ctx context.Context, contactID, email string) ([]model.Link, error) {
	contactID = strings.TrimSpace(contactID)
	email = strings.ToLower(strings.TrimSpace(email))
	if contactID == "" && email == "" {
		return nil, eris.New("linker: contact id or email is required")
	}
	key := contactID + "|" + email
	if links, ok := l.caches.ClientLinks.Get(key); ok {
		return slices.Clone(links), nil
	}

	deals, err := l.loadDeals(ctx, key, contactID, email)
	if err != nil {
		return nil, err
	}

	r := &run{deals: deals, fields: l.dealFields(ctx), links: newLinkSet(), handled: make(map[string]bool)}
	l.directPass(r)
	if r.links.len() == 0 {
		l.relatedListPass(ctx, r)
	}
	if r.links.len() > 0 || len(r.unmapped()) > 0 {
		if r.loadCatalog(ctx, l.catalog) {
			l.exactPass(r)
			if len(r.unmapped()) > 0 {
				l.fuzzyPass(r)
			}
		}
	}
	if r.links.len() == 0 && email != "" {
		l.membershipPass(ctx, r, email)
	}

	links := rank(r.links.list())
	l.caches.ClientLinks.Set(key, slices.Clone(links))
	zap.L().Debug("linker: resolved links",
		zap.String("contact_id", contactID),
		zap.Int("deals", len(deals)),
		zap.Int("links", len(links)),
	)
	return links, nil
}

// loadDeals returns the client's deals, deduplicated by id. Concurrent
// callers for the same key share one upstream fetch.
func (l *Linker) loadDeals(ctx context.Context, key, contactID, email string) ([]model.Deal, error) {
	if deals, ok := l.caches.ClientDeals.Get(key); ok {
		return slices.Clone(deals), nil
	}
	deals, _, err := l.caches.DealLoads.Do(ctx, key, func(ctx context.Context) ([]model.Deal, error) {
		raw, err := l.deals.GetDealsForClient(ctx, contactID, email)
		if err != nil {
			return nil, err
		}
		deals := dedupeDeals(raw)
		l.caches.ClientDeals.Set(key, deals)
		return deals, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "linker: load deals")
	}
	return slices.Clone(deals), nil
}

func dedupeDeals(raw []model.Deal) []model.Deal {
	out := make([]model.Deal, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, d := range raw {
		if d == nil {
			continue
		}
		if id := d.ID(); id != "" {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		out = append(out, d)
	}
	return out
}

// rank orders deal-linked links first, then newest ModifiedTime, then
// first-seen order.
func rank(links []model.Link) []model.Link {
	out := append([]model.Link(nil), links...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.DealID != "") != (b.DealID != "") {
			return a.DealID != ""
		}
		return a.Modified().After(b.Modified())
	})
	if out == nil {
		out = []model.Link{}
	}
	return out
}
