package cache

import (
	"time"

	"github.com/sells-group/project-link/internal/model"
)

// TTLs configures the lifetime of each in-process cache. The more expensive a
// fact is to rediscover and the less often it changes, the longer it lives.
type TTLs struct {
	PortalID     time.Duration `yaml:"portal_id" mapstructure:"portal_id"`
	APIBase      time.Duration `yaml:"api_base" mapstructure:"api_base"`
	PortalList   time.Duration `yaml:"portal_list" mapstructure:"portal_list"`
	Route        time.Duration `yaml:"route" mapstructure:"route"`
	Catalog      time.Duration `yaml:"catalog" mapstructure:"catalog"`
	Membership   time.Duration `yaml:"membership" mapstructure:"membership"`
	TaskStrategy time.Duration `yaml:"task_strategy" mapstructure:"task_strategy"`
	ClientLinks  time.Duration `yaml:"client_links" mapstructure:"client_links"`
	ClientDeals  time.Duration `yaml:"client_deals" mapstructure:"client_deals"`
	RelatedList  time.Duration `yaml:"related_list" mapstructure:"related_list"`
	DealFields   time.Duration `yaml:"deal_fields" mapstructure:"deal_fields"`
}

// DefaultTTLs returns the production cache lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		PortalID:     10 * time.Minute,
		APIBase:      time.Hour,
		PortalList:   30 * time.Minute,
		Route:        12 * time.Hour,
		Catalog:      5 * time.Minute,
		Membership:   15 * time.Minute,
		TaskStrategy: 30 * time.Minute,
		ClientLinks:  3 * time.Minute,
		ClientDeals:  3 * time.Minute,
		RelatedList:  time.Hour,
		DealFields:   time.Hour,
	}
}

// withDefaults fills zero durations from DefaultTTLs.
func (t TTLs) withDefaults() TTLs {
	d := DefaultTTLs()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.PortalID, d.PortalID)
	fill(&t.APIBase, d.APIBase)
	fill(&t.PortalList, d.PortalList)
	fill(&t.Route, d.Route)
	fill(&t.Catalog, d.Catalog)
	fill(&t.Membership, d.Membership)
	fill(&t.TaskStrategy, d.TaskStrategy)
	fill(&t.ClientLinks, d.ClientLinks)
	fill(&t.ClientDeals, d.ClientDeals)
	fill(&t.RelatedList, d.RelatedList)
	fill(&t.DealFields, d.DealFields)
	return t
}

// Manager owns every in-process cache. It is created once per process and
// passed to the resolver, catalog, learner and linker so tests can build
// isolated instances.
type Manager struct {
	PortalID     *TTL[string]
	APIBase      *TTL[string]
	PortalLists  *TTL[[]string]
	Routes       *TTL[model.Route]
	Catalog      *TTL[[]model.Project]
	Memberships  *TTL[map[string]bool]
	TaskStrategy *TTL[int]
	ClientLinks  *TTL[[]model.Link]
	ClientDeals  *TTL[[]model.Deal]
	RelatedList  *TTL[string]
	DealFields   *TTL[[]string]

	DealLoads    Group[[]model.Deal]
	CatalogLoads Group[[]model.Project]
	MemberLoads  Group[map[string]bool]
}

// NewManager builds a Manager. Zero TTLs fall back to DefaultTTLs; a nil
// clock uses time.Now.
func NewManager(ttls TTLs, clock Clock) *Manager {
	ttls = ttls.withDefaults()
	return &Manager{
		PortalID:     NewTTL[string](ttls.PortalID, clock),
		APIBase:      NewTTL[string](ttls.APIBase, clock),
		PortalLists:  NewTTL[[]string](ttls.PortalList, clock),
		Routes:       NewTTL[model.Route](ttls.Route, clock),
		Catalog:      NewTTL[[]model.Project](ttls.Catalog, clock),
		Memberships:  NewTTL[map[string]bool](ttls.Membership, clock),
		TaskStrategy: NewTTL[int](ttls.TaskStrategy, clock),
		ClientLinks:  NewTTL[[]model.Link](ttls.ClientLinks, clock),
		ClientDeals:  NewTTL[[]model.Deal](ttls.ClientDeals, clock),
		RelatedList:  NewTTL[string](ttls.RelatedList, clock),
		DealFields:   NewTTL[[]string](ttls.DealFields, clock),
	}
}
