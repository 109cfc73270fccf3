package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/auth"
	"github.com/sells-group/project-link/internal/cache"
	"github.com/sells-group/project-link/internal/catalog"
	"github.com/sells-group/project-link/internal/linker"
	"github.com/sells-group/project-link/internal/projects"
	"github.com/sells-group/project-link/internal/resilience"
	"github.com/sells-group/project-link/internal/store"
	"github.com/sells-group/project-link/internal/tasks"
	"github.com/sells-group/project-link/pkg/projectsapi"
	"github.com/sells-group/project-link/pkg/zohocrm"
)

// portalEnv holds the initialized clients and services used by the
// links/projects/tasks/serve commands.
type portalEnv struct {
	Store    store.Store
	Caches   *cache.Manager
	Resolver *projects.Resolver
	Catalog  *catalog.Fetcher
	Tasks    *tasks.Learner
	Linker   *linker.Linker
}

// Close releases resources held by the environment.
func (e *portalEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initTokens(ctx context.Context) (auth.TokenProvider, error) {
	if cfg.CRM.AccessToken != "" {
		zap.L().Debug("using static access token")
		return auth.StaticProvider(cfg.CRM.AccessToken), nil
	}
	return auth.NewOAuthProvider(ctx, auth.Config{
		AccountsURL:  cfg.CRM.AccountsURL,
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		RefreshToken: cfg.CRM.RefreshToken,
	})
}

// initEnv wires auth, the CRM client behind the persistent response cache,
// the Projects resolver, catalog, task learner and linker. Callers should
// defer env.Close().
func initEnv(ctx context.Context, command string) (*portalEnv, error) {
	if err := cfg.Validate(command); err != nil {
		return nil, err
	}

	tokens, err := initTokens(ctx)
	if err != nil {
		return nil, err
	}

	caches := cache.NewManager(cfg.Cache.TTLs, nil)

	retry := resilience.DefaultRetryConfig()
	if cfg.CRM.MaxRetries > 0 {
		retry.MaxAttempts = cfg.CRM.MaxRetries
	}
	var crm zohocrm.Client = zohocrm.NewClient(tokens,
		zohocrm.WithBaseURL(cfg.CRM.BaseURL),
		zohocrm.WithRateLimit(cfg.CRM.RateLimit),
		zohocrm.WithRetry(retry),
	)

	env := &portalEnv{Caches: caches}
	st, err := initStore(ctx)
	if err != nil {
		zap.L().Warn("response store unavailable, CRM metadata is not persisted", zap.Error(err))
	} else {
		env.Store = st
		crm = zohocrm.NewCachedClient(crm, cache.NewRevalidator(st, cfg.Cache.ResponseStale, cfg.Cache.ResponseExpire, time.Now))
	}

	api := projectsapi.NewClient(
		projectsapi.WithTimeout(cfg.Projects.FetchTimeout),
		projectsapi.WithRateLimit(cfg.Projects.RateLimitPerWindow, cfg.Projects.RateWindow),
	)
	env.Resolver = projects.NewResolver(projects.Config{
		PortalID:         cfg.Projects.PortalID,
		APIBase:          cfg.Projects.APIBase,
		Bases:            cfg.Projects.Bases,
		MaxRouteAttempts: cfg.Projects.MaxRouteAttempts,
	}, api, tokens, caches)
	env.Catalog = catalog.NewFetcher(env.Resolver, caches)
	env.Tasks = tasks.NewLearner(env.Resolver, caches)
	env.Linker = linker.New(zohocrm.NewDealLoader(crm), env.Resolver, env.Catalog, crm, caches, linker.Config{
		DealFields:           cfg.CRM.DealFields,
		RelatedLists:         cfg.CRM.RelatedLists,
		RehydrateWorkers:     cfg.Linker.RehydrateWorkers,
		MembershipWorkers:    cfg.Linker.MembershipWorkers,
		MaxMembershipLookups: cfg.Linker.MaxMembershipLookups,
	})

	if !env.Resolver.PortalConfigured() {
		zap.L().Info("projects portal not configured, discovering by region")
	}
	return env, nil
}
