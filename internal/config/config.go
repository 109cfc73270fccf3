package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/project-link/internal/cache"
	"github.com/sells-group/project-link/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	CRM      CRMConfig      `yaml:"crm" mapstructure:"crm"`
	Projects ProjectsConfig `yaml:"projects" mapstructure:"projects"`
	Linker   LinkerConfig   `yaml:"linker" mapstructure:"linker"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Store    store.Config   `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CRMConfig holds Zoho CRM API and OAuth settings. AccessToken, when set,
// replaces the refresh-token flow.
type CRMConfig struct {
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	AccountsURL  string   `yaml:"accounts_url" mapstructure:"accounts_url"`
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken string   `yaml:"refresh_token" mapstructure:"refresh_token"`
	AccessToken  string   `yaml:"access_token" mapstructure:"access_token"`
	RateLimit    float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries   int      `yaml:"max_retries" mapstructure:"max_retries"`
	DealFields   []string `yaml:"deal_fields" mapstructure:"deal_fields"`
	RelatedLists []string `yaml:"related_lists" mapstructure:"related_lists"`
}

// ProjectsConfig configures the Projects API routing.
type ProjectsConfig struct {
	PortalID           string        `yaml:"portal_id" mapstructure:"portal_id"`
	APIBase            string        `yaml:"api_base" mapstructure:"api_base"`
	Bases              []string      `yaml:"bases" mapstructure:"bases"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	MaxRouteAttempts   int           `yaml:"max_route_attempts" mapstructure:"max_route_attempts"`
	RateLimitPerWindow int           `yaml:"rate_limit_per_window" mapstructure:"rate_limit_per_window"`
	RateWindow         time.Duration `yaml:"rate_window" mapstructure:"rate_window"`
	TaskPageSize       int           `yaml:"task_page_size" mapstructure:"task_page_size"`
}

// LinkerConfig bounds the linker's fan-out.
type LinkerConfig struct {
	RehydrateWorkers     int `yaml:"rehydrate_workers" mapstructure:"rehydrate_workers"`
	MembershipWorkers    int `yaml:"membership_workers" mapstructure:"membership_workers"`
	MaxMembershipLookups int `yaml:"max_membership_lookups" mapstructure:"max_membership_lookups"`
}

// CacheConfig holds in-process TTLs and the persistent response cache
// windows.
type CacheConfig struct {
	TTLs           cache.TTLs    `yaml:"ttls" mapstructure:"ttls"`
	ResponseStale  time.Duration `yaml:"response_stale" mapstructure:"response_stale"`
	ResponseExpire time.Duration `yaml:"response_expire" mapstructure:"response_expire"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. With no path it
// looks for an optional config.yaml in the working directory; an explicit
// path must exist.
func Load(path ...string) (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigType("yaml")
	explicit := len(path) > 0 && path[0] != ""
	if explicit {
		v.SetConfigFile(path[0])
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("crm.base_url", "https://www.zohoapis.com/crm/v2")
	v.SetDefault("crm.accounts_url", "https://accounts.zoho.com")
	v.SetDefault("crm.rate_limit", 5.0)
	v.SetDefault("crm.max_retries", 3)
	v.SetDefault("crm.client_id", "")
	v.SetDefault("crm.client_secret", "")
	v.SetDefault("crm.refresh_token", "")
	v.SetDefault("crm.access_token", "")
	v.SetDefault("projects.portal_id", "")
	v.SetDefault("projects.api_base", "")
	v.SetDefault("projects.fetch_timeout", 10*time.Second)
	v.SetDefault("projects.max_route_attempts", 12)
	v.SetDefault("projects.rate_limit_per_window", 100)
	v.SetDefault("projects.rate_window", 2*time.Minute)
	v.SetDefault("projects.task_page_size", 100)
	v.SetDefault("linker.rehydrate_workers", 3)
	v.SetDefault("linker.membership_workers", 3)
	v.SetDefault("linker.max_membership_lookups", 80)

	ttls := cache.DefaultTTLs()
	v.SetDefault("cache.ttls.portal_id", ttls.PortalID)
	v.SetDefault("cache.ttls.api_base", ttls.APIBase)
	v.SetDefault("cache.ttls.portal_list", ttls.PortalList)
	v.SetDefault("cache.ttls.route", ttls.Route)
	v.SetDefault("cache.ttls.catalog", ttls.Catalog)
	v.SetDefault("cache.ttls.membership", ttls.Membership)
	v.SetDefault("cache.ttls.task_strategy", ttls.TaskStrategy)
	v.SetDefault("cache.ttls.client_links", ttls.ClientLinks)
	v.SetDefault("cache.ttls.client_deals", ttls.ClientDeals)
	v.SetDefault("cache.ttls.related_list", ttls.RelatedList)
	v.SetDefault("cache.ttls.deal_fields", ttls.DealFields)
	v.SetDefault("cache.response_stale", 10*time.Minute)
	v.SetDefault("cache.response_expire", 24*time.Hour)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "project-link.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || explicit {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Every problem is reported
// in one error.
func (c *Config) Validate(command string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch command {
	case "links", "projects", "tasks", "serve":
		if c.CRM.AccessToken == "" {
			require(c.CRM.ClientID != "", "crm.client_id is required")
			require(c.CRM.ClientSecret != "", "crm.client_secret is required")
			require(c.CRM.RefreshToken != "", "crm.refresh_token is required")
		}
		require(c.Projects.MaxRouteAttempts > 0, "projects.max_route_attempts must be positive")
		require(c.Projects.RateLimitPerWindow > 0, "projects.rate_limit_per_window must be positive")
	}
	switch command {
	case "serve":
		require(c.Server.Port > 0 && c.Server.Port < 65536, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	case "migrate", "cache":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
