// Package store persists the response cache and the deal folder cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/project-link/internal/model"
)

// Store defines the persistence interface behind the stale-while-revalidate
// caches.
type Store interface {
	// Response cache
	GetResponse(ctx context.Context, key string) (*model.CachedResponse, error)
	SetResponse(ctx context.Context, key string, data []byte, staleAfter, expireAfter time.Duration) error
	DeleteExpiredResponses(ctx context.Context) (int, error)

	// Folder cache
	GetFolder(ctx context.Context, dealID, folderType string) (*model.FolderEntry, error)
	SetFolder(ctx context.Context, entry model.FolderEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a store driver.
type Config struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates the store named by cfg.Driver ("postgres" or "sqlite").
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "postgres", "postgresql":
		return NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	case "sqlite", "":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "project-link.db"
		}
		return NewSQLite(dsn)
	}
	return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
}

func validateFolder(entry model.FolderEntry) error {
	if entry.DealID == "" || entry.FolderType == "" || entry.FolderID == "" {
		return eris.New("store: folder entry needs deal id, folder type and folder id")
	}
	return nil
}
