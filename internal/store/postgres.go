package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/project-link/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	now     func() time.Time
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, now: time.Now, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS response_cache (
	id         TEXT PRIMARY KEY,
	cache_key  TEXT NOT NULL UNIQUE,
	data       BYTEA NOT NULL,
	stale_at   TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);

CREATE TABLE IF NOT EXISTS folder_cache (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL,
	folder_type TEXT NOT NULL,
	folder_id   TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (deal_id, folder_type)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// GetResponse returns the cached row for key, or nil when absent. Expired
// rows are returned too; callers decide what to serve.
func (s *PostgresStore) GetResponse(ctx context.Context, key string) (*model.CachedResponse, error) {
	row := model.CachedResponse{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT data, stale_at, expires_at FROM response_cache WHERE cache_key = $1`,
		key,
	).Scan(&row.Data, &row.StaleAt, &row.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get response %s", key)
	}
	return &row, nil
}

func (s *PostgresStore) SetResponse(ctx context.Context, key string, data []byte, staleAfter, expireAfter time.Duration) error {
	now := s.now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO response_cache (id, cache_key, data, stale_at, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (cache_key) DO UPDATE SET
			data = EXCLUDED.data,
			stale_at = EXCLUDED.stale_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), key, data, now.Add(staleAfter), now.Add(expireAfter), now,
	)
	return eris.Wrapf(err, "postgres: set response %s", key)
}

func (s *PostgresStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM response_cache WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired responses")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, dealID, folderType string) (*model.FolderEntry, error) {
	entry := model.FolderEntry{DealID: dealID, FolderType: folderType}
	err := s.pool.QueryRow(ctx,
		`SELECT folder_id, updated_at FROM folder_cache WHERE deal_id = $1 AND folder_type = $2`,
		dealID, folderType,
	).Scan(&entry.FolderID, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get folder %s/%s", dealID, folderType)
	}
	return &entry, nil
}

func (s *PostgresStore) SetFolder(ctx context.Context, entry model.FolderEntry) error {
	if err := validateFolder(entry); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO folder_cache (id, deal_id, folder_type, folder_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (deal_id, folder_type) DO UPDATE SET
			folder_id = EXCLUDED.folder_id,
			updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), entry.DealID, entry.FolderType, entry.FolderID, s.now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set folder %s/%s", entry.DealID, entry.FolderType)
}
