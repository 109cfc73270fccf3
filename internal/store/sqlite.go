package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/project-link/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS response_cache (
	id         TEXT PRIMARY KEY,
	cache_key  TEXT NOT NULL UNIQUE,
	data       BLOB NOT NULL,
	stale_at   INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);

CREATE TABLE IF NOT EXISTS folder_cache (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL,
	folder_type TEXT NOT NULL,
	folder_id   TEXT NOT NULL,
	updated_at  INTEGER NOT NULL,
	UNIQUE (deal_id, folder_type)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Timestamps are stored as unix milliseconds so comparisons stay numeric.
func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQLiteStore) GetResponse(ctx context.Context, key string) (*model.CachedResponse, error) {
	var staleAt, expiresAt int64
	row := model.CachedResponse{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT data, stale_at, expires_at FROM response_cache WHERE cache_key = ?`,
		key,
	).Scan(&row.Data, &staleAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get response %s", key)
	}
	row.StaleAt = fromMillis(staleAt)
	row.ExpiresAt = fromMillis(expiresAt)
	return &row, nil
}

func (s *SQLiteStore) SetResponse(ctx context.Context, key string, data []byte, staleAfter, expireAfter time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_cache (id, cache_key, data, stale_at, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET
			data = excluded.data,
			stale_at = excluded.stale_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		uuid.New().String(), key, data,
		toMillis(now.Add(staleAfter)), toMillis(now.Add(expireAfter)), toMillis(now),
	)
	return eris.Wrapf(err, "sqlite: set response %s", key)
}

func (s *SQLiteStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at <= ?`, toMillis(s.now()))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired responses")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) GetFolder(ctx context.Context, dealID, folderType string) (*model.FolderEntry, error) {
	var updatedAt int64
	entry := model.FolderEntry{DealID: dealID, FolderType: folderType}
	err := s.db.QueryRowContext(ctx,
		`SELECT folder_id, updated_at FROM folder_cache WHERE deal_id = ? AND folder_type = ?`,
		dealID, folderType,
	).Scan(&entry.FolderID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get folder %s/%s", dealID, folderType)
	}
	entry.UpdatedAt = fromMillis(updatedAt)
	return &entry, nil
}

func (s *SQLiteStore) SetFolder(ctx context.Context, entry model.FolderEntry) error {
	if err := validateFolder(entry); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folder_cache (id, deal_id, folder_type, folder_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (deal_id, folder_type) DO UPDATE SET
			folder_id = excluded.folder_id,
			updated_at = excluded.updated_at`,
		uuid.New().String(), entry.DealID, entry.FolderType, entry.FolderID, toMillis(s.now()),
	)
	return eris.Wrapf(err, "sqlite: set folder %s/%s", entry.DealID, entry.FolderType)
}
