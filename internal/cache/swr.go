package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/model"
)

// ResponseStore is the persistent response cache the Revalidator reads and
// writes. internal/store implements it.
type ResponseStore interface {
	GetResponse(ctx context.Context, key string) (*model.CachedResponse, error)
	SetResponse(ctx context.Context, key string, data []byte, staleAfter, expireAfter time.Duration) error
}

// Revalidator serves persistent cache rows with stale-while-revalidate
// semantics: fresh rows are returned as-is, stale rows are returned and
// refreshed once in the background, expired or missing rows are fetched
// synchronously.
type Revalidator struct {
	store       ResponseStore
	staleAfter  time.Duration
	expireAfter time.Duration
	now         Clock
	refreshes   Group[[]byte]
	background  func(func())
}

// NewRevalidator creates a Revalidator. expireAfter is clamped to be at least
// staleAfter.
func NewRevalidator(store ResponseStore, staleAfter, expireAfter time.Duration, clock Clock) *Revalidator {
	if clock == nil {
		clock = time.Now
	}
	if expireAfter < staleAfter {
		expireAfter = staleAfter
	}
	return &Revalidator{
		store:       store,
		staleAfter:  staleAfter,
		expireAfter: expireAfter,
		now:         clock,
		background:  func(f func()) { go f() },
	}
}

// Get returns the cached bytes for key, calling fetch when needed. Store
// failures degrade to calling fetch directly.
func (r *Revalidator) Get(ctx context.Context, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	row, err := r.store.GetResponse(ctx, key)
	if err != nil {
		zap.L().Warn("cache: response store read failed", zap.String("key", key), zap.Error(err))
		row = nil
	}

	now := r.now()
	if row != nil && !row.IsExpired(now) {
		if row.IsStale(now) {
			r.background(func() {
				if _, err := r.refresh(context.WithoutCancel(ctx), key, fetch); err != nil {
					zap.L().Warn("cache: background revalidation failed", zap.String("key", key), zap.Error(err))
				}
			})
		}
		return row.Data, nil
	}

	return r.refresh(ctx, key, fetch)
}

func (r *Revalidator) refresh(ctx context.Context, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	data, _, err := r.refreshes.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.store.SetResponse(ctx, key, data, r.staleAfter, r.expireAfter); err != nil {
			zap.L().Warn("cache: response store write failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "cache: fetch %s", key)
	}
	return data, nil
}
