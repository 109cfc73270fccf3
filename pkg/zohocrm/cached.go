package zohocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/sells-group/project-link/internal/cache"
)

// CachedClient serves CRM metadata reads (settings/...) through the
// persistent stale-while-revalidate cache. Record reads pass through.
type CachedClient struct {
	next  Client
	cache *cache.Revalidator
}

// NewCachedClient wraps next with r.
func NewCachedClient(next Client, r *cache.Revalidator) *CachedClient {
	return &CachedClient{next: next, cache: r}
}

// Get implements Client.
func (c *CachedClient) Get(ctx context.Context, endpoint string, query url.Values, out any) error {
	if !strings.HasPrefix(endpoint, "settings/") {
		return c.next.Get(ctx, endpoint, query, out)
	}
	key := "crm:" + endpoint
	if len(query) > 0 {
		key += "?" + query.Encode()
	}

	body, err := c.cache.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		var raw json.RawMessage
		if err := c.next.Get(ctx, endpoint, query, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			return []byte{}, nil
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 || out == nil {
		return nil
	}
	return decode(body, out, endpoint)
}
