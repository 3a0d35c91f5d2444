package spot

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-bullion/internal/pricing"
)

const cacheKey = "spot:quote"

// Cached wraps an Oracle with a short-TTL Redis cache. It backs the display
// estimate, which the client refreshes on a polling interval; the
// authoritative pricing pass bypasses it and talks to the Oracle directly.
type Cached struct {
	Oracle Oracle
	R      *redis.Client
	TTL    time.Duration
}

// Quote returns the cached quote when fresh, otherwise fetches and caches.
// Cache errors degrade to a direct fetch rather than failing the request.
func (c *Cached) Quote(ctx context.Context) (pricing.Quote, error) {
	if c == nil || c.Oracle == nil {
		return pricing.Quote{}, ErrUnavailable
	}
	if c.R != nil {
		if data, err := c.R.Get(ctx, cacheKey).Bytes(); err == nil {
			var q pricing.Quote
			if err := json.Unmarshal(data, &q); err == nil && q.Available() {
				return q, nil
			}
		}
	}
	q, err := c.Oracle.Quote(ctx)
	if err != nil {
		return pricing.Quote{}, err
	}
	if c.R != nil && c.TTL > 0 {
		if data, err := json.Marshal(q); err == nil {
			_ = c.R.Set(ctx, cacheKey, data, c.TTL).Err()
		}
	}
	return q, nil
}
