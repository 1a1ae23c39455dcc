package remote

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const listKey = "records"

// CachedBackend caches ListRecords for a short TTL. Every write through the
// backend invalidates the cache, so a process always reads its own writes.
type CachedBackend struct {
	Backend
	cache *expirable.LRU[string, []Row]
}

// NewCachedBackend wraps next. A non-positive ttl disables caching.
func NewCachedBackend(next Backend, ttl time.Duration) Backend {
	if ttl <= 0 {
		return next
	}
	return &CachedBackend{
		Backend: next,
		cache:   expirable.NewLRU[string, []Row](1, nil, ttl),
	}
}

// AppendRecord appends and invalidates the cache.
func (c *CachedBackend) AppendRecord(ctx context.Context, row Row) error {
	defer c.Invalidate()
	return c.Backend.AppendRecord(ctx, row)
}

// BulkUpdateCheckout updates and invalidates the cache.
func (c *CachedBackend) BulkUpdateCheckout(ctx context.Context, date, dayTag, checkoutTime string) ([]string, error) {
	defer c.Invalidate()
	return c.Backend.BulkUpdateCheckout(ctx, date, dayTag, checkoutTime)
}

// ListRecords serves from cache when fresh. The returned slice is a copy.
func (c *CachedBackend) ListRecords(ctx context.Context) ([]Row, error) {
	if rows, ok := c.cache.Get(listKey); ok {
		return append([]Row(nil), rows...), nil
	}
	rows, err := c.Backend.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(listKey, rows)
	return append([]Row(nil), rows...), nil
}

// DeleteRow forwards to the wrapped backend when it supports deletes.
func (c *CachedBackend) DeleteRow(ctx context.Context, rowID int) error {
	d, ok := c.Backend.(Deleter)
	if !ok {
		return ErrDeleteUnsupported
	}
	defer c.Invalidate()
	return d.DeleteRow(ctx, rowID)
}

// Ping forwards to the wrapped backend when it supports pings.
func (c *CachedBackend) Ping(ctx context.Context) error {
	if p, ok := c.Backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Invalidate drops the cached listing.
func (c *CachedBackend) Invalidate() {
	c.cache.Purge()
}
