package aggregator

import (
	"context"
	"fmt"
	"time"

	"smartflow/cache"
	"smartflow/database"
)

// Deduper suppresses duplicate notifications for the same flow change. The
// dedup key rounds the occurrence time to the second, so retried deliveries
// and near-simultaneous duplicate events collapse, while genuinely distinct
// changes a few seconds apart still notify. Redis makes the window shared
// across replicas; without Redis a local TTL cache covers a single process.
type Deduper struct {
	redis *cache.RedisClient
	local *cache.TTLCache
	ttl   time.Duration
}

// NewDeduper creates a notification deduper; redis may be nil
func NewDeduper(redis *cache.RedisClient, ttl time.Duration) *Deduper {
	return &Deduper{
		redis: redis,
		local: cache.NewTTLCache(ttl, 8192),
		ttl:   ttl,
	}
}

// ShouldNotify reports whether this event's notification window is unclaimed,
// claiming it as a side effect
func (d *Deduper) ShouldNotify(ctx context.Context, ev *database.FlowEvent) bool {
	// Keyed without the action: retried deliveries can merge into different
	// actions and must still collapse to one notification
	key := fmt.Sprintf("notif:%d:%s:%d", ev.EntityID, ev.Asset, ev.OccurredAt.Unix())

	if d.redis != nil {
		won, err := d.redis.SetNX(ctx, key, d.ttl)
		if err == nil {
			return won
		}
		// Redis hiccup: fall through to the local window
	}
	return d.local.SetIfAbsent(key, d.ttl)
}
