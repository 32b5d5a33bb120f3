package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/order-choreography/internal/domain"
)

// OrderCache keeps the latest projected order per id. A nil cache is a no-op.
type OrderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOrderCache(rdb *redis.Client, ttl time.Duration) *OrderCache {
	if rdb == nil {
		return nil
	}
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func orderKey(id string) string { return fmt.Sprintf("order:%s", id) }

// Get reports false on a miss.
func (c *OrderCache) Get(ctx context.Context, id string) (domain.Order, bool, error) {
	if c == nil {
		return domain.Order{}, false, nil
	}
	raw, err := c.rdb.Get(ctx, orderKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	var o domain.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return domain.Order{}, false, err
	}
	return o, true, nil
}

func (c *OrderCache) Set(ctx context.Context, o domain.Order) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, orderKey(o.ID), string(data), c.ttl).Err()
}

// Deduplicator remembers handled message ids for a consumer. A nil
// Deduplicator treats every id as new.
type Deduplicator struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewDeduplicator(rdb *redis.Client, consumer string, ttl time.Duration) *Deduplicator {
	if rdb == nil {
		return nil
	}
	return &Deduplicator{rdb: rdb, prefix: "processed:" + consumer + ":", ttl: ttl}
}

// FirstSeen claims id and reports whether nobody claimed it before.
func (d *Deduplicator) FirstSeen(ctx context.Context, id string) (bool, error) {
	if d == nil {
		return true, nil
	}
	return d.rdb.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
}

// Forget drops a claim so a redelivery is handled again.
func (d *Deduplicator) Forget(ctx context.Context, id string) error {
	if d == nil {
		return nil
	}
	return d.rdb.Del(ctx, d.prefix+id).Err()
}
