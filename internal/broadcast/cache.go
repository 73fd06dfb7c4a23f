package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantpulse/quantpulse/internal/metrics"
)

const cachePrefix = "quantpulse:validated:"

// Cache retains validated signals by (signalId, agentId) for auditing and
// replay. Entries expire after the configured TTL. Reads come from both the
// broadcast path and the control surface, so the counters are atomic.
type Cache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a validated-signal cache
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Put stores a validated signal
func (c *Cache) Put(ctx context.Context, v ValidatedSignal) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal validated signal: %w", err)
	}
	metrics.RecordRedisOperation("set")
	if err := c.client.Set(ctx, cachePrefix+v.Key(), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache validated signal: %w", err)
	}
	return nil
}

// Get loads a validated signal by signal and agent id. Returns nil on miss.
func (c *Cache) Get(ctx context.Context, signalID, agentID string) (*ValidatedSignal, error) {
	metrics.RecordRedisOperation("get")
	data, err := c.client.Get(ctx, cachePrefix+signalID+":"+agentID).Result()
	if err == redis.Nil {
		c.misses.Add(1)
		c.updateHitRate()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cached signal: %w", err)
	}
	c.hits.Add(1)
	c.updateHitRate()

	var v ValidatedSignal
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("malformed cached signal: %w", err)
	}
	return &v, nil
}

func (c *Cache) updateHitRate() {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total > 0 {
		metrics.RedisHitRate.Set(float64(hits) / float64(total))
	}
}
