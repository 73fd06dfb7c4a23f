package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/metrics"
)

const (
	queueIndexKey   = "quantpulse:queue:validated"
	queueItemPrefix = "quantpulse:queue:item:"
	queueSeqKey     = "quantpulse:queue:seq"

	// arrivalRange bounds the per-priority arrival sequence folded into the
	// ZSET score. Ties break by arrival order within it.
	arrivalRange = 1e9
)

// Queue is the validated-signal priority queue on a Redis sorted set. Items
// are keyed (signalId, agentId) and unique; delivery is at-least-once, so
// consumers must be idempotent.
type Queue struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewQueue creates a validated-signal queue
func NewQueue(client *redis.Client, log zerolog.Logger) *Queue {
	return &Queue{
		client: client,
		log:    log.With().Str("component", "signal_queue").Logger(),
	}
}

// Enqueue adds a validated signal. Re-enqueueing the same (signalId,
// agentId) key is a no-op.
func (q *Queue) Enqueue(ctx context.Context, v ValidatedSignal) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal validated signal: %w", err)
	}

	seq, err := q.client.Incr(ctx, queueSeqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to advance queue sequence: %w", err)
	}

	// Higher priority scores higher; earlier arrival scores higher within a
	// priority band.
	score := float64(v.Priority())*arrivalRange*2 + (arrivalRange - float64(seq%int64(arrivalRange)))

	key := v.Key()
	added, err := q.client.ZAddNX(ctx, queueIndexKey, redis.Z{Score: score, Member: key}).Result()
	if err != nil {
		return fmt.Errorf("failed to enqueue validated signal: %w", err)
	}
	if added == 0 {
		q.log.Debug().Str("key", key).Msg("Validated signal already enqueued")
		return nil
	}

	if err := q.client.Set(ctx, queueItemPrefix+key, data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to store queue payload: %w", err)
	}

	metrics.RecordRedisOperation("zadd")
	q.updateDepth(ctx)
	return nil
}

// Dequeue pops the highest-priority validated signal. Returns nil when the
// queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*ValidatedSignal, error) {
	popped, err := q.client.ZPopMax(ctx, queueIndexKey, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop queue: %w", err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	key, _ := popped[0].Member.(string)
	itemKey := queueItemPrefix + key

	data, err := q.client.Get(ctx, itemKey).Result()
	if err == redis.Nil {
		q.log.Warn().Str("key", key).Msg("Queue payload missing, dropping entry")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue payload: %w", err)
	}

	var v ValidatedSignal
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("malformed queue payload: %w", err)
	}

	if err := q.client.Del(ctx, itemKey).Err(); err != nil {
		q.log.Warn().Err(err).Str("key", key).Msg("Failed to delete queue payload")
	}

	metrics.RecordRedisOperation("zpopmax")
	q.updateDepth(ctx)
	return &v, nil
}

// Len returns the queue depth
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, queueIndexKey).Result()
}

func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.client.ZCard(ctx, queueIndexKey).Result(); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
