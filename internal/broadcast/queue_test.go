package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/composer"
)

func testRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func validatedFixture(signalID, agentID string, confidence float64) ValidatedSignal {
	return ValidatedSignal{
		Signal: composer.Signal{
			ID:         signalID,
			Instrument: "BTC-USD",
			Direction:  composer.Long,
			Confidence: confidence,
			RiskPlan:   composer.RiskPlan{Entry: 100, Stop: 99, Target: 102, RiskReward: 2},
		},
		AgentID:      agentID,
		BrokerSymbol: "BTCUSDT",
		PositionSize: 700,
		SizePercent:  70,
		RiskBand:     BandModerate,
		ValidatedAt:  time.Now(),
	}
}

func TestQueuePriorityOrder(t *testing.T) {
	q := NewQueue(testRedis(t), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, validatedFixture("sig-1", "agent-low", 62)))
	require.NoError(t, q.Enqueue(ctx, validatedFixture("sig-1", "agent-high", 91)))
	require.NoError(t, q.Enqueue(ctx, validatedFixture("sig-1", "agent-mid", 75)))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "agent-high", first.AgentID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "agent-mid", second.AgentID)

	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "agent-low", third.AgentID)
}

func TestQueueArrivalOrderBreaksTies(t *testing.T) {
	q := NewQueue(testRedis(t), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, validatedFixture("sig-1", "first", 80)))
	require.NoError(t, q.Enqueue(ctx, validatedFixture("sig-1", "second", 80)))
	require.NoError(t, q.Enqueue(ctx, validatedFixture("sig-1", "third", 80)))

	for _, want := range []string{"first", "second", "third"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, got.AgentID)
	}
}

func TestQueueDeduplicatesKey(t *testing.T) {
	q := NewQueue(testRedis(t), zerolog.Nop())
	ctx := context.Background()

	v := validatedFixture("sig-1", "agent-1", 80)
	require.NoError(t, q.Enqueue(ctx, v))
	require.NoError(t, q.Enqueue(ctx, v))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Same signal for a different agent is a distinct entry
	require.NoError(t, q.Enqueue(ctx, validatedFixture("sig-1", "agent-2", 80)))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestQueueDequeueEmpty(t *testing.T) {
	q := NewQueue(testRedis(t), zerolog.Nop())

	v, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestQueueDropsEntryWithMissingPayload(t *testing.T) {
	client := testRedis(t)
	q := NewQueue(client, zerolog.Nop())
	ctx := context.Background()

	v := validatedFixture("sig-1", "agent-1", 80)
	require.NoError(t, q.Enqueue(ctx, v))
	require.NoError(t, client.Del(ctx, queueItemPrefix+v.Key()).Err())

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestQueueRoundTripsPayload(t *testing.T) {
	q := NewQueue(testRedis(t), zerolog.Nop())
	ctx := context.Background()

	stop := 98.5
	v := validatedFixture("sig-1", "agent-1", 80)
	v.StopOverride = &stop

	require.NoError(t, q.Enqueue(ctx, v))
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "sig-1", got.Signal.ID)
	assert.Equal(t, BandModerate, got.RiskBand)
	assert.InDelta(t, 700.0, got.PositionSize, 1e-9)
	require.NotNil(t, got.StopOverride)
	assert.InDelta(t, 98.5, got.Stop(), 1e-9)
	assert.InDelta(t, 102.0, got.Target(), 1e-9)
}
