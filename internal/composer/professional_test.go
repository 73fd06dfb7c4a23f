package composer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/market"
)

func bar(o, h, l, c float64) market.Candle {
	return market.Candle{Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

func stampBars(bars []market.Candle) []market.Candle {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i].OpenTime = t0.Add(time.Duration(i) * 15 * time.Minute)
		bars[i].CloseTime = t0.Add(time.Duration(i+1) * 15 * time.Minute)
	}
	return bars
}

func TestStructureScore(t *testing.T) {
	rising := stampBars([]market.Candle{
		bar(100, 101, 99.5, 100.8),
		bar(100.8, 102, 100.4, 101.7),
		bar(101.7, 103, 101.2, 102.5),
		bar(102.5, 104, 102.1, 103.4),
		bar(103.4, 105, 103.0, 104.2),
		bar(104.2, 106, 103.8, 105.1),
	})

	s, ok := structureScore(rising, Long)
	require.True(t, ok)
	assert.Equal(t, 30.0, s)

	s, ok = structureScore(rising, Short)
	require.True(t, ok)
	assert.Equal(t, 0.0, s)

	ranging := stampBars([]market.Candle{
		bar(100, 101, 99, 100.5),
		bar(100.5, 100.8, 99.5, 100),
		bar(100, 101.2, 99.2, 100.7),
		bar(100.7, 100.9, 99.4, 99.8),
		bar(99.8, 101.1, 99.3, 100.6),
		bar(100.6, 100.9, 99.6, 100.1),
	})
	s, ok = structureScore(ranging, Long)
	require.True(t, ok)
	assert.Equal(t, 15.0, s)

	_, ok = structureScore(rising[:4], Long)
	assert.False(t, ok)
}

func TestOptimalEntryScore(t *testing.T) {
	// Impulse spanning 100 to 110 over the last 10 bars
	bars := make([]market.Candle, 10)
	for i := range bars {
		base := 100 + float64(i)
		bars[i] = bar(base, base+1, base-0.2, base+0.8)
	}
	bars = stampBars(bars)
	// span = hi 110 minus lo 99.8; zone for longs sits 61.8-78.6% below the high

	hi, lo := 110.0, 99.8
	span := hi - lo

	inZone := hi - 0.7*span
	s, ok := optimalEntryScore(bars, inZone, Long)
	require.True(t, ok)
	assert.Equal(t, 30.0, s)

	belowEquilibrium := hi - 0.55*span
	s, ok = optimalEntryScore(bars, belowEquilibrium, Long)
	require.True(t, ok)
	assert.Equal(t, 15.0, s)

	nearHigh := hi - 0.1*span
	s, ok = optimalEntryScore(bars, nearHigh, Long)
	require.True(t, ok)
	assert.Equal(t, 0.0, s)

	_, ok = optimalEntryScore(bars[:5], 100, Long)
	assert.False(t, ok)
}

func TestOrderBlockScore(t *testing.T) {
	fresh := stampBars([]market.Candle{
		bar(100.2, 100.3, 99.9, 100.0), // bearish block
		bar(100.0, 100.6, 99.95, 100.5),
		bar(100.5, 100.9, 100.45, 100.8),
	})
	s, ok := orderBlockScore(fresh, 100.8, Long)
	require.True(t, ok)
	assert.Equal(t, 25.0, s)

	tested := stampBars([]market.Candle{
		bar(100.2, 100.3, 99.9, 100.0),
		bar(100.0, 100.6, 99.95, 100.5),
		bar(100.5, 100.9, 100.2, 100.8), // dips back into the block
	})
	s, ok = orderBlockScore(tested, 100.8, Long)
	require.True(t, ok)
	assert.Equal(t, 15.0, s)

	mitigated := stampBars([]market.Candle{
		bar(100.2, 100.3, 99.9, 100.0),
		bar(100.0, 100.6, 99.95, 100.5),
		bar(100.5, 100.6, 99.5, 99.6), // closes through the block low
	})
	_, ok = orderBlockScore(mitigated, 99.6, Long)
	assert.False(t, ok)
}

func TestLiquiditySweepScore(t *testing.T) {
	bars := make([]market.Candle, 8)
	for i := 0; i < 5; i++ {
		bars[i] = bar(100, 101, 99.5, 100.5)
	}
	bars[5] = bar(100.5, 100.8, 99.2, 100.1) // wick below the prior low, close back inside
	bars[6] = bar(100.1, 100.9, 100.0, 100.7)
	bars[7] = bar(100.7, 101.2, 100.5, 101.0)
	bars = stampBars(bars)

	s, ok := liquiditySweepScore(bars, Long)
	require.True(t, ok)
	assert.Equal(t, 15.0, s)

	// No sweep of highs for shorts in this window
	_, ok = liquiditySweepScore(bars, Short)
	assert.False(t, ok)
}

func TestScoreProEntryBonusesAndMultiplier(t *testing.T) {
	bars := make([]market.Candle, 20)
	for i := range bars {
		base := 100 + float64(i)*0.5
		bars[i] = bar(base, base+0.6, base-0.3, base+0.4)
	}
	bars = stampBars(bars)

	pe := ScoreProEntry(ProEntryInput{
		Direction:  Long,
		Price:      bars[len(bars)-1].Close,
		Candles:    bars,
		Confidence: 85,
		Unanimous:  true,
		HTFAligned: true,
	})

	assert.Equal(t, 25.0, pe.Bonus)
	assert.Equal(t, 30.0, pe.Structure)
	assert.GreaterOrEqual(t, pe.Multiplier, 0.35)
	assert.LessOrEqual(t, pe.Multiplier, 1.0)
	assert.Equal(t, pe.Structure+pe.OptimalEntry+pe.OrderBlock+pe.LiquiditySweep+pe.Bonus, pe.Total)
}
