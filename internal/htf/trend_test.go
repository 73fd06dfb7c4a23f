package htf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantpulse/quantpulse/internal/market"
)

func TestTrendMachineImmediateExitFromNeutral(t *testing.T) {
	m := newTrendMachine(time.Hour)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, Bullish, m.Observe(Bullish, now), "first transition out of NEUTRAL is immediate")
}

func TestTrendMachineDirectionalFlipNeedsTwoConfirmations(t *testing.T) {
	m := newTrendMachine(time.Hour)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	m.Observe(Bullish, t0)

	// Lock holds for an hour regardless of candidates
	assert.Equal(t, Bullish, m.Observe(Bearish, t0.Add(30*time.Minute)))

	// After the lock, one bearish candidate is pending, not promoted
	t1 := t0.Add(61 * time.Minute)
	assert.Equal(t, Bullish, m.Observe(Bearish, t1))

	// Interruption resets the pending count
	assert.Equal(t, Bullish, m.Observe(Bullish, t1.Add(15*time.Minute)))
	assert.Equal(t, Bullish, m.Observe(Bearish, t1.Add(30*time.Minute)))

	// Two consecutive confirmations promote
	assert.Equal(t, Bearish, m.Observe(Bearish, t1.Add(45*time.Minute)))

	label, confirmedAt := m.Label()
	assert.Equal(t, Bearish, label)
	assert.Equal(t, t1.Add(45*time.Minute), confirmedAt)
}

func TestTrendMachineLockAfterPromotion(t *testing.T) {
	m := newTrendMachine(time.Hour)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	m.Observe(Bearish, t0)
	// Confirmed flips inside the lock are ignored entirely
	m.Observe(Bullish, t0.Add(10*time.Minute))
	m.Observe(Bullish, t0.Add(20*time.Minute))
	m.Observe(Bullish, t0.Add(30*time.Minute))
	label, _ := m.Label()
	assert.Equal(t, Bearish, label)
}

func structureCandles(highs, lows []float64) []market.Candle {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(highs))
	for i := range highs {
		out[i] = market.Candle{
			OpenTime: t0.Add(time.Duration(i) * 4 * time.Hour),
			High:     highs[i],
			Low:      lows[i],
			Close:    (highs[i] + lows[i]) / 2,
		}
	}
	return out
}

func TestCandidateFromStructure(t *testing.T) {
	tests := []struct {
		name  string
		highs []float64
		lows  []float64
		want  Trend
	}{
		{
			name:  "higher highs and higher lows",
			highs: []float64{100, 102, 104, 106, 108},
			lows:  []float64{90, 92, 94, 96, 98},
			want:  Bullish,
		},
		{
			name:  "lower lows",
			highs: []float64{108, 106, 104, 102, 100},
			lows:  []float64{98, 96, 94, 92, 90},
			want:  Bearish,
		},
		{
			name:  "choppy range",
			highs: []float64{100, 102, 100, 102, 100},
			lows:  []float64{90, 92, 90, 92, 90},
			want:  Neutral,
		},
		{
			name:  "too few bars",
			highs: []float64{100, 102},
			lows:  []float64{90, 92},
			want:  Neutral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CandidateFromStructure(structureCandles(tt.highs, tt.lows))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandidateFromLevelsDistanceRatio(t *testing.T) {
	// Resistance far above, support just below: room to run -> bullish
	levels := []Level{
		{Price: 99, Type: Support},
		{Price: 106, Type: Resistance},
	}
	assert.Equal(t, Bullish, CandidateFromLevels(levels, 100))

	// Mirror: support far below, resistance just above
	levels = []Level{
		{Price: 94, Type: Support},
		{Price: 101, Type: Resistance},
	}
	assert.Equal(t, Bearish, CandidateFromLevels(levels, 100))
}

func TestCandidateFromLevelsStrongLevelTieBreak(t *testing.T) {
	levels := []Level{
		{Price: 98, Type: Support, Strength: Strong},
		{Price: 96, Type: Support, Strength: Strong},
		{Price: 102, Type: Resistance, Strength: Weak},
	}
	assert.Equal(t, Bullish, CandidateFromLevels(levels, 100))

	levels = []Level{
		{Price: 98, Type: Support, Strength: Weak},
		{Price: 102, Type: Resistance, Strength: Strong},
		{Price: 104, Type: Resistance, Strength: Strong},
	}
	assert.Equal(t, Bearish, CandidateFromLevels(levels, 100))
}
