package htf

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/market"
)

type fakeWindows struct {
	windows map[market.Timeframe]*market.Window
}

func (f *fakeWindows) Window(tf market.Timeframe) *market.Window {
	return f.windows[tf]
}

func uptrendWindow(tf market.Timeframe, n int) *market.Window {
	w := market.NewWindow("BTCUSDT", tf, 200)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)*2
		w.Append(market.Candle{
			OpenTime:  t0.Add(time.Duration(i) * tf.Duration()),
			CloseTime: t0.Add(time.Duration(i+1) * tf.Duration()),
			Open:      base - 1, High: base + 2, Low: base - 2, Close: base,
			Volume: 100,
		})
	}
	return w
}

func testProvider() (*Provider, *fakeWindows) {
	ws := &fakeWindows{windows: map[market.Timeframe]*market.Window{
		market.TF4h: uptrendWindow(market.TF4h, 40),
		market.TF1d: uptrendWindow(market.TF1d, 40),
		market.TF1w: uptrendWindow(market.TF1w, 40),
	}}
	p := NewProvider(ProviderConfig{
		CacheTTL:     time.Hour,
		LockDuration: time.Hour,
		ProximityPct: 0.9,
	}, ws, zerolog.Nop())
	return p, ws
}

func TestProviderContext(t *testing.T) {
	p, _ := testProvider()

	ctx := p.Context(150)
	require.NotNil(t, ctx)
	assert.NotEmpty(t, ctx.Levels)
	assert.Equal(t, Bullish, ctx.Trend, "rising 4h structure reads bullish")
}

func TestProviderCachesLevelsForTTL(t *testing.T) {
	p, ws := testProvider()

	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return now })

	first := p.Context(150)

	// Mutating the windows does not change cached levels within the TTL
	ws.windows[market.TF1d] = uptrendWindow(market.TF1d, 10)
	now = now.Add(30 * time.Minute)
	second := p.Context(150)
	assert.Equal(t, first.Levels, second.Levels)

	// After the TTL the level set refreshes from the new window
	now = now.Add(31 * time.Minute)
	third := p.Context(150)
	assert.NotEqual(t, first.Levels, third.Levels)
}

func TestProviderProximityRecomputedPerQuery(t *testing.T) {
	p, _ := testProvider()

	far := p.Context(500)
	assert.False(t, far.IsNearCriticalLevel)

	// Query just above a support level: proximity flips without a refresh
	var support *Level
	for i := range far.Levels {
		if far.Levels[i].Type == Support {
			support = &far.Levels[i]
			break
		}
	}
	require.NotNil(t, support)
	onLevel := p.Context(support.Price * 1.001)
	assert.True(t, onLevel.IsNearCriticalLevel)
}

func TestProviderFallsBackToLevelGeometry(t *testing.T) {
	ws := &fakeWindows{windows: map[market.Timeframe]*market.Window{
		// No 4h window at all; only daily levels
		market.TF1d: uptrendWindow(market.TF1d, 40),
	}}
	p := NewProvider(ProviderConfig{}, ws, zerolog.Nop())

	ctx := p.Context(120)
	require.NotNil(t, ctx)
	// Label comes from level geometry, not 4h structure; it must still be valid
	assert.Contains(t, []Trend{Bullish, Bearish, Neutral}, ctx.Trend)
}
