package executor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/agents"
	"github.com/quantpulse/quantpulse/internal/broker"
	"github.com/quantpulse/quantpulse/internal/composer"
	"github.com/quantpulse/quantpulse/internal/db"
	"github.com/quantpulse/quantpulse/internal/oracle"
)

func longPosition() Position {
	return Position{
		TradeID:     "trade-1",
		SignalID:    "sig-1",
		AgentID:     "agent-1",
		Instrument:  "BTC-USD",
		Direction:   composer.Long,
		EntryPrice:  100,
		Quantity:    5,
		StopPrice:   99,
		TargetPrice: 102,
		Entry: EntryContext{
			Direction: composer.Long,
			FibLevel:  "61.8",
			Trend:     "bullish",
			Momentum:  "STRONG",
			Entry:     100,
			Stop:      99,
			Target:    102,
		},
	}
}

// steadyVerdicts reproduces the entry-time view: no exit vote should fire
func steadyVerdicts(rec oracle.Recommendation) []oracle.Verdict {
	return []oracle.Verdict{
		{
			Kind:           oracle.KindFibonacci,
			Recommendation: rec,
			Confidence:     70,
			Fibonacci:      &oracle.FibonacciFields{CurrentLevel: "61.8"},
		},
		{
			Kind:           oracle.KindTrendMomentum,
			Recommendation: rec,
			Confidence:     70,
			TrendMomentum:  &oracle.TrendMomentumFields{EMATrend: "bullish", Momentum: "STRONG"},
		},
		{
			Kind:              oracle.KindVolumePriceAction,
			Recommendation:    rec,
			Confidence:        70,
			VolumePriceAction: &oracle.VolumePriceActionFields{VolumeState: "rising"},
		},
		{
			Kind:              oracle.KindSupportResistance,
			Recommendation:    rec,
			Confidence:        70,
			SupportResistance: &oracle.SupportResistanceFields{NearestSupport: 98, NearestResistance: 104},
		},
	}
}

func TestEvaluateExitHoldsOnSteadyView(t *testing.T) {
	d := EvaluateExit(longPosition(), steadyVerdicts(oracle.Buy), 100.5)
	assert.Zero(t, d.Votes)
	assert.False(t, d.Full)
	assert.False(t, d.Partial)
}

func TestEvaluateExitVotes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(v []oracle.Verdict)
		price  float64
		votes  int
		reason string
	}{
		{
			name: "fibonacci label changed",
			mutate: func(v []oracle.Verdict) {
				v[0].Fibonacci.CurrentLevel = "38.2"
			},
			price:  100.5,
			votes:  1,
			reason: "fibonacci level changed",
		},
		{
			name: "trend flipped",
			mutate: func(v []oracle.Verdict) {
				v[1].TrendMomentum.EMATrend = "bearish"
			},
			price:  100.5,
			votes:  1,
			reason: "trend flipped",
		},
		{
			name: "momentum downgraded",
			mutate: func(v []oracle.Verdict) {
				v[1].TrendMomentum.Momentum = "WEAK"
			},
			price:  100.5,
			votes:  1,
			reason: "momentum downgraded",
		},
		{
			name: "reversal candle in profit",
			mutate: func(v []oracle.Verdict) {
				v[2].VolumePriceAction.ReversalCandle = "bearish"
			},
			price:  100.5,
			votes:  1,
			reason: "reversal candle in profit",
		},
		{
			name: "reversal candle out of profit does not vote",
			mutate: func(v []oracle.Verdict) {
				v[2].VolumePriceAction.ReversalCandle = "bearish"
			},
			price: 99.5,
			votes: 0,
		},
		{
			name:   "closed below support",
			mutate: func(v []oracle.Verdict) {},
			price:  97.5,
			votes:  1,
			reason: "closed below support",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdicts := steadyVerdicts(oracle.Buy)
			tt.mutate(verdicts)

			d := EvaluateExit(longPosition(), verdicts, tt.price)
			assert.Equal(t, tt.votes, d.Votes)
			if tt.reason != "" {
				assert.Contains(t, d.Reasons, tt.reason)
			}
		})
	}
}

func TestEvaluateExitFullOnThreeVotes(t *testing.T) {
	verdicts := steadyVerdicts(oracle.Hold)
	verdicts[0].Fibonacci.CurrentLevel = "38.2"
	verdicts[1].TrendMomentum.Momentum = "WEAK"
	verdicts[2].VolumePriceAction.ReversalCandle = "bearish"

	d := EvaluateExit(longPosition(), verdicts, 100.5)
	assert.Equal(t, 3, d.Votes)
	assert.True(t, d.Full)
	assert.False(t, d.Partial)
}

func TestEvaluateExitFullOnConsensusReversal(t *testing.T) {
	// All four graders now call SELL against the long: reversal fires even
	// though only some individual exit contracts do.
	verdicts := steadyVerdicts(oracle.Sell)

	d := EvaluateExit(longPosition(), verdicts, 100.5)
	assert.True(t, d.Reversal)
	assert.True(t, d.Full)
}

func TestEvaluateExitHoldsOnTwoVoteOpposite(t *testing.T) {
	// Two SELL calls against two HOLDs is a tradable pattern for entries,
	// but not the opposite supermajority a reversal exit needs.
	verdicts := steadyVerdicts(oracle.Hold)
	verdicts[0].Recommendation = oracle.Sell
	verdicts[1].Recommendation = oracle.Sell

	d := EvaluateExit(longPosition(), verdicts, 100.5)
	assert.Zero(t, d.Votes)
	assert.False(t, d.Reversal)
	assert.False(t, d.Full)

	// Three SELLs cross the line
	verdicts[2].Recommendation = oracle.Sell
	d = EvaluateExit(longPosition(), verdicts, 100.5)
	assert.True(t, d.Reversal)
	assert.True(t, d.Full)
}

func TestEvaluateExitPartialRequiresProfitAndTwoVotes(t *testing.T) {
	// targetR = 2.0, so the partial threshold sits at 0.618*2 = 1.236R,
	// price 101.3 = 1.3R for a 1.0 risk.
	verdicts := steadyVerdicts(oracle.Buy)
	verdicts[0].Fibonacci.CurrentLevel = "38.2"
	verdicts[2].VolumePriceAction.ReversalCandle = "bearish"

	d := EvaluateExit(longPosition(), verdicts, 101.3)
	assert.Equal(t, 2, d.Votes)
	assert.False(t, d.Full)
	assert.True(t, d.Partial)

	// Same votes but not enough profit: hold
	d = EvaluateExit(longPosition(), verdicts, 100.8)
	assert.False(t, d.Partial)
}

func TestEvaluateExitShortSymmetric(t *testing.T) {
	pos := longPosition()
	pos.Direction = composer.Short
	pos.StopPrice = 101.5
	pos.TargetPrice = 97
	pos.Entry.Direction = composer.Short
	pos.Entry.Stop = 101.5
	pos.Entry.Target = 97

	verdicts := steadyVerdicts(oracle.Sell)

	// Shorts exit on a close above nearest resistance
	d := EvaluateExit(pos, verdicts, 104.5)
	assert.Contains(t, d.Reasons, "closed above resistance")
}

func TestEvaluateExitIgnoresSentinels(t *testing.T) {
	verdicts := []oracle.Verdict{
		oracle.Sentinel(oracle.KindFibonacci),
		oracle.Sentinel(oracle.KindTrendMomentum),
		oracle.Sentinel(oracle.KindVolumePriceAction),
		oracle.Sentinel(oracle.KindSupportResistance),
	}

	d := EvaluateExit(longPosition(), verdicts, 100.5)
	assert.Zero(t, d.Votes)
	assert.False(t, d.Full)
}

func TestDecodeEntryContext(t *testing.T) {
	// Origins round-trip through JSONB as map[string]any
	origin := map[string]any{
		"direction": "BUY",
		"fib_level": "61.8",
		"trend":     "bullish",
		"momentum":  "STRONG",
		"entry":     100.0,
		"stop":      99.0,
		"target":    102.0,
	}

	ec, ok := decodeEntryContext(origin)
	require.True(t, ok)
	assert.Equal(t, composer.Long, ec.Direction)
	assert.Equal(t, "61.8", ec.FibLevel)
	assert.InDelta(t, 2.0, ec.TargetR(), 1e-9)

	_, ok = decodeEntryContext(nil)
	assert.False(t, ok)

	_, ok = decodeEntryContext(map[string]any{"failure": "broker down"})
	assert.False(t, ok)
}

func TestReconstructFallsBackToHoldingOnly(t *testing.T) {
	trades := newFakeTrades()
	trades.open = []db.Trade{
		{
			ID: "trade-1", SignalID: "sig-1", AgentID: "agent-1",
			Instrument: "BTC-USD", Side: "BUY", EntryPrice: 100, Quantity: 5,
			StopPrice: 99, TargetPrice: 102, Status: db.TradeOpen,
			Origin: map[string]any{
				"direction": "BUY", "fib_level": "61.8", "trend": "bullish",
				"entry": 100.0, "stop": 99.0, "target": 102.0,
			},
			OpenedAt: time.Now().Add(-time.Hour),
		},
		{
			ID: "trade-2", SignalID: "sig-2", AgentID: "agent-2",
			Instrument: "BTC-USD", Side: "SELL", EntryPrice: 100, Quantity: 2,
			Status: db.TradeOpen, OpenedAt: time.Now().Add(-2 * time.Hour),
		},
	}

	m := NewMonitor("5m", nil, nil, trades, fakeLookup{}, broker.NewRegistry(), nil, nil, zerolog.Nop())
	require.NoError(t, m.Reconstruct(context.Background()))

	require.Len(t, m.positions, 2)
	assert.False(t, m.positions["trade-1"].HoldingOnly)
	assert.Equal(t, "61.8", m.positions["trade-1"].Entry.FibLevel)
	assert.True(t, m.positions["trade-2"].HoldingOnly, "missing origin degrades to holding-only")
}

func monitorHarness(t *testing.T, allowPartial bool) (*Monitor, *fakeTrades, *broker.PaperBroker) {
	t.Helper()

	paper := broker.NewPaperBroker(zerolog.Nop())
	paper.SetAllowPartial(allowPartial)
	registry := broker.NewRegistry()
	registry.Register("paper", paper)

	trades := newFakeTrades()
	lookup := fakeLookup{agent: agents.Agent{Broker: "paper"}}
	m := NewMonitor("5m", nil, nil, trades, lookup, registry, nil, nil, zerolog.Nop())
	return m, trades, paper
}

func openPaperPosition(t *testing.T, paper *broker.PaperBroker, pos *Position) {
	t.Helper()
	paper.SetMarketPrice("BTCUSDT", pos.EntryPrice)
	paper.SetBalance(pos.AgentID, 10_000)
	result, err := paper.PlaceMarketOrder(context.Background(),
		agents.Agent{ID: pos.AgentID}, "BTCUSDT", broker.SideBuy, pos.Quantity, pos.StopPrice, pos.TargetPrice)
	require.NoError(t, err)
	require.Equal(t, broker.OrderFilled, result.Status)
	pos.BrokerTicket = result.BrokerTicket
}

func TestClosePositionFullExit(t *testing.T) {
	m, trades, paper := monitorHarness(t, true)

	pos := longPosition()
	openPaperPosition(t, paper, &pos)
	m.positions[pos.TradeID] = &pos

	paper.SetMarketPrice("BTCUSDT", 101.5)
	m.closePosition(context.Background(), &pos, 1.0, ExitDecision{Full: true, Reasons: []string{"consensus reversal"}})

	assert.Contains(t, trades.closed, "trade-1")
	assert.NotContains(t, m.positions, "trade-1")
}

func TestClosePositionPartialExit(t *testing.T) {
	m, trades, paper := monitorHarness(t, true)

	pos := longPosition()
	openPaperPosition(t, paper, &pos)
	m.positions[pos.TradeID] = &pos

	paper.SetMarketPrice("BTCUSDT", 101.3)
	m.closePosition(context.Background(), &pos, 0.5, ExitDecision{Partial: true})

	require.Contains(t, trades.reduced, "trade-1")
	assert.InDelta(t, 2.5, trades.reduced["trade-1"], 1e-6)
	assert.Contains(t, m.positions, "trade-1", "partial exit keeps the position monitored")
}

func TestClosePositionPartialUnsupportedIsNoOp(t *testing.T) {
	m, trades, paper := monitorHarness(t, false)

	pos := longPosition()
	openPaperPosition(t, paper, &pos)
	m.positions[pos.TradeID] = &pos

	m.closePosition(context.Background(), &pos, 0.5, ExitDecision{Partial: true})

	assert.Empty(t, trades.reduced)
	assert.Empty(t, trades.closed)
	assert.Contains(t, m.positions, "trade-1")
	assert.InDelta(t, 5.0, pos.Quantity, 1e-9, "quantity unchanged on downgraded partial")
}
