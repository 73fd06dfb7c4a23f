package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/alerts"
	"github.com/quantpulse/quantpulse/internal/broadcast"
	"github.com/quantpulse/quantpulse/internal/broker"
	"github.com/quantpulse/quantpulse/internal/composer"
	"github.com/quantpulse/quantpulse/internal/db"
	"github.com/quantpulse/quantpulse/internal/indicators"
	"github.com/quantpulse/quantpulse/internal/market"
	"github.com/quantpulse/quantpulse/internal/metrics"
	"github.com/quantpulse/quantpulse/internal/oracle"
)

// partialExitFraction is the share closed when a partial exit fires
const partialExitFraction = 0.5

// partialProfitRatio is the fraction of the target distance (in risk units)
// that must be reached before a partial exit is considered.
const partialProfitRatio = 0.618

// TradeCloser is the trade-store surface the monitor needs
type TradeCloser interface {
	CloseTrade(ctx context.Context, tradeID string, realizedPnL float64, at time.Time) error
	ReduceTrade(ctx context.Context, tradeID string, remainingQty, realizedPnL float64) error
	OpenTradesSince(ctx context.Context, cutoff time.Time) ([]db.Trade, error)
}

// Position is one monitored open position
type Position struct {
	TradeID      string
	SignalID     string
	AgentID      string
	Instrument   string
	Direction    composer.Direction
	EntryPrice   float64
	Quantity     float64
	StopPrice    float64
	TargetPrice  float64
	BrokerTicket string

	Entry EntryContext
	// HoldingOnly positions lost their origin metadata; only the broker-side
	// stop and target apply, never an early exit.
	HoldingOnly bool
}

func positionFromTrade(t db.Trade, ec EntryContext) Position {
	return Position{
		TradeID:      t.ID,
		SignalID:     t.SignalID,
		AgentID:      t.AgentID,
		Instrument:   t.Instrument,
		Direction:    composer.Direction(t.Side),
		EntryPrice:   t.EntryPrice,
		Quantity:     t.Quantity,
		StopPrice:    t.StopPrice,
		TargetPrice:  t.TargetPrice,
		BrokerTicket: t.BrokerTicket,
		Entry:        ec,
	}
}

// ExitDecision is the aggregate of the four exit votes for one position
type ExitDecision struct {
	Votes    int
	Reversal bool
	Full     bool
	Partial  bool
	Reasons  []string
}

// Monitor owns the open-position set. All mutation happens on the monitor
// goroutine; the executor registers new positions through a channel.
type Monitor struct {
	pool    composer.OraclePool
	windows composer.WindowSource
	trades  TradeCloser
	agents  AgentLookup
	brokers *broker.Registry
	bus     *broadcast.Bus
	alerter *alerts.Manager
	tf      market.Timeframe
	log     zerolog.Logger

	positions map[string]*Position
	register  chan Position
}

// NewMonitor creates a position monitor
func NewMonitor(tf market.Timeframe, pool composer.OraclePool, windows composer.WindowSource,
	trades TradeCloser, lookup AgentLookup, brokers *broker.Registry,
	bus *broadcast.Bus, alerter *alerts.Manager, log zerolog.Logger) *Monitor {

	return &Monitor{
		pool:      pool,
		windows:   windows,
		trades:    trades,
		agents:    lookup,
		brokers:   brokers,
		bus:       bus,
		alerter:   alerter,
		tf:        tf,
		log:       log.With().Str("component", "monitor").Logger(),
		positions: make(map[string]*Position),
		register:  make(chan Position, 64),
	}
}

// Track registers a position for monitoring. Safe from any goroutine.
func (m *Monitor) Track(p Position) {
	select {
	case m.register <- p:
	default:
		m.log.Error().Str("trade_id", p.TradeID).Msg("Register channel full, dropping position")
	}
}

// Reconstruct rebuilds the position set from open trades younger than 24h.
// Trades whose origin metadata is missing degrade to holding-only.
func (m *Monitor) Reconstruct(ctx context.Context) error {
	trades, err := m.trades.OpenTradesSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}

	for _, t := range trades {
		ec, ok := decodeEntryContext(t.Origin)
		p := positionFromTrade(t, ec)
		if !ok {
			p.HoldingOnly = true
		}
		m.positions[t.ID] = &p
	}
	metrics.OpenPositions.Set(float64(len(m.positions)))

	m.log.Info().Int("positions", len(m.positions)).Msg("Position set reconstructed")
	return nil
}

func decodeEntryContext(origin any) (EntryContext, bool) {
	if origin == nil {
		return EntryContext{}, false
	}
	data, err := json.Marshal(origin)
	if err != nil {
		return EntryContext{}, false
	}
	var ec EntryContext
	if err := json.Unmarshal(data, &ec); err != nil {
		return EntryContext{}, false
	}
	if ec.Entry == 0 || ec.Direction == "" {
		return EntryContext{}, false
	}
	return ec, true
}

// Run processes primary closes and registrations until cancellation. Runs on
// the same primary-close clock as the composer.
func (m *Monitor) Run(ctx context.Context, events <-chan market.PrimaryClose) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-m.register:
			pos := p
			m.positions[pos.TradeID] = &pos
			metrics.OpenPositions.Set(float64(len(m.positions)))
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.drainRegistrations()
			m.evaluateAll(ctx, ev)
		}
	}
}

func (m *Monitor) drainRegistrations() {
	for {
		select {
		case p := <-m.register:
			pos := p
			m.positions[pos.TradeID] = &pos
		default:
			metrics.OpenPositions.Set(float64(len(m.positions)))
			return
		}
	}
}

func (m *Monitor) evaluateAll(ctx context.Context, ev market.PrimaryClose) {
	if len(m.positions) == 0 {
		return
	}

	verdicts, ok := m.analyze(ctx, ev)
	if !ok {
		return
	}
	price := ev.Candle.Close

	for _, pos := range m.positions {
		if pos.HoldingOnly {
			continue
		}
		decision := EvaluateExit(*pos, verdicts, price)
		m.act(ctx, pos, decision, price)
	}
}

func (m *Monitor) analyze(ctx context.Context, ev market.PrimaryClose) ([]oracle.Verdict, bool) {
	win := m.windows.Window(m.tf)
	if win == nil {
		return nil, false
	}
	candles := win.Snapshot()
	ind, err := indicators.Compute(candles)
	if err != nil {
		m.log.Debug().Err(err).Msg("Skipping exit evaluation")
		return nil, false
	}
	return m.pool.Analyze(ctx, oracle.Snapshot{
		Instrument:   ev.Instrument,
		Timeframe:    m.tf,
		Candles:      candles,
		Indicators:   ind,
		CurrentPrice: ev.Candle.Close,
	}), true
}

// EvaluateExit runs the four exit-vote contracts against the current view
func EvaluateExit(pos Position, verdicts []oracle.Verdict, price float64) ExitDecision {
	var d ExitDecision

	inProfit := price > pos.EntryPrice
	if pos.Direction == composer.Short {
		inProfit = price < pos.EntryPrice
	}

	for _, v := range verdicts {
		if v.IsSentinel() {
			continue
		}
		switch v.Kind {
		case oracle.KindFibonacci:
			if v.Fibonacci != nil && pos.Entry.FibLevel != "" &&
				v.Fibonacci.CurrentLevel != pos.Entry.FibLevel {
				d.Votes++
				d.Reasons = append(d.Reasons, "fibonacci level changed")
			}
		case oracle.KindTrendMomentum:
			if v.TrendMomentum == nil {
				continue
			}
			if trendFlipped(pos.Entry.Trend, v.TrendMomentum.EMATrend) {
				d.Votes++
				d.Reasons = append(d.Reasons, "trend flipped")
			} else if pos.Entry.Momentum == "STRONG" && v.TrendMomentum.Momentum == "WEAK" {
				d.Votes++
				d.Reasons = append(d.Reasons, "momentum downgraded")
			}
		case oracle.KindVolumePriceAction:
			if v.VolumePriceAction == nil {
				continue
			}
			opposite := "bearish"
			if pos.Direction == composer.Short {
				opposite = "bullish"
			}
			if v.VolumePriceAction.ReversalCandle == opposite && inProfit {
				d.Votes++
				d.Reasons = append(d.Reasons, "reversal candle in profit")
			}
		case oracle.KindSupportResistance:
			if v.SupportResistance == nil {
				continue
			}
			if pos.Direction == composer.Long &&
				v.SupportResistance.NearestSupport > 0 && price < v.SupportResistance.NearestSupport {
				d.Votes++
				d.Reasons = append(d.Reasons, "closed below support")
			}
			if pos.Direction == composer.Short &&
				v.SupportResistance.NearestResistance > 0 && price > v.SupportResistance.NearestResistance {
				d.Votes++
				d.Reasons = append(d.Reasons, "closed above resistance")
			}
		}
	}

	// A reversal needs an opposite supermajority; the composer's 2-vote
	// tradability patterns are not enough to abandon an open position.
	consensus := composer.TallyConsensus(verdicts)
	if consensus.VotesFor() >= 3 && consensus.Direction == pos.Direction.Opposite() {
		d.Reversal = true
		d.Reasons = append(d.Reasons, "consensus reversal")
	}

	if d.Reversal || d.Votes >= 3 {
		d.Full = true
		return d
	}

	if d.Votes >= 2 && pos.Entry.TargetR() > 0 {
		risk := pos.EntryPrice - pos.StopPrice
		pnl := price - pos.EntryPrice
		if pos.Direction == composer.Short {
			risk = pos.StopPrice - pos.EntryPrice
			pnl = pos.EntryPrice - price
		}
		if risk > 0 && pnl/risk >= partialProfitRatio*pos.Entry.TargetR() {
			d.Partial = true
		}
	}
	return d
}

func trendFlipped(entry, current string) bool {
	if entry == "" || current == "" || entry == current {
		return false
	}
	return (entry == "bullish" && current == "bearish") ||
		(entry == "bearish" && current == "bullish")
}

func (m *Monitor) act(ctx context.Context, pos *Position, d ExitDecision, price float64) {
	switch {
	case d.Full:
		m.closePosition(ctx, pos, 1.0, d)
	case d.Partial:
		m.closePosition(ctx, pos, partialExitFraction, d)
	}
}

func (m *Monitor) publish(subject string, payload any) {
	if m.bus != nil {
		m.bus.Publish(subject, payload)
	}
}

func (m *Monitor) closePosition(ctx context.Context, pos *Position, fraction float64, d ExitDecision) {
	logger := m.log.With().
		Str("trade_id", pos.TradeID).
		Str("agent_id", pos.AgentID).
		Float64("fraction", fraction).
		Strs("reasons", d.Reasons).
		Logger()

	agent, err := m.agents.Get(ctx, pos.AgentID)
	if err != nil {
		logger.Error().Err(err).Msg("Agent lookup failed, holding position")
		return
	}
	adapter, err := m.brokers.Resolve(agent.Broker)
	if err != nil {
		logger.Error().Err(err).Msg("Broker not registered, holding position")
		return
	}

	result, err := adapter.ClosePosition(ctx, *agent, pos.BrokerTicket, fraction)
	if errors.Is(err, broker.ErrPartialCloseUnsupported) {
		logger.Info().Msg("Partial close unsupported by broker, holding")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Close failed, holding position")
		return
	}
	if result.Status != broker.OrderFilled {
		logger.Warn().Str("error", result.Error).Msg("Close rejected by broker")
		return
	}

	if fraction >= 1.0 {
		if err := m.trades.CloseTrade(ctx, pos.TradeID, result.RealizedPnL, time.Now()); err != nil {
			logger.Error().Err(err).Msg("Failed to persist trade close")
		}
		delete(m.positions, pos.TradeID)
		metrics.PositionExits.WithLabelValues("full").Inc()
	} else {
		pos.Quantity *= 1 - fraction
		if err := m.trades.ReduceTrade(ctx, pos.TradeID, pos.Quantity, result.RealizedPnL); err != nil {
			logger.Error().Err(err).Msg("Failed to persist partial close")
		}
		metrics.PositionExits.WithLabelValues("partial").Inc()
	}
	metrics.OpenPositions.Set(float64(len(m.positions)))

	m.publish(broadcast.SubjectPositionClosed, broadcast.PositionEvent{
		SignalID:     pos.SignalID,
		AgentID:      pos.AgentID,
		Instrument:   pos.Instrument,
		Direction:    string(pos.Direction),
		Quantity:     pos.Quantity,
		RealizedPnL:  result.RealizedPnL,
		PartialClose: fraction < 1.0,
		Timestamp:    time.Now(),
	})

	logger.Info().Float64("pnl", result.RealizedPnL).Msg("Position exit executed")
}
