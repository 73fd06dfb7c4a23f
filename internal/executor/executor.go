// Package executor drains the validated-signal queue into broker orders and
// monitors the resulting positions for early exits on every primary close.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantpulse/quantpulse/internal/agents"
	"github.com/quantpulse/quantpulse/internal/alerts"
	"github.com/quantpulse/quantpulse/internal/broadcast"
	"github.com/quantpulse/quantpulse/internal/broker"
	"github.com/quantpulse/quantpulse/internal/composer"
	"github.com/quantpulse/quantpulse/internal/db"
	"github.com/quantpulse/quantpulse/internal/metrics"
	"github.com/quantpulse/quantpulse/internal/oracle"
)

// TradeWriter is the trade-store surface the executor needs
type TradeWriter interface {
	TradeExists(ctx context.Context, signalID, agentID string) (bool, error)
	InsertTrade(ctx context.Context, t db.Trade) error
}

// AgentLookup resolves one agent by id
type AgentLookup interface {
	Get(ctx context.Context, id string) (*agents.Agent, error)
}

// Config holds the executor's tuning knobs
type Config struct {
	Workers      int
	PollInterval time.Duration
	OrderTimeout time.Duration
}

// Executor is a bounded worker pool draining the validated-signal queue.
// Delivery is at-least-once, so execution is idempotent on (signalId,
// agentId): a queue entry whose trade already exists is dropped.
type Executor struct {
	cfg     Config
	queue   *broadcast.Queue
	trades  TradeWriter
	agents  AgentLookup
	brokers *broker.Registry
	monitor *Monitor
	bus     *broadcast.Bus
	alerter *alerts.Manager
	log     zerolog.Logger
}

// New creates an executor
func New(cfg Config, queue *broadcast.Queue, trades TradeWriter, lookup AgentLookup,
	brokers *broker.Registry, monitor *Monitor, bus *broadcast.Bus,
	alerter *alerts.Manager, log zerolog.Logger) *Executor {

	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = 15 * time.Second
	}
	return &Executor{
		cfg:     cfg,
		queue:   queue,
		trades:  trades,
		agents:  lookup,
		brokers: brokers,
		monitor: monitor,
		bus:     bus,
		alerter: alerter,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// Run drains the queue until the context is cancelled
func (e *Executor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			return e.worker(gctx)
		})
	}
	return g.Wait()
}

func (e *Executor) worker(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for {
			v, err := e.queue.Dequeue(ctx)
			if err != nil {
				e.log.Error().Err(err).Msg("Failed to dequeue validated signal")
				break
			}
			if v == nil {
				break
			}
			e.Execute(ctx, *v)
		}
	}
}

// Execute places the order for one validated signal
func (e *Executor) Execute(ctx context.Context, v broadcast.ValidatedSignal) {
	logger := e.log.With().
		Str("signal_id", v.Signal.ID).
		Str("agent_id", v.AgentID).
		Logger()

	exists, err := e.trades.TradeExists(ctx, v.Signal.ID, v.AgentID)
	if err != nil {
		logger.Error().Err(err).Msg("Idempotence check failed, skipping entry")
		return
	}
	if exists {
		logger.Info().Msg("Trade already recorded, dropping duplicate delivery")
		return
	}

	agent, err := e.agents.Get(ctx, v.AgentID)
	if err != nil {
		logger.Error().Err(err).Msg("Agent lookup failed")
		e.recordFailure(ctx, v, fmt.Sprintf("agent lookup failed: %v", err))
		return
	}

	adapter, err := e.brokers.Resolve(agent.Broker)
	if err != nil {
		logger.Error().Err(err).Msg("Broker not registered")
		e.recordFailure(ctx, v, err.Error())
		return
	}

	side := broker.SideBuy
	if v.Signal.Direction == composer.Short {
		side = broker.SideSell
	}
	qty := v.PositionSize / v.Signal.Entry

	orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	result, err := adapter.PlaceMarketOrder(orderCtx, *agent, v.BrokerSymbol, side, qty, v.Stop(), v.Target())
	if err != nil {
		logger.Error().Err(err).Msg("Order submission failed")
		metrics.OrdersPlaced.WithLabelValues("error").Inc()
		e.recordFailure(ctx, v, err.Error())
		e.alertRejection(ctx, v, err.Error())
		return
	}
	if result.Status != broker.OrderFilled {
		logger.Warn().Str("error", result.Error).Msg("Order rejected by broker")
		metrics.OrdersPlaced.WithLabelValues("rejected").Inc()
		e.recordFailure(ctx, v, result.Error)
		e.alertRejection(ctx, v, result.Error)
		return
	}

	metrics.OrdersPlaced.WithLabelValues("filled").Inc()

	entry := result.FillPrice
	if entry == 0 {
		entry = v.Signal.Entry
	}

	trade := db.Trade{
		ID:           uuid.NewString(),
		SignalID:     v.Signal.ID,
		AgentID:      v.AgentID,
		Instrument:   v.Signal.Instrument,
		Side:         string(side),
		EntryPrice:   entry,
		Quantity:     qty,
		StopPrice:    v.Stop(),
		TargetPrice:  v.Target(),
		BrokerTicket: result.BrokerTicket,
		Status:       db.TradeOpen,
		Origin:       newEntryContext(v.Signal),
		OpenedAt:     time.Now(),
	}
	if err := e.trades.InsertTrade(ctx, trade); err != nil {
		// The order is live; the monitor still tracks it, only the audit row
		// is missing.
		logger.Error().Err(err).Msg("Failed to persist trade")
	}

	if e.monitor != nil {
		e.monitor.Track(positionFromTrade(trade, newEntryContext(v.Signal)))
	}

	e.publish(broadcast.SubjectPositionOpened, broadcast.PositionEvent{
		SignalID:   v.Signal.ID,
		AgentID:    v.AgentID,
		Instrument: v.Signal.Instrument,
		Direction:  string(v.Signal.Direction),
		Quantity:   qty,
		FillPrice:  entry,
		Timestamp:  time.Now(),
	})

	logger.Info().
		Str("broker_ticket", result.BrokerTicket).
		Float64("qty", qty).
		Float64("fill", entry).
		Msg("Position opened")
}

func (e *Executor) publish(subject string, payload any) {
	if e.bus != nil {
		e.bus.Publish(subject, payload)
	}
}

// recordFailure writes a failed trade row so the entry is never re-executed
func (e *Executor) recordFailure(ctx context.Context, v broadcast.ValidatedSignal, reason string) {
	trade := db.Trade{
		ID:         uuid.NewString(),
		SignalID:   v.Signal.ID,
		AgentID:    v.AgentID,
		Instrument: v.Signal.Instrument,
		Side:       string(v.Signal.Direction),
		Quantity:   0,
		Status:     db.TradeFailed,
		Origin:     map[string]any{"failure": reason},
		OpenedAt:   time.Now(),
	}
	if err := e.trades.InsertTrade(ctx, trade); err != nil {
		e.log.Error().Err(err).Str("signal_id", v.Signal.ID).Msg("Failed to record trade failure")
	}
}

func (e *Executor) alertRejection(ctx context.Context, v broadcast.ValidatedSignal, reason string) {
	if e.alerter == nil {
		return
	}
	e.alerter.BrokerRejected(ctx, v.Signal.Instrument, string(v.Signal.Direction), v.AgentID, reason)
}

// EntryContext captures the analysis state at entry time that exit votes
// compare against. Persisted as the trade's origin metadata.
type EntryContext struct {
	Direction composer.Direction `json:"direction"`
	FibLevel  string             `json:"fib_level,omitempty"`
	Trend     string             `json:"trend,omitempty"`
	Momentum  string             `json:"momentum,omitempty"`
	Entry     float64            `json:"entry"`
	Stop      float64            `json:"stop"`
	Target    float64            `json:"target"`
}

// TargetR is the target distance in risk units
func (ec EntryContext) TargetR() float64 {
	risk := ec.Entry - ec.Stop
	if ec.Direction == composer.Short {
		risk = ec.Stop - ec.Entry
	}
	if risk <= 0 {
		return 0
	}
	reward := ec.Target - ec.Entry
	if ec.Direction == composer.Short {
		reward = ec.Entry - ec.Target
	}
	return reward / risk
}

func newEntryContext(sig composer.Signal) EntryContext {
	ec := EntryContext{
		Direction: sig.Direction,
		Entry:     sig.Entry,
		Stop:      sig.Stop,
		Target:    sig.Target,
	}
	for _, v := range sig.Primary.Verdicts {
		switch v.Kind {
		case oracle.KindFibonacci:
			if v.Fibonacci != nil {
				ec.FibLevel = v.Fibonacci.CurrentLevel
			}
		case oracle.KindTrendMomentum:
			if v.TrendMomentum != nil {
				ec.Trend = v.TrendMomentum.EMATrend
				ec.Momentum = v.TrendMomentum.Momentum
			}
		}
	}
	return ec
}
