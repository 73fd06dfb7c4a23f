package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantpulse/quantpulse/internal/agents"
	"github.com/quantpulse/quantpulse/internal/broker"
	"github.com/quantpulse/quantpulse/internal/composer"
	"github.com/quantpulse/quantpulse/internal/db"
	"github.com/quantpulse/quantpulse/internal/metrics"
)

// defaultMinBalance is the floor below which an agent cannot take any position
const defaultMinBalance = 10.0

// AgentSource lists the agent population
type AgentSource interface {
	List(ctx context.Context) ([]agents.Agent, error)
}

// PositionCounter reports an agent's open position count
type PositionCounter interface {
	OpenTradeCount(ctx context.Context, agentID string) (int, error)
}

// PerformanceSource reports an agent's recent trading performance
type PerformanceSource interface {
	RecentPerformance(ctx context.Context, agentID string, window time.Duration) (db.Performance, error)
}

// AuditStore persists exclusion and validation outcomes
type AuditStore interface {
	InsertExclusion(ctx context.Context, signalID, agentID, reason string, at time.Time) error
	InsertValidation(ctx context.Context, signalID, agentID string, accepted bool, riskBand, reasoning string, at time.Time) error
}

// Config configures the broadcaster
type Config struct {
	// SignalCategory is the category broadcast signals carry when matched
	// against agent allow-lists.
	SignalCategory string
	// PerformanceWindow bounds how far back agent performance is sampled
	// for expensive validation.
	PerformanceWindow time.Duration
	// ValidationConcurrency caps parallel per-agent validations
	ValidationConcurrency int
	// MinBalance is the available-balance floor for eligibility
	MinBalance float64
	// BaseNotional anchors light-validation sizing. Agents that skip full
	// validation size off this notional scaled by the composer's final size
	// fraction instead of their whole balance. Zero keeps balance-based
	// sizing.
	BaseNotional float64
}

// Broadcaster fans one composed signal out to every eligible agent: cheap
// eligibility checks first, then parallel per-agent validation, then priority
// enqueueing of the accepted survivors.
type Broadcaster struct {
	cfg         Config
	agentSource AgentSource
	positions   PositionCounter
	performance PerformanceSource
	validator   *Validator
	brokers     *broker.Registry
	symbols     *broker.SymbolMap
	queue       *Queue
	cache       *Cache
	audit       AuditStore
	bus         *Bus
	log         zerolog.Logger
}

// New creates a broadcaster
func New(cfg Config, src AgentSource, positions PositionCounter, perf PerformanceSource,
	validator *Validator, brokers *broker.Registry, symbols *broker.SymbolMap,
	queue *Queue, cache *Cache, audit AuditStore, bus *Bus, log zerolog.Logger) *Broadcaster {

	if cfg.PerformanceWindow == 0 {
		cfg.PerformanceWindow = 7 * 24 * time.Hour
	}
	if cfg.ValidationConcurrency == 0 {
		cfg.ValidationConcurrency = 8
	}
	if cfg.MinBalance == 0 {
		cfg.MinBalance = defaultMinBalance
	}
	return &Broadcaster{
		cfg:         cfg,
		agentSource: src,
		positions:   positions,
		performance: perf,
		validator:   validator,
		brokers:     brokers,
		symbols:     symbols,
		queue:       queue,
		cache:       cache,
		audit:       audit,
		bus:         bus,
		log:         log.With().Str("component", "broadcaster").Logger(),
	}
}

// candidate is an agent that survived eligibility, with the state gathered
// while checking.
type candidate struct {
	agent        agents.Agent
	brokerSymbol string
	balance      float64
	openTrades   int
	adapter      broker.Broker
}

// Broadcast fans the signal out to the agent population. Per-agent failures
// exclude that agent only; the broadcast itself fails only when the
// population cannot be listed.
func (b *Broadcaster) Broadcast(ctx context.Context, sig composer.Signal) (BroadcastSummary, error) {
	start := time.Now()

	population, err := b.agentSource.List(ctx)
	if err != nil {
		return BroadcastSummary{}, fmt.Errorf("failed to list agents: %w", err)
	}

	var eligible []candidate
	excluded := 0
	for _, agent := range population {
		cand, reason := b.checkEligibility(ctx, agent, sig)
		if reason != "" {
			excluded++
			b.recordExclusion(ctx, sig.ID, agent.ID, reason)
			continue
		}
		eligible = append(eligible, cand)
	}

	accepted, rejected := b.validateAll(ctx, sig, eligible)

	summary := BroadcastSummary{
		SignalID:   sig.ID,
		Instrument: sig.Instrument,
		Eligible:   len(eligible),
		Accepted:   accepted,
		Rejected:   rejected,
		Excluded:   excluded,
		FinishedAt: time.Now(),
	}
	b.bus.Publish(SubjectBroadcastComplete, summary)

	b.log.Info().
		Str("signal_id", sig.ID).
		Int("population", len(population)).
		Int("eligible", len(eligible)).
		Int("accepted", accepted).
		Int("rejected", rejected).
		Dur("elapsed", time.Since(start)).
		Msg("Broadcast complete")
	return summary, nil
}

// checkEligibility runs the cheap pre-validation gates in order. The first
// failing gate names the exclusion reason; an empty reason means eligible.
func (b *Broadcaster) checkEligibility(ctx context.Context, agent agents.Agent, sig composer.Signal) (candidate, string) {
	if !agent.IsActive {
		return candidate{}, ExcludeInactive
	}
	if !agent.AllowsCategory(b.cfg.SignalCategory) {
		return candidate{}, ExcludeCategory
	}

	admission := b.symbols.Admit(sig.Instrument, agent.Broker, agent.Category)
	if !admission.Allowed {
		return candidate{}, ExcludeSymbol
	}

	adapter, err := b.brokers.Resolve(agent.Broker)
	if err != nil {
		b.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("Agent broker not registered")
		return candidate{}, ExcludeCheckFailed
	}

	balance, err := adapter.GetBalance(ctx, agent)
	if err != nil {
		b.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("Balance check failed")
		return candidate{}, ExcludeCheckFailed
	}
	if balance.Available < b.cfg.MinBalance {
		return candidate{}, ExcludeBalance
	}

	open, err := b.positions.OpenTradeCount(ctx, agent.ID)
	if err != nil {
		b.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("Open position check failed")
		return candidate{}, ExcludeCheckFailed
	}
	if open >= agent.MaxOpenPositions {
		return candidate{}, ExcludeOpenPositions
	}

	if sig.Confidence < agent.MinConfidence {
		return candidate{}, ExcludeConfidence
	}

	return candidate{
		agent:        agent,
		brokerSymbol: admission.BrokerSymbol,
		balance:      balance.Available,
		openTrades:   open,
		adapter:      adapter,
	}, ""
}

// validateAll runs per-agent validation in parallel and enqueues acceptances
func (b *Broadcaster) validateAll(ctx context.Context, sig composer.Signal, eligible []candidate) (accepted, rejected int) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.ValidationConcurrency)

	for _, cand := range eligible {
		cand := cand
		g.Go(func() error {
			ok := b.validateOne(gctx, sig, cand)
			mu.Lock()
			if ok {
				accepted++
			} else {
				rejected++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return accepted, rejected
}

// validateOne validates the signal for one agent and, on acceptance, sizes
// the position and enqueues it. Returns whether the agent accepted.
func (b *Broadcaster) validateOne(ctx context.Context, sig composer.Signal, cand candidate) bool {
	req := validationRequest{
		Agent:      cand.agent,
		Signal:     sig,
		Balance:    cand.balance,
		OpenTrades: cand.openTrades,
	}

	if cand.agent.ExpensiveValidation {
		perf, err := b.performance.RecentPerformance(ctx, cand.agent.ID, b.cfg.PerformanceWindow)
		if err != nil {
			b.log.Warn().Err(err).Str("agent_id", cand.agent.ID).Msg("Performance lookup failed")
		} else {
			req.Performance = perf
		}
		if tick, err := cand.adapter.Ticker(ctx, cand.brokerSymbol); err == nil {
			spread := 0.0
			if tick.Ask > 0 {
				spread = (tick.Ask - tick.Bid) / tick.Ask * 100
			}
			req.Market = MarketConditions{
				LiquidityBucket: ClassifyLiquidity(tick.QuoteVolume),
				SpreadPct:       spread,
				VolatilityPct:   tick.ChangePct,
			}
		}
	}

	decision := b.validator.Validate(ctx, req)
	now := time.Now()

	b.recordValidation(ctx, sig.ID, cand.agent.ID, decision)

	if !decision.ShouldExecute {
		metrics.ValidationsRejected.Inc()
		b.log.Debug().
			Str("agent_id", cand.agent.ID).
			Str("signal_id", sig.ID).
			Str("reason", decision.Reasoning).
			Msg("Agent declined signal")
		return false
	}

	sizePct := decision.RiskBand.SizePercent()
	base := cand.balance
	if !cand.agent.ExpensiveValidation && b.cfg.BaseNotional > 0 {
		base = b.cfg.BaseNotional * sig.Size.Final
	}
	size := base * sizePct / 100
	if size > cand.balance {
		size = cand.balance
	}

	validated := ValidatedSignal{
		Signal:         sig,
		AgentID:        cand.agent.ID,
		BrokerSymbol:   cand.brokerSymbol,
		PositionSize:   size,
		SizePercent:    sizePct,
		RiskBand:       decision.RiskBand,
		StopOverride:   decision.StopOverride,
		TargetOverride: decision.TargetOverride,
		Reasoning:      decision.Reasoning,
		ValidatedAt:    now,
	}

	if err := b.queue.Enqueue(ctx, validated); err != nil {
		b.log.Error().Err(err).Str("agent_id", cand.agent.ID).Msg("Failed to enqueue validated signal")
		return false
	}
	if err := b.cache.Put(ctx, validated); err != nil {
		b.log.Warn().Err(err).Str("agent_id", cand.agent.ID).Msg("Failed to cache validated signal")
	}

	metrics.ValidationsAccepted.WithLabelValues(string(decision.RiskBand)).Inc()
	b.bus.Publish(SubjectAgentValidated, validated)
	return true
}

func (b *Broadcaster) recordExclusion(ctx context.Context, signalID, agentID, reason string) {
	metrics.AgentsExcluded.WithLabelValues(reason).Inc()
	if b.audit == nil {
		return
	}
	if err := b.audit.InsertExclusion(ctx, signalID, agentID, reason, time.Now()); err != nil {
		b.log.Warn().Err(err).Str("agent_id", agentID).Msg("Failed to record exclusion")
	}
}

func (b *Broadcaster) recordValidation(ctx context.Context, signalID, agentID string, d Decision) {
	if b.audit == nil {
		return
	}
	if err := b.audit.InsertValidation(ctx, signalID, agentID, d.ShouldExecute, string(d.RiskBand), d.Reasoning, time.Now()); err != nil {
		b.log.Warn().Err(err).Str("agent_id", agentID).Msg("Failed to record validation")
	}
}
