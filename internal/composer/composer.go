package composer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/htf"
	"github.com/quantpulse/quantpulse/internal/indicators"
	"github.com/quantpulse/quantpulse/internal/market"
	"github.com/quantpulse/quantpulse/internal/metrics"
	"github.com/quantpulse/quantpulse/internal/oracle"
)

// OraclePool is the grader fan-out capability the composer consumes
type OraclePool interface {
	Analyze(ctx context.Context, snap oracle.Snapshot) []oracle.Verdict
}

// HTFSource provides the higher-timeframe context at a live price
type HTFSource interface {
	Context(price float64) *htf.Context
}

// WindowSource provides candle snapshots per timeframe
type WindowSource interface {
	Window(tf market.Timeframe) *market.Window
	Degraded() bool
}

// Sink receives composition outcomes: emitted signals flow to broadcast,
// rejections flow to the audit trail only.
type Sink interface {
	SignalEmitted(ctx context.Context, sig *Signal)
	SignalRejected(ctx context.Context, instrument string, reason RejectReason)
}

// Config holds the composer's tuning knobs. All thresholds are empirical and
// surfaced in configuration.
type Config struct {
	Instrument         string
	PrimaryTimeframe   market.Timeframe
	SupportTimeframes  []market.Timeframe
	MinSignalInterval  time.Duration
	MinConfidence      float64
	InversionThreshold float64
	GradeAThreshold    float64
	GradeBThreshold    float64
}

// Composer turns primary-close ticks into composed signals. One instance per
// instrument; single-threaded within a tick, fanning out grader calls in
// parallel. The ingestor's event channel coalesces pending ticks, so at most
// one composition is ever in flight.
type Composer struct {
	cfg     Config
	windows WindowSource
	pool    OraclePool
	htf     HTFSource
	sink    Sink
	log     zerolog.Logger
	clock   func() time.Time

	paused   atomic.Bool
	lastEmit time.Time
}

// New creates a composer
func New(cfg Config, windows WindowSource, pool OraclePool, htfSrc HTFSource, sink Sink, log zerolog.Logger) *Composer {
	if cfg.MinSignalInterval == 0 {
		cfg.MinSignalInterval = 60 * time.Second
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 50
	}
	if cfg.InversionThreshold == 0 {
		cfg.InversionThreshold = 55
	}
	if cfg.GradeAThreshold == 0 {
		cfg.GradeAThreshold = 67
	}
	if cfg.GradeBThreshold == 0 {
		cfg.GradeBThreshold = 52
	}
	return &Composer{
		cfg:     cfg,
		windows: windows,
		pool:    pool,
		htf:     htfSrc,
		sink:    sink,
		log:     log.With().Str("component", "composer").Logger(),
		clock:   time.Now,
	}
}

// Run consumes primary-close events until the context is cancelled
func (c *Composer) Run(ctx context.Context, events <-chan market.PrimaryClose) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Tick(ctx, ev)
		}
	}
}

// Pause suspends composition; ticks reject with the paused reason
func (c *Composer) Pause() { c.paused.Store(true) }

// Resume lifts a pause
func (c *Composer) Resume() { c.paused.Store(false) }

// Paused reports the pause state
func (c *Composer) Paused() bool { return c.paused.Load() }

// Tick runs the full filter stack for one primary close. It returns the
// emitted signal, or nil with the canonical rejection reason.
func (c *Composer) Tick(ctx context.Context, ev market.PrimaryClose) (*Signal, RejectReason) {
	started := c.clock()
	defer func() {
		metrics.CompositionDuration.Observe(time.Since(started).Seconds())
	}()

	sig, reason := c.compose(ctx, ev)
	if reason != "" {
		metrics.SignalsRejected.WithLabelValues(string(reason)).Inc()
		c.log.Info().
			Str("instrument", ev.Instrument).
			Str("reason", string(reason)).
			Msg("Composition rejected")
		c.sink.SignalRejected(ctx, ev.Instrument, reason)
		return nil, reason
	}

	c.lastEmit = c.clock()
	metrics.SignalsEmitted.WithLabelValues(string(sig.Direction), sig.Quality.Grade).Inc()
	c.log.Info().
		Str("signal_id", sig.ID).
		Str("direction", string(sig.Direction)).
		Float64("confidence", sig.Confidence).
		Str("grade", sig.Quality.Grade).
		Float64("size", sig.Size.Final).
		Bool("inverted", sig.Inverted).
		Msg("Signal emitted")
	c.sink.SignalEmitted(ctx, sig)
	return sig, ""
}

func (c *Composer) compose(ctx context.Context, ev market.PrimaryClose) (*Signal, RejectReason) {
	now := c.clock()

	if c.paused.Load() {
		return nil, RejectPaused
	}
	// Step A: minimum spacing between emitted signals
	if !c.lastEmit.IsZero() && now.Sub(c.lastEmit) < c.cfg.MinSignalInterval {
		return nil, RejectSpacing
	}
	if c.windows.Degraded() {
		return nil, RejectDegraded
	}

	price := ev.Candle.Close

	// Step B: per-timeframe analysis, primary first
	primary, candles, ind, ok := c.analyzeTimeframe(ctx, c.cfg.PrimaryTimeframe, price)
	if !ok {
		return nil, RejectInsufficient
	}

	// Step C: consensus on the primary
	if !primary.Consensus.Tradable {
		if primary.Consensus.Pattern == PatternCounterSplit {
			return nil, RejectCounterSplit
		}
		return nil, RejectSplit
	}
	dir := primary.Consensus.Direction

	var supporting []TimeframeAnalysis
	for _, tf := range c.cfg.SupportTimeframes {
		if ta, _, _, ok := c.analyzeTimeframe(ctx, tf, price); ok {
			supporting = append(supporting, ta)
		}
	}

	// Step D: confluence blend
	primaryConf := primaryConfidence(primary.Verdicts, dir)
	confluence := ConfluenceScore(primary.Consensus, supporting)
	confidence := BlendConfidence(primaryConf, confluence)

	// Step E: HTF proximity and trend
	htfCtx := c.htf.Context(price)
	align := classifyAlignment(htfCtx.Trend, dir)

	// Step F: dynamic consensus requirement
	if primary.Consensus.VotesFor() < RequiredVotes(confidence, align == trendAligned) {
		return nil, RejectConsensus
	}

	// Step G: confidence floor
	if confidence < c.cfg.MinConfidence {
		return nil, RejectConfidence
	}

	// Step H: entry, stop, target
	plan, ok := BuildRiskPlan(dir, price, ind, primary.Verdicts, htfCtx.Proximity)
	if !ok {
		return nil, RejectRiskPlan
	}

	// Step I: R:R floor
	if plan.RiskReward < requiredMinRR(confidence) {
		return nil, RejectRiskReward
	}

	// Step J: HTF counter-trend handling
	inverted := false
	htfSize := 1.0
	switch align {
	case trendCounter:
		if confidence < c.cfg.InversionThreshold {
			return nil, RejectCounterTrend
		}
		dir = dir.Opposite()
		plan = plan.Invert()
		inverted = true
		align = trendAligned
		metrics.SignalsInverted.Inc()
	case trendNeutral:
		htfSize = 0.5
	}
	if htfCtx.IsNearCriticalLevel && criticalConflicts(htfCtx.CriticalLevelType, dir) {
		htfSize *= 0.5
	}

	// Step K: professional-entry score
	pro := ScoreProEntry(ProEntryInput{
		Direction:  dir,
		Price:      price,
		Candles:    candles,
		Confidence: confidence,
		Unanimous:  primary.Consensus.VotesFor() == 4,
		HTFAligned: align == trendAligned,
	})

	// Step L: quality score and grade
	quality := ScoreQuality(primary.Consensus, confidence, plan.RiskReward, align,
		pro.Total, c.cfg.GradeAThreshold, c.cfg.GradeBThreshold)

	size := SizeBreakdown{
		HTF:     htfSize,
		Quality: GradeMultiplier(quality.Grade),
		Pro:     pro.Multiplier,
	}
	size.Final = size.HTF * size.Quality * size.Pro

	sig := &Signal{
		ID:         newSignalID(),
		Instrument: ev.Instrument,
		Direction:  dir,
		Inverted:   inverted,
		Confidence: confidence,
		RiskPlan:   plan,
		Quality:    quality,
		Size:       size,
		Reasoning:  summarize(primary.Verdicts),
		CreatedAt:  now,
		Primary:    primary,
		Supporting: supporting,
		Confluence: confluence,
		ProEntry:   pro,
		HTF:        htfCtx,
	}
	return sig, ""
}

// analyzeTimeframe snapshots one window, derives indicators, and fans the
// snapshot out to the grader pool.
func (c *Composer) analyzeTimeframe(ctx context.Context, tf market.Timeframe, price float64) (TimeframeAnalysis, []market.Candle, indicators.Bundle, bool) {
	win := c.windows.Window(tf)
	if win == nil {
		return TimeframeAnalysis{}, nil, indicators.Bundle{}, false
	}
	candles := win.Snapshot()
	ind, err := indicators.Compute(candles)
	if err != nil {
		c.log.Debug().Err(err).Str("timeframe", string(tf)).Msg("Skipping timeframe")
		return TimeframeAnalysis{}, nil, indicators.Bundle{}, false
	}

	verdicts := c.pool.Analyze(ctx, oracle.Snapshot{
		Instrument:   c.cfg.Instrument,
		Timeframe:    tf,
		Candles:      candles,
		Indicators:   ind,
		CurrentPrice: price,
	})
	for _, v := range verdicts {
		if v.IsSentinel() {
			metrics.OracleFailures.WithLabelValues(string(v.Kind)).Inc()
		}
	}

	return TimeframeAnalysis{
		Timeframe: tf,
		Verdicts:  verdicts,
		Consensus: TallyConsensus(verdicts),
	}, candles, ind, true
}

func classifyAlignment(trend htf.Trend, dir Direction) trendAlignment {
	switch trend {
	case htf.Neutral:
		return trendNeutral
	case htf.Bullish:
		if dir == Long {
			return trendAligned
		}
		return trendCounter
	default:
		if dir == Short {
			return trendAligned
		}
		return trendCounter
	}
}

// criticalConflicts reports whether the critical level sits against the
// trade: buying into resistance or selling into support.
func criticalConflicts(levelType htf.LevelType, dir Direction) bool {
	return (dir == Long && levelType == htf.Resistance) ||
		(dir == Short && levelType == htf.Support)
}

func summarize(verdicts []oracle.Verdict) string {
	for _, v := range verdicts {
		if !v.IsSentinel() && v.Reasoning != "" {
			return v.Reasoning
		}
	}
	return ""
}

// SetClock overrides the time source (tests only)
func (c *Composer) SetClock(clock func() time.Time) {
	c.clock = clock
}
