package htf

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/market"
)

// Context is the higher-timeframe view handed to the composer
type Context struct {
	Levels []Level `json:"levels"`
	Proximity
	Trend            Trend     `json:"trend"`
	TrendConfirmedAt time.Time `json:"trend_confirmed_at"`
}

// WindowSource provides candle snapshots per timeframe
type WindowSource interface {
	Window(tf market.Timeframe) *market.Window
}

// ProviderConfig configures the HTF context provider
type ProviderConfig struct {
	Timeframes   []market.Timeframe
	CacheTTL     time.Duration
	LockDuration time.Duration
	ProximityPct float64
}

// Provider owns the HTF level cache and the trend state machine. The level
// set is refreshed lazily on the cache TTL; proximity is recomputed from
// cached levels on every query with the live price.
type Provider struct {
	cfg     ProviderConfig
	windows WindowSource
	trend   *trendMachine
	log     zerolog.Logger
	clock   func() time.Time

	mu           sync.Mutex
	cachedLevels []Level
	refreshedAt  time.Time
}

// NewProvider creates an HTF context provider
func NewProvider(cfg ProviderConfig, windows WindowSource, log zerolog.Logger) *Provider {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.LockDuration == 0 {
		cfg.LockDuration = time.Hour
	}
	if cfg.ProximityPct == 0 {
		cfg.ProximityPct = 0.9
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []market.Timeframe{market.TF4h, market.TF1d, market.TF1w}
	}
	return &Provider{
		cfg:     cfg,
		windows: windows,
		trend:   newTrendMachine(cfg.LockDuration),
		log:     log.With().Str("component", "htf").Logger(),
		clock:   time.Now,
	}
}

// Context returns the HTF level set and trend label for a live price
func (p *Provider) Context(price float64) *Context {
	now := p.clock()
	levels := p.levels(now)

	candidate := p.candidate(levels, price)
	trend := p.trend.Observe(candidate, now)
	_, confirmedAt := p.trend.Label()

	ctx := &Context{
		Levels:           levels,
		Proximity:        ComputeProximity(levels, price, p.cfg.ProximityPct),
		Trend:            trend,
		TrendConfirmedAt: confirmedAt,
	}
	return ctx
}

// Trend returns the currently published trend without advancing the machine
func (p *Provider) Trend() Trend {
	label, _ := p.trend.Label()
	return label
}

func (p *Provider) levels(now time.Time) []Level {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cachedLevels != nil && now.Sub(p.refreshedAt) < p.cfg.CacheTTL {
		return p.cachedLevels
	}

	var all []Level
	for _, tf := range p.cfg.Timeframes {
		win := p.windows.Window(tf)
		if win == nil {
			continue
		}
		candles := win.Snapshot()
		if len(candles) == 0 {
			continue
		}
		all = append(all, SwingLevels(candles, tf)...)
		all = append(all, FibPivots(candles[len(candles)-1], tf)...)
	}

	p.cachedLevels = Dedupe(all)
	p.refreshedAt = now
	p.log.Debug().
		Int("levels", len(p.cachedLevels)).
		Msg("HTF levels refreshed")
	return p.cachedLevels
}

func (p *Provider) candidate(levels []Level, price float64) Trend {
	win := p.windows.Window(market.TF4h)
	if win != nil {
		candles := win.Snapshot()
		if len(candles) >= 5 {
			return CandidateFromStructure(candles)
		}
	}
	// 4h structure unavailable; fall back to level geometry
	return CandidateFromLevels(levels, price)
}

// Invalidate drops the cached level set; the next query refreshes
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cachedLevels = nil
}

// SetClock overrides the time source (tests only)
func (p *Provider) SetClock(clock func() time.Time) {
	p.clock = clock
}
