package market

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/metrics"
)

const (
	intradayBackfill = 100
	htfBackfill      = 150

	maxBackfillAttempts = 4
	initialBackoff      = time.Second
	maxBackoff          = 30 * time.Second
)

// IngestorConfig configures the market-data ingestor
type IngestorConfig struct {
	Instrument        string
	PrimaryTimeframe  Timeframe
	SupportTimeframes []Timeframe
	HTFTimeframes     []Timeframe
	WindowRetention   int
	BackfillTimeout   time.Duration
}

// Ingestor maintains durable kline subscriptions for one instrument and
// emits a PrimaryClose event whenever the primary timeframe bar finalizes.
type Ingestor struct {
	cfg  IngestorConfig
	feed Feed
	log  zerolog.Logger

	windows map[Timeframe]*Window

	// At most one pending primary-close event; newer closes coalesce
	events chan PrimaryClose

	mu      sync.Mutex
	running bool
	stops   map[Timeframe]func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	suspended atomic.Bool // true while a transport is disconnected
	degraded  atomic.Bool // true when backfill budget exhausted
}

// NewIngestor creates an ingestor for one instrument
func NewIngestor(cfg IngestorConfig, feed Feed, log zerolog.Logger) *Ingestor {
	if cfg.WindowRetention == 0 {
		cfg.WindowRetention = 100
	}
	if cfg.BackfillTimeout == 0 {
		cfg.BackfillTimeout = 60 * time.Second
	}

	windows := make(map[Timeframe]*Window)
	for _, tf := range cfg.allTimeframes() {
		windows[tf] = NewWindow(cfg.Instrument, tf, cfg.WindowRetention)
	}

	return &Ingestor{
		cfg:     cfg,
		feed:    feed,
		log:     log.With().Str("component", "ingestor").Str("instrument", cfg.Instrument).Logger(),
		windows: windows,
		events:  make(chan PrimaryClose, 1),
		stops:   make(map[Timeframe]func()),
	}
}

func (c IngestorConfig) allTimeframes() []Timeframe {
	seen := map[Timeframe]bool{c.PrimaryTimeframe: true}
	out := []Timeframe{c.PrimaryTimeframe}
	for _, tf := range append(append([]Timeframe{}, c.SupportTimeframes...), c.HTFTimeframes...) {
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	return out
}

func (c IngestorConfig) isHTF(tf Timeframe) bool {
	for _, h := range c.HTFTimeframes {
		if h == tf {
			return true
		}
	}
	return false
}

// Start backfills every window and opens the kline subscriptions.
// HTF backfill failure is non-fatal and leaves the ingestor degraded.
func (i *Ingestor) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = true
	i.ctx, i.cancel = context.WithCancel(ctx)
	i.mu.Unlock()

	for _, tf := range i.cfg.allTimeframes() {
		if err := i.backfillWithRetry(i.ctx, tf); err != nil {
			if i.cfg.isHTF(tf) {
				i.log.Warn().Err(err).Str("timeframe", string(tf)).
					Msg("HTF backfill failed, continuing degraded")
				i.degraded.Store(true)
				continue
			}
			i.Stop()
			return fmt.Errorf("backfill %s failed: %w", tf, err)
		}
	}

	for _, tf := range i.cfg.allTimeframes() {
		if err := i.subscribe(tf); err != nil {
			i.Stop()
			return err
		}
	}

	i.log.Info().
		Int("timeframes", len(i.windows)).
		Bool("degraded", i.degraded.Load()).
		Msg("Ingestor started")
	return nil
}

// Stop tears down all subscriptions. Idempotent.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	if i.cancel != nil {
		i.cancel()
	}
	stops := i.stops
	i.stops = make(map[Timeframe]func())
	i.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	i.wg.Wait()
	i.log.Info().Msg("Ingestor stopped")
}

// Events returns the primary-close event channel
func (i *Ingestor) Events() <-chan PrimaryClose {
	return i.events
}

// Window returns the rolling window for a timeframe
func (i *Ingestor) Window(tf Timeframe) *Window {
	return i.windows[tf]
}

// Degraded reports whether a backfill budget was exhausted; the composer
// skips composition while degraded
func (i *Ingestor) Degraded() bool {
	return i.degraded.Load()
}

func (i *Ingestor) backfillWithRetry(ctx context.Context, tf Timeframe) error {
	limit := intradayBackfill
	if i.cfg.isHTF(tf) {
		limit = htfBackfill
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxBackfillAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, i.cfg.BackfillTimeout)
		candles, err := i.feed.Backfill(callCtx, i.cfg.Instrument, tf, limit)
		cancel()
		if err == nil {
			i.windows[tf].Reconcile(candles)
			i.log.Debug().
				Str("timeframe", string(tf)).
				Int("candles", len(candles)).
				Msg("Backfill complete")
			return nil
		}
		lastErr = err

		i.log.Warn().Err(err).
			Str("timeframe", string(tf)).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Backfill failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("backfill exhausted retries: %w", lastErr)
}

func (i *Ingestor) subscribe(tf Timeframe) error {
	errHandler := func(err error) {
		i.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Transport error, suspending emission")
		i.suspended.Store(true)
		i.wg.Add(1)
		go i.reconnect(tf)
	}

	stop, err := i.feed.Subscribe(i.cfg.Instrument, tf, i.onCandle, errHandler)
	if err != nil {
		return fmt.Errorf("subscribe %s failed: %w", tf, err)
	}

	i.mu.Lock()
	i.stops[tf] = stop
	i.mu.Unlock()
	return nil
}

// reconnect re-runs backfill to reconcile the gap, then resubscribes.
// Emission stays suspended until the stream is live again.
func (i *Ingestor) reconnect(tf Timeframe) {
	defer i.wg.Done()

	backoff := initialBackoff
	for {
		select {
		case <-i.ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := i.backfillWithRetry(i.ctx, tf); err != nil {
			if i.ctx.Err() != nil {
				return
			}
			i.degraded.Store(true)
			i.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Reconnect backfill failed")
		}

		if err := i.subscribe(tf); err != nil {
			i.log.Error().Err(err).Str("timeframe", string(tf)).Msg("Resubscribe failed")
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		i.suspended.Store(false)
		i.degraded.Store(false)
		metrics.FeedReconnects.Inc()
		i.log.Info().Str("timeframe", string(tf)).Msg("Transport reconnected, emission resumed")
		return
	}
}

func (i *Ingestor) onCandle(ev CandleEvent) {
	if !ev.IsFinal {
		return
	}

	win, ok := i.windows[ev.Timeframe]
	if !ok {
		return
	}

	advanced := win.Append(ev.Candle)
	if !advanced {
		return
	}
	metrics.CandlesIngested.WithLabelValues(string(ev.Timeframe)).Inc()
	if ev.Timeframe != i.cfg.PrimaryTimeframe {
		return
	}
	if i.suspended.Load() {
		return
	}

	metrics.PrimaryCloses.Inc()
	i.emit(PrimaryClose{
		Instrument: ev.Instrument,
		Timeframe:  ev.Timeframe,
		Candle:     ev.Candle,
	})
}

// emit delivers a primary-close event with at-most-one-pending coalescing:
// if a close is already queued behind an in-flight composition, the newer
// close replaces it.
func (i *Ingestor) emit(ev PrimaryClose) {
	select {
	case i.events <- ev:
		return
	default:
	}
	select {
	case <-i.events:
	default:
	}
	select {
	case i.events <- ev:
	default:
	}
}
