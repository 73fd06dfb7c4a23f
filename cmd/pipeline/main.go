package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quantpulse/quantpulse/internal/agents"
	"github.com/quantpulse/quantpulse/internal/alerts"
	"github.com/quantpulse/quantpulse/internal/api"
	"github.com/quantpulse/quantpulse/internal/broadcast"
	"github.com/quantpulse/quantpulse/internal/broker"
	"github.com/quantpulse/quantpulse/internal/composer"
	"github.com/quantpulse/quantpulse/internal/config"
	"github.com/quantpulse/quantpulse/internal/db"
	"github.com/quantpulse/quantpulse/internal/executor"
	"github.com/quantpulse/quantpulse/internal/htf"
	"github.com/quantpulse/quantpulse/internal/market"
	"github.com/quantpulse/quantpulse/internal/metrics"
	"github.com/quantpulse/quantpulse/internal/oracle"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("version", config.Version).
		Str("instrument", cfg.Pipeline.Instrument).
		Str("environment", cfg.App.Environment).
		Msg("Starting signal pipeline")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadSecretsFromVault(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets from vault")
	}

	if err := run(ctx, cfg); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Pipeline failed")
	}
	log.Info().Msg("Pipeline stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Storage
	database, err := db.New(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		return err
	}
	defer database.Close()

	signalStore := db.NewSignalStore(database.Pool())
	tradeStore := db.NewTradeStore(database.Pool())
	catalog := agents.NewCatalog(database.Pool())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	defer redisClient.Close()

	// Event bus
	bus, err := broadcast.NewBus(cfg.NATS.URL, config.NewLogger("bus"))
	if err != nil {
		return err
	}
	defer bus.Close()

	// Alerting
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Alerts.Enabled && cfg.Alerts.TelegramToken != "" {
		tg, err := alerts.NewTelegramAlerter(cfg.Alerts.TelegramToken, []int64{cfg.Alerts.ChatID})
		if err != nil {
			log.Warn().Err(err).Msg("Telegram alerter unavailable, continuing with log alerts")
		} else {
			alerters = append(alerters, tg)
		}
	}
	alerter := alerts.NewManager(alerters...)

	// Market data
	primaryTF, err := market.ParseTimeframe(cfg.Pipeline.PrimaryTimeframe)
	if err != nil {
		return err
	}
	supportTFs, err := parseTimeframes(cfg.Pipeline.SupportTimeframes)
	if err != nil {
		return err
	}
	htfTFs, err := parseTimeframes(cfg.Pipeline.HTFTimeframes)
	if err != nil {
		return err
	}

	feed := market.NewBinanceFeed(market.BinanceFeedConfig{
		APIKey:          cfg.Exchange.APIKey,
		SecretKey:       cfg.Exchange.SecretKey,
		Testnet:         cfg.Exchange.Testnet,
		RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
	})
	ingestor := market.NewIngestor(market.IngestorConfig{
		Instrument:        cfg.Pipeline.Instrument,
		PrimaryTimeframe:  primaryTF,
		SupportTimeframes: supportTFs,
		HTFTimeframes:     htfTFs,
		WindowRetention:   cfg.Pipeline.WindowRetention,
		BackfillTimeout:   cfg.Exchange.BackfillTimeout,
	}, feed, config.NewLogger("ingestor"))

	if err := ingestor.Start(ctx); err != nil {
		return err
	}
	defer ingestor.Stop()

	// Analysis
	htfProvider := htf.NewProvider(htf.ProviderConfig{
		Timeframes:   htfTFs,
		CacheTTL:     cfg.Pipeline.HTFCacheTTL,
		LockDuration: cfg.Pipeline.HTFLockDuration,
		ProximityPct: cfg.Pipeline.HTFProximityPct,
	}, ingestor, config.NewLogger("htf"))

	oracleClient := oracle.NewClient(oracle.ClientConfig{
		Endpoint: cfg.Oracle.Endpoint,
		APIKey:   cfg.Oracle.APIKey,
		Timeout:  cfg.Oracle.Timeout,
	}, config.NewLogger("oracle"))
	pool := oracle.NewPool(oracleClient, config.NewLogger("oracle_pool"))

	// Brokers
	registry := broker.NewRegistry()
	registry.Register("binance", broker.NewBinanceBroker(broker.BinanceConfig{
		APIKey:          cfg.Exchange.APIKey,
		SecretKey:       cfg.Exchange.SecretKey,
		Testnet:         cfg.Exchange.Testnet,
		RateLimitPerSec: cfg.Exchange.RateLimitPerSec,
	}, config.NewLogger("binance")))
	paper := broker.NewPaperBroker(config.NewLogger("paper"))
	registry.Register("paper", paper)

	symbols := broker.NewSymbolMap()
	symbols.AddRule("binance", cfg.Pipeline.Instrument, broker.SymbolRule{BrokerSymbol: cfg.Pipeline.Instrument})
	symbols.AddRule("paper", cfg.Pipeline.Instrument, broker.SymbolRule{BrokerSymbol: cfg.Pipeline.Instrument})

	// Broadcast
	queue := broadcast.NewQueue(redisClient, config.NewLogger("queue"))
	cache := broadcast.NewCache(redisClient, cfg.Broadcast.CacheTTL)
	validator := broadcast.NewValidator(broadcast.ValidatorConfig{
		Endpoint: cfg.Broadcast.ValidationEndpoint,
		APIKey:   cfg.Broadcast.ValidationAPIKey,
		Timeout:  cfg.Broadcast.ValidationTimeout,
	}, config.NewLogger("validator"))

	broadcaster := broadcast.New(broadcast.Config{
		SignalCategory:        cfg.Broadcast.SignalCategory,
		PerformanceWindow:     cfg.Broadcast.PerformanceWindow,
		ValidationConcurrency: cfg.Broadcast.Concurrency,
		MinBalance:            cfg.Broadcast.MinBalance,
		BaseNotional:          cfg.Pipeline.BaseNotional,
	}, catalog, tradeStore, tradeStore, validator, registry, symbols,
		queue, cache, signalStore, bus, config.NewLogger("broadcaster"))

	// Composition
	comp := composer.New(composer.Config{
		Instrument:         cfg.Pipeline.Instrument,
		PrimaryTimeframe:   primaryTF,
		SupportTimeframes:  supportTFs,
		MinSignalInterval:  cfg.Pipeline.MinSignalInterval,
		MinConfidence:      cfg.Pipeline.MinConfidence,
		InversionThreshold: cfg.Pipeline.InversionThreshold,
		GradeAThreshold:    cfg.Pipeline.GradeAThreshold,
		GradeBThreshold:    cfg.Pipeline.GradeBThreshold,
	}, ingestor, pool, htfProvider,
		newSink(signalStore, broadcaster), config.NewLogger("composer"))

	// Execution
	monitor := executor.NewMonitor(primaryTF, pool, ingestor, tradeStore, catalog,
		registry, bus, alerter, config.NewLogger("monitor"))
	if err := monitor.Reconstruct(ctx); err != nil {
		return err
	}

	exec := executor.New(executor.Config{
		Workers:      cfg.Executor.Workers,
		PollInterval: cfg.Executor.PollInterval,
		OrderTimeout: cfg.Exchange.OrderTimeout,
	}, queue, tradeStore, catalog, registry, monitor, bus, alerter,
		config.NewLogger("executor"))

	// Observability and control
	metricsServer := metrics.NewServer(cfg.Monitoring.MetricsPort, config.NewLogger("metrics"))
	controlServer := api.NewServer(api.Config{
		Port:     cfg.Monitoring.ControlPort,
		Pipeline: comp,
		Queue:    queue,
		Cache:    cache,
	})

	// The composer and monitor share the primary-close clock
	composerEvents := make(chan market.PrimaryClose, 1)
	monitorEvents := make(chan market.PrimaryClose, 1)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		teePrimaryCloses(gctx, ingestor.Events(), composerEvents, monitorEvents)
		return nil
	})
	g.Go(func() error {
		comp.Run(gctx, composerEvents)
		return nil
	})
	g.Go(func() error {
		monitor.Run(gctx, monitorEvents)
		return nil
	})
	g.Go(func() error {
		if err := exec.Run(gctx); err != nil && gctx.Err() == nil {
			alerter.ComponentHalted(gctx, "executor", err)
			return err
		}
		return nil
	})
	if cfg.Monitoring.EnableMetrics {
		g.Go(func() error { return metricsServer.Start() })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error { return controlServer.Start() })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return controlServer.Stop(shutdownCtx)
	})

	return g.Wait()
}

// teePrimaryCloses duplicates primary closes to the composer and the monitor.
// Both targets hold at most one pending event; newer closes coalesce.
func teePrimaryCloses(ctx context.Context, in <-chan market.PrimaryClose, outs ...chan market.PrimaryClose) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			for _, out := range outs {
				select {
				case out <- ev:
				default:
					select {
					case <-out:
					default:
					}
					select {
					case out <- ev:
					default:
					}
				}
			}
		}
	}
}

func parseTimeframes(tokens []string) ([]market.Timeframe, error) {
	out := make([]market.Timeframe, 0, len(tokens))
	for _, tok := range tokens {
		tf, err := market.ParseTimeframe(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// sink bridges composition outcomes into persistence and broadcast
type sink struct {
	signals     *db.SignalStore
	broadcaster *broadcast.Broadcaster
}

func newSink(signals *db.SignalStore, broadcaster *broadcast.Broadcaster) *sink {
	return &sink{signals: signals, broadcaster: broadcaster}
}

func (s *sink) SignalEmitted(ctx context.Context, sig *composer.Signal) {
	if err := s.signals.InsertSignal(ctx, db.SignalRecord{
		ID:         sig.ID,
		Instrument: sig.Instrument,
		Direction:  string(sig.Direction),
		Confidence: sig.Confidence,
		Entry:      sig.Entry,
		Stop:       sig.Stop,
		Target:     sig.Target,
		RiskReward: sig.RiskReward,
		Grade:      sig.Quality.Grade,
		SizeFinal:  sig.Size.Final,
		Inverted:   sig.Inverted,
		Audit:      sig,
		CreatedAt:  sig.CreatedAt,
	}); err != nil {
		log.Error().Err(err).Str("signal_id", sig.ID).Msg("Failed to persist signal")
	}

	if _, err := s.broadcaster.Broadcast(ctx, *sig); err != nil {
		log.Error().Err(err).Str("signal_id", sig.ID).Msg("Broadcast failed")
	}
}

func (s *sink) SignalRejected(ctx context.Context, instrument string, reason composer.RejectReason) {
	if err := s.signals.InsertRejection(ctx, instrument, string(reason), time.Now()); err != nil {
		log.Error().Err(err).Msg("Failed to persist rejection")
	}
}
