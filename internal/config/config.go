// Package config loads pipeline configuration and bootstraps logging.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all pipeline configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Vault      VaultConfig      `mapstructure:"vault"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name          string `mapstructure:"name"`
	Environment   string `mapstructure:"environment"` // development, staging, production
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"` // "json" or "console"
	SchemaVersion string `mapstructure:"schema_version"`
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// ExchangeConfig contains market-data and broker settings
type ExchangeConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	SecretKey       string        `mapstructure:"secret_key"`
	Testnet         bool          `mapstructure:"testnet"`
	BackfillTimeout time.Duration `mapstructure:"backfill_timeout"`
	OrderTimeout    time.Duration `mapstructure:"order_timeout"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
}

// OracleConfig contains pattern-oracle settings
type OracleConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PipelineConfig contains the composer knobs. Defaults follow the calibrated
// tables; they are exposed here because the thresholds are empirical.
type PipelineConfig struct {
	Instrument         string        `mapstructure:"instrument"`
	PrimaryTimeframe   string        `mapstructure:"primary_timeframe"`
	SupportTimeframes  []string      `mapstructure:"support_timeframes"`
	HTFTimeframes      []string      `mapstructure:"htf_timeframes"`
	MinSignalInterval  time.Duration `mapstructure:"min_signal_interval"`
	MinConfidence      float64       `mapstructure:"min_confidence"`
	InversionThreshold float64       `mapstructure:"inversion_threshold"`
	HTFProximityPct    float64       `mapstructure:"htf_proximity_pct"`
	HTFLockDuration    time.Duration `mapstructure:"htf_lock_duration"`
	HTFCacheTTL        time.Duration `mapstructure:"htf_cache_ttl"`
	GradeAThreshold    float64       `mapstructure:"grade_a_threshold"`
	GradeBThreshold    float64       `mapstructure:"grade_b_threshold"`
	BaseNotional       float64       `mapstructure:"base_notional"`
	WindowRetention    int           `mapstructure:"window_retention"`
}

// BroadcastConfig contains fan-out and validation settings
type BroadcastConfig struct {
	MinBalance         float64       `mapstructure:"min_balance"`
	ValidationEndpoint string        `mapstructure:"validation_endpoint"`
	ValidationAPIKey   string        `mapstructure:"validation_api_key"`
	ValidationTimeout  time.Duration `mapstructure:"validation_timeout"`
	SignalCategory     string        `mapstructure:"signal_category"`
	PerformanceWindow  time.Duration `mapstructure:"performance_window"`
	Concurrency        int           `mapstructure:"concurrency"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

// ExecutorConfig contains executor worker-pool settings
type ExecutorConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// MonitoringConfig contains metrics/control server settings
type MonitoringConfig struct {
	MetricsPort   int  `mapstructure:"metrics_port"`
	ControlPort   int  `mapstructure:"control_port"`
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// AlertsConfig contains telegram alerting settings
type AlertsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	TelegramToken string `mapstructure:"telegram_token"`
	ChatID        int64  `mapstructure:"chat_id"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("QUANTPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine; defaults and env cover everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateSchemaVersion(cfg.App.SchemaVersion); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Pipeline.Instrument == "" {
		return fmt.Errorf("pipeline.instrument is required")
	}
	if c.Pipeline.PrimaryTimeframe == "" {
		return fmt.Errorf("pipeline.primary_timeframe is required")
	}
	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 100 {
		return fmt.Errorf("pipeline.min_confidence must be in [0,100], got %.2f", c.Pipeline.MinConfidence)
	}
	if c.Pipeline.WindowRetention < 50 || c.Pipeline.WindowRetention > 100 {
		return fmt.Errorf("pipeline.window_retention must be in [50,100], got %d", c.Pipeline.WindowRetention)
	}
	if c.Pipeline.GradeBThreshold >= c.Pipeline.GradeAThreshold {
		return fmt.Errorf("grade thresholds must satisfy B < A")
	}
	if c.Executor.Workers < 1 {
		return fmt.Errorf("executor.workers must be >= 1, got %d", c.Executor.Workers)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "quantpulse")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.schema_version", CurrentSchemaVersion)

	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("exchange.testnet", false)
	v.SetDefault("exchange.backfill_timeout", 60*time.Second)
	v.SetDefault("exchange.order_timeout", 15*time.Second)
	v.SetDefault("exchange.rate_limit_per_sec", 10.0)

	v.SetDefault("oracle.timeout", 30*time.Second)

	v.SetDefault("pipeline.instrument", "BTCUSDT")
	v.SetDefault("pipeline.primary_timeframe", "15m")
	v.SetDefault("pipeline.support_timeframes", []string{"5m", "1h"})
	v.SetDefault("pipeline.htf_timeframes", []string{"4h", "1d", "1w"})
	v.SetDefault("pipeline.min_signal_interval", 60*time.Second)
	v.SetDefault("pipeline.min_confidence", 50.0)
	v.SetDefault("pipeline.inversion_threshold", 55.0)
	v.SetDefault("pipeline.htf_proximity_pct", 0.9)
	v.SetDefault("pipeline.htf_lock_duration", time.Hour)
	v.SetDefault("pipeline.htf_cache_ttl", time.Hour)
	v.SetDefault("pipeline.grade_a_threshold", 67.0)
	v.SetDefault("pipeline.grade_b_threshold", 52.0)
	v.SetDefault("pipeline.base_notional", 1000.0)
	v.SetDefault("pipeline.window_retention", 100)

	v.SetDefault("broadcast.min_balance", 10.0)
	v.SetDefault("broadcast.validation_timeout", 30*time.Second)
	v.SetDefault("broadcast.signal_category", "crypto")
	v.SetDefault("broadcast.performance_window", 7*24*time.Hour)
	v.SetDefault("broadcast.concurrency", 8)
	v.SetDefault("broadcast.cache_ttl", time.Hour)

	v.SetDefault("executor.workers", 4)
	v.SetDefault("executor.poll_interval", 500*time.Millisecond)

	v.SetDefault("monitoring.metrics_port", 9091)
	v.SetDefault("monitoring.control_port", 8085)
	v.SetDefault("monitoring.enable_metrics", true)

	v.SetDefault("alerts.enabled", false)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "quantpulse")
}
