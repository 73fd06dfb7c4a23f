package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Pipeline.Instrument)
	assert.Equal(t, "15m", cfg.Pipeline.PrimaryTimeframe)
	assert.Equal(t, []string{"4h", "1d", "1w"}, cfg.Pipeline.HTFTimeframes)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.MinSignalInterval)
	assert.Equal(t, 50.0, cfg.Pipeline.MinConfidence)
	assert.Equal(t, 55.0, cfg.Pipeline.InversionThreshold)
	assert.Equal(t, 0.9, cfg.Pipeline.HTFProximityPct)
	assert.Equal(t, time.Hour, cfg.Pipeline.HTFLockDuration)
	assert.Equal(t, 67.0, cfg.Pipeline.GradeAThreshold)
	assert.Equal(t, 52.0, cfg.Pipeline.GradeBThreshold)
	assert.Equal(t, 10.0, cfg.Broadcast.MinBalance)
	assert.Equal(t, 30*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Exchange.OrderTimeout)
	assert.Equal(t, 60*time.Second, cfg.Exchange.BackfillTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
app:
  log_level: debug
pipeline:
  instrument: ETHUSDT
  primary_timeframe: 5m
  min_signal_interval: 120s
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Pipeline.Instrument)
	assert.Equal(t, "5m", cfg.Pipeline.PrimaryTimeframe)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.MinSignalInterval)
	// Unset keys fall back to defaults
	assert.Equal(t, 50.0, cfg.Pipeline.MinConfidence)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instrument",
			mutate:  func(c *Config) { c.Pipeline.Instrument = "" },
			wantErr: "instrument",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Pipeline.MinConfidence = 120 },
			wantErr: "min_confidence",
		},
		{
			name:    "retention too small",
			mutate:  func(c *Config) { c.Pipeline.WindowRetention = 10 },
			wantErr: "window_retention",
		},
		{
			name:    "inverted grade thresholds",
			mutate:  func(c *Config) { c.Pipeline.GradeBThreshold = 90 },
			wantErr: "grade thresholds",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Executor.Workers = 0 },
			wantErr: "workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSchemaVersion(t *testing.T) {
	assert.NoError(t, ValidateSchemaVersion(""))
	assert.NoError(t, ValidateSchemaVersion("1.0.0"))
	assert.NoError(t, ValidateSchemaVersion(CurrentSchemaVersion))
	assert.Error(t, ValidateSchemaVersion("2.0.0"))
	assert.Error(t, ValidateSchemaVersion("1.99.0"))
	assert.Error(t, ValidateSchemaVersion("not-a-version"))
}
