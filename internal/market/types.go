// Package market owns candle ingestion: durable kline subscriptions across
// timeframes, rolling in-memory windows, and primary-close events.
package market

import (
	"fmt"
	"time"
)

// Timeframe is a candle cadence
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
}

// ParseTimeframe validates a timeframe token
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe: %q", s)
	}
	return tf, nil
}

// Duration returns the candle interval for the timeframe
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Candle is a single OHLCV bar. Immutable once finalized.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Bullish reports whether the candle closed above its open
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Range returns high minus low
func (c Candle) Range() float64 { return c.High - c.Low }

// CandleEvent is a delivered candle from the market-data transport
type CandleEvent struct {
	Instrument string    `json:"instrument"`
	Timeframe  Timeframe `json:"timeframe"`
	Candle     Candle    `json:"candle"`
	IsFinal    bool      `json:"is_final"`
}

// PrimaryClose is raised when the primary-timeframe candle finalizes
type PrimaryClose struct {
	Instrument string    `json:"instrument"`
	Timeframe  Timeframe `json:"timeframe"`
	Candle     Candle    `json:"candle"`
}
