// Package oracle defines the pattern-analysis boundary: four independent
// graders, each consuming a timeframe snapshot and returning a structured
// verdict. Graders are opaque, potentially slow, and individually fallible;
// a failed grader yields a HOLD/0 sentinel and never blocks composition.
package oracle

import (
	"github.com/quantpulse/quantpulse/internal/indicators"
	"github.com/quantpulse/quantpulse/internal/market"
)

// Kind discriminates the four grader variants
type Kind string

const (
	KindFibonacci         Kind = "fibonacci"
	KindTrendMomentum     Kind = "trend_momentum"
	KindVolumePriceAction Kind = "volume_price_action"
	KindSupportResistance Kind = "support_resistance"
)

// Kinds lists all grader variants in canonical order
func Kinds() []Kind {
	return []Kind{KindFibonacci, KindTrendMomentum, KindVolumePriceAction, KindSupportResistance}
}

// Recommendation is a grader's directional call
type Recommendation string

const (
	Buy  Recommendation = "BUY"
	Sell Recommendation = "SELL"
	Hold Recommendation = "HOLD"
)

// Snapshot is the input handed to every grader
type Snapshot struct {
	Instrument   string            `json:"instrument"`
	Timeframe    market.Timeframe  `json:"timeframe"`
	Candles      []market.Candle   `json:"candles"`
	Indicators   indicators.Bundle `json:"indicators"`
	CurrentPrice float64           `json:"current_price"`
}

// FibonacciFields are the Fibonacci grader's typed outputs
type FibonacciFields struct {
	CurrentLevel  string  `json:"current_level"` // e.g. "61.8"
	EntryZoneLow  float64 `json:"entry_zone_low"`
	EntryZoneHigh float64 `json:"entry_zone_high"`
}

// TrendMomentumFields are the trend grader's typed outputs
type TrendMomentumFields struct {
	EMATrend string `json:"ema_trend"` // "bullish", "bearish", "neutral"
	Momentum string `json:"momentum"`  // "STRONG", "MODERATE", "WEAK"
}

// VolumePriceActionFields are the volume grader's typed outputs
type VolumePriceActionFields struct {
	VolumeState    string `json:"volume_state"`    // "rising", "falling", "flat"
	ReversalCandle string `json:"reversal_candle"` // "bullish", "bearish", or ""
}

// SupportResistanceFields are the S/R grader's typed outputs
type SupportResistanceFields struct {
	NearestSupport    float64 `json:"nearest_support"`
	NearestResistance float64 `json:"nearest_resistance"`
	Position          string  `json:"position"` // "above_support", "below_resistance", "between"
}

// Verdict is a grader's structured opinion. Exactly one typed-field block is
// populated, matching Kind.
type Verdict struct {
	Kind           Kind           `json:"kind"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"` // [0,100]
	Reasoning      string         `json:"reasoning"`

	Fibonacci         *FibonacciFields         `json:"fibonacci,omitempty"`
	TrendMomentum     *TrendMomentumFields     `json:"trend_momentum,omitempty"`
	VolumePriceAction *VolumePriceActionFields `json:"volume_price_action,omitempty"`
	SupportResistance *SupportResistanceFields `json:"support_resistance,omitempty"`
}

// Sentinel is the conservative stand-in verdict for a failed grader
func Sentinel(kind Kind) Verdict {
	return Verdict{
		Kind:           kind,
		Recommendation: Hold,
		Confidence:     0,
		Reasoning:      "analysis unavailable",
	}
}

// IsSentinel reports whether a verdict is the failure stand-in
func (v Verdict) IsSentinel() bool {
	return v.Confidence == 0 && v.Recommendation == Hold && v.Reasoning == "analysis unavailable"
}
