// Package htf maintains the higher-timeframe context: support/resistance
// levels from swing structure and Fibonacci pivots, plus a hysteretic trend
// label derived from the 4h series.
package htf

import (
	"math"
	"sort"

	"github.com/quantpulse/quantpulse/internal/market"
)

// LevelType is the side of a level
type LevelType string

const (
	Support    LevelType = "SUPPORT"
	Resistance LevelType = "RESISTANCE"
)

// Strength buckets a level by how often it has been respected
type Strength string

const (
	Weak     Strength = "WEAK"
	Moderate Strength = "MODERATE"
	Strong   Strength = "STRONG"
)

// Source records how a level was derived
type Source string

const (
	SourceSwing    Source = "SWING"
	SourceFibPivot Source = "FIB_PIVOT"
)

// Level is one higher-timeframe support/resistance price
type Level struct {
	Price     float64          `json:"price"`
	Timeframe market.Timeframe `json:"timeframe"`
	Type      LevelType        `json:"type"`
	Strength  Strength         `json:"strength"`
	Source    Source           `json:"source"`
	FibLabel  string           `json:"fib_label,omitempty"`
	Touches   int              `json:"touches"`
}

const (
	touchTolerancePct = 0.2 // prior extremes within this band count as touches
	dedupeTolerancePct = 0.3
)

var swingLookback = map[market.Timeframe]int{
	market.TF1w: 3,
	market.TF1d: 5,
	market.TF4h: 8,
}

// SwingLevels scans a window for swing highs/lows. A bar is a swing high when
// its high dominates lookback bars on both sides; symmetric for lows.
func SwingLevels(candles []market.Candle, tf market.Timeframe) []Level {
	lookback, ok := swingLookback[tf]
	if !ok {
		lookback = 5
	}

	var levels []Level
	for i := lookback; i < len(candles)-lookback; i++ {
		if isSwingHigh(candles, i, lookback) {
			levels = append(levels, makeSwingLevel(candles, i, tf, Resistance))
		}
		if isSwingLow(candles, i, lookback) {
			levels = append(levels, makeSwingLevel(candles, i, tf, Support))
		}
	}
	return levels
}

func isSwingHigh(candles []market.Candle, i, lookback int) bool {
	for j := i - lookback; j <= i+lookback; j++ {
		if j == i {
			continue
		}
		if candles[j].High >= candles[i].High {
			return false
		}
	}
	return true
}

func isSwingLow(candles []market.Candle, i, lookback int) bool {
	for j := i - lookback; j <= i+lookback; j++ {
		if j == i {
			continue
		}
		if candles[j].Low <= candles[i].Low {
			return false
		}
	}
	return true
}

func makeSwingLevel(candles []market.Candle, i int, tf market.Timeframe, side LevelType) Level {
	price := candles[i].High
	if side == Support {
		price = candles[i].Low
	}

	touches := 0
	for j := 0; j < i; j++ {
		extreme := candles[j].High
		if side == Support {
			extreme = candles[j].Low
		}
		if math.Abs(extreme-price)/price*100 <= touchTolerancePct {
			touches++
		}
	}

	strength := Weak
	switch {
	case touches >= 3:
		strength = Strong
	case touches == 2:
		strength = Moderate
	}

	return Level{
		Price:     price,
		Timeframe: tf,
		Type:      side,
		Strength:  strength,
		Source:    SourceSwing,
		Touches:   touches,
	}
}

// FibPivots derives the classic floor-trader pivots from the previous
// finalized bar. PP is published as a SUPPORT token by convention.
func FibPivots(prev market.Candle, tf market.Timeframe) []Level {
	h, l, c := prev.High, prev.Low, prev.Close
	pp := (h + l + c) / 3
	r := h - l

	mk := func(price float64, side LevelType, label string) Level {
		return Level{
			Price:     price,
			Timeframe: tf,
			Type:      side,
			Strength:  Moderate,
			Source:    SourceFibPivot,
			FibLabel:  label,
			Touches:   1,
		}
	}

	return []Level{
		mk(pp, Support, "PP"),
		mk(pp+0.382*r, Resistance, "R1"),
		mk(pp-0.382*r, Support, "S1"),
		mk(pp+0.618*r, Resistance, "R2"),
		mk(pp-0.618*r, Support, "S2"),
		mk(pp+1.000*r, Resistance, "R3"),
		mk(pp-1.000*r, Support, "S3"),
	}
}

var timeframeRank = map[market.Timeframe]int{
	market.TF4h: 1,
	market.TF1d: 2,
	market.TF1w: 3,
}

// Dedupe collapses same-type levels within 0.3% of each other. The survivor
// is the one with more touches, else the one from the higher timeframe.
func Dedupe(levels []Level) []Level {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })

	out := make([]Level, 0, len(levels))
	for _, lv := range levels {
		merged := false
		for k := range out {
			if out[k].Type != lv.Type {
				continue
			}
			ref := out[k].Price
			if math.Abs(lv.Price-ref)/ref*100 > dedupeTolerancePct {
				continue
			}
			if betterLevel(lv, out[k]) {
				out[k] = lv
			}
			merged = true
			break
		}
		if !merged {
			out = append(out, lv)
		}
	}
	return out
}

func betterLevel(a, b Level) bool {
	if a.Touches != b.Touches {
		return a.Touches > b.Touches
	}
	return timeframeRank[a.Timeframe] > timeframeRank[b.Timeframe]
}

// Proximity holds the nearest-level view for a live price
type Proximity struct {
	NearestSupport      *Level    `json:"nearest_support,omitempty"`
	NearestResistance   *Level    `json:"nearest_resistance,omitempty"`
	IsNearCriticalLevel bool      `json:"is_near_critical_level"`
	CriticalLevelType   LevelType `json:"critical_level_type,omitempty"`
}

// ComputeProximity finds the nearest support below and resistance above the
// price, flagging critical proximity at the configured threshold.
func ComputeProximity(levels []Level, price, proximityPct float64) Proximity {
	var prox Proximity
	for i := range levels {
		lv := &levels[i]
		switch lv.Type {
		case Support:
			if lv.Price < price && (prox.NearestSupport == nil || lv.Price > prox.NearestSupport.Price) {
				prox.NearestSupport = lv
			}
		case Resistance:
			if lv.Price > price && (prox.NearestResistance == nil || lv.Price < prox.NearestResistance.Price) {
				prox.NearestResistance = lv
			}
		}
	}

	if prox.NearestSupport != nil {
		dist := (price - prox.NearestSupport.Price) / price * 100
		if dist <= proximityPct {
			prox.IsNearCriticalLevel = true
			prox.CriticalLevelType = Support
		}
	}
	if prox.NearestResistance != nil {
		dist := (prox.NearestResistance.Price - price) / price * 100
		if dist <= proximityPct {
			// Resistance wins when both sides are critical; the tighter
			// side is reported
			if !prox.IsNearCriticalLevel || resistanceCloser(prox, price) {
				prox.IsNearCriticalLevel = true
				prox.CriticalLevelType = Resistance
			}
		}
	}
	return prox
}

func resistanceCloser(p Proximity, price float64) bool {
	if p.NearestSupport == nil || p.NearestResistance == nil {
		return p.NearestResistance != nil
	}
	return p.NearestResistance.Price-price < price-p.NearestSupport.Price
}
