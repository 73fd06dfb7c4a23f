package htf

import (
	"sync"
	"time"

	"github.com/quantpulse/quantpulse/internal/market"
)

// Trend is the published higher-timeframe trend label
type Trend string

const (
	Bullish Trend = "BULLISH"
	Bearish Trend = "BEARISH"
	Neutral Trend = "NEUTRAL"
)

// trendMachine is the hysteretic trend state. A flip between directional
// labels needs two consecutive confirmations of the same candidate; once
// promoted the label is locked for the configured duration. The first
// transition out of NEUTRAL is accepted immediately.
type trendMachine struct {
	mu            sync.Mutex
	label         Trend
	pending       Trend
	confirmations int
	confirmedAt   time.Time
	lockUntil     time.Time
	lockDuration  time.Duration
}

func newTrendMachine(lockDuration time.Duration) *trendMachine {
	return &trendMachine{
		label:        Neutral,
		lockDuration: lockDuration,
	}
}

// Observe feeds one candidate label and returns the published label
func (m *trendMachine) Observe(candidate Trend, now time.Time) Trend {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.lockUntil) {
		return m.label
	}

	if candidate == m.label {
		m.pending = ""
		m.confirmations = 0
		return m.label
	}

	if m.label == Neutral && candidate != Neutral {
		m.promote(candidate, now)
		return m.label
	}

	if candidate == m.pending {
		m.confirmations++
	} else {
		m.pending = candidate
		m.confirmations = 1
	}

	if m.confirmations >= 2 {
		m.promote(candidate, now)
	}
	return m.label
}

func (m *trendMachine) promote(candidate Trend, now time.Time) {
	m.label = candidate
	m.confirmedAt = now
	m.lockUntil = now.Add(m.lockDuration)
	m.pending = ""
	m.confirmations = 0
}

// Label returns the published label and its confirmation timestamp
func (m *trendMachine) Label() (Trend, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.label, m.confirmedAt
}

// CandidateFromStructure derives a candidate label from the last five 4h
// bars: count higher-highs / lower-highs / higher-lows / lower-lows among
// consecutive pairs.
func CandidateFromStructure(candles []market.Candle) Trend {
	if len(candles) < 5 {
		return Neutral
	}
	recent := candles[len(candles)-5:]

	var higherHighs, lowerHighs, higherLows, lowerLows int
	for i := 1; i < len(recent); i++ {
		if recent[i].High > recent[i-1].High {
			higherHighs++
		} else if recent[i].High < recent[i-1].High {
			lowerHighs++
		}
		if recent[i].Low > recent[i-1].Low {
			higherLows++
		} else if recent[i].Low < recent[i-1].Low {
			lowerLows++
		}
	}

	switch {
	case higherHighs >= 2 && higherHighs > lowerHighs:
		return Bullish
	case lowerLows >= 2 && lowerLows > higherLows:
		return Bearish
	default:
		return Neutral
	}
}

// CandidateFromLevels is the fallback when 4h data is unavailable: compare
// the distance to the nearest resistance vs support (a 1.5x ratio decides
// direction) and break ties by counting STRONG levels on each side.
func CandidateFromLevels(levels []Level, price float64) Trend {
	prox := ComputeProximity(levels, price, 0)

	if prox.NearestSupport != nil && prox.NearestResistance != nil {
		distUp := prox.NearestResistance.Price - price
		distDown := price - prox.NearestSupport.Price
		if distDown > 0 && distUp/distDown >= 1.5 {
			return Bullish
		}
		if distUp > 0 && distDown/distUp >= 1.5 {
			return Bearish
		}
	}

	var strongBelow, strongAbove int
	for _, lv := range levels {
		if lv.Strength != Strong {
			continue
		}
		if lv.Type == Support && lv.Price < price {
			strongBelow++
		}
		if lv.Type == Resistance && lv.Price > price {
			strongAbove++
		}
	}
	switch {
	case strongBelow > strongAbove:
		return Bullish
	case strongAbove > strongBelow:
		return Bearish
	default:
		return Neutral
	}
}
