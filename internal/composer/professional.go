package composer

import (
	"math"

	"github.com/quantpulse/quantpulse/internal/market"
)

const (
	structureMaxPoints  = 30.0
	oteMaxPoints        = 30.0
	orderBlockFresh     = 25.0
	orderBlockTested    = 15.0
	sweepPoints         = 15.0
	impulseMovePct      = 0.3 // minimum expansion that qualifies an order block
	warningPenalty      = 0.1
)

// ProEntryInput carries the composition facts the bonus points depend on
type ProEntryInput struct {
	Direction  Direction
	Price      float64
	Candles    []market.Candle
	Confidence float64
	Unanimous  bool
	HTFAligned bool
}

// ScoreProEntry computes the professional-entry score from institutional
// price-action reads of the primary window: market structure, optimal-entry
// zone, order block, and liquidity sweep. The score never rejects; it only
// selects a size multiplier tier.
func ScoreProEntry(in ProEntryInput) ProEntry {
	var pe ProEntry

	if s, ok := structureScore(in.Candles, in.Direction); ok {
		pe.Structure = s
	} else {
		pe.Warnings = append(pe.Warnings, "structure unreadable")
	}

	if s, ok := optimalEntryScore(in.Candles, in.Price, in.Direction); ok {
		pe.OptimalEntry = s
	} else {
		pe.Warnings = append(pe.Warnings, "no impulse for entry zone")
	}

	if s, ok := orderBlockScore(in.Candles, in.Price, in.Direction); ok {
		pe.OrderBlock = s
	} else {
		pe.Warnings = append(pe.Warnings, "no reachable order block")
	}

	if s, ok := liquiditySweepScore(in.Candles, in.Direction); ok {
		pe.LiquiditySweep = s
	} else {
		pe.Warnings = append(pe.Warnings, "no liquidity sweep")
	}

	if in.Confidence >= 80 {
		pe.Bonus += 10
	}
	if in.Unanimous {
		pe.Bonus += 10
	}
	if in.HTFAligned {
		pe.Bonus += 5
	}

	pe.Total = pe.Structure + pe.OptimalEntry + pe.OrderBlock + pe.LiquiditySweep + pe.Bonus
	pe.Multiplier = tierMultiplier(pe.Total, len(pe.Warnings))
	return pe
}

// tierMultiplier maps the adjusted score onto a never-reject size schedule,
// then deducts per-warning down to half the tier value.
func tierMultiplier(score float64, warnings int) float64 {
	var tier float64
	switch {
	case score >= 60:
		tier = 1.0
	case score >= 40:
		tier = 0.75
	case score >= 25:
		tier = 0.5
	default:
		tier = 0.35
	}

	m := tier - warningPenalty*float64(warnings)
	if floor := tier * 0.5; m < floor {
		m = floor
	}
	return m
}

// structureScore reads the last few swings for HH/HL (bullish) or LH/LL
// (bearish) alignment. Full points for aligned structure, partial for
// ranging, none against.
func structureScore(candles []market.Candle, dir Direction) (float64, bool) {
	if len(candles) < 6 {
		return 0, false
	}
	recent := candles[len(candles)-6:]

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

	bullish := higherHighs >= 3 && higherLows >= 3
	bearish := lowerHighs >= 3 && lowerLows >= 3

	switch {
	case dir == Long && bullish, dir == Short && bearish:
		return structureMaxPoints, true
	case dir == Long && bearish, dir == Short && bullish:
		return 0, true
	default:
		// Ranging
		return structureMaxPoints / 2, true
	}
}

// optimalEntryScore checks whether price sits in the 61.8-78.6% retracement
// window of the latest impulse; being on the correct side of the 50%
// equilibrium earns half credit.
func optimalEntryScore(candles []market.Candle, price float64, dir Direction) (float64, bool) {
	lo, hi, ok := latestImpulse(candles)
	if !ok {
		return 0, false
	}
	span := hi - lo
	if span <= 0 {
		return 0, false
	}

	if dir == Long {
		// Retracement down from the impulse high
		zoneHigh := hi - 0.618*span
		zoneLow := hi - 0.786*span
		equilibrium := hi - 0.5*span
		switch {
		case price >= zoneLow && price <= zoneHigh:
			return oteMaxPoints, true
		case price <= equilibrium:
			return oteMaxPoints / 2, true
		default:
			return 0, true
		}
	}

	zoneLow := lo + 0.618*span
	zoneHigh := lo + 0.786*span
	equilibrium := lo + 0.5*span
	switch {
	case price >= zoneLow && price <= zoneHigh:
		return oteMaxPoints, true
	case price >= equilibrium:
		return oteMaxPoints / 2, true
	default:
		return 0, true
	}
}

// latestImpulse finds the high/low range of the most recent directional leg
func latestImpulse(candles []market.Candle) (lo, hi float64, ok bool) {
	if len(candles) < 10 {
		return 0, 0, false
	}
	leg := candles[len(candles)-10:]
	lo, hi = leg[0].Low, leg[0].High
	for _, c := range leg {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	if hi <= lo {
		return 0, 0, false
	}
	return lo, hi, true
}

// orderBlockScore finds the last opposite-colored candle before a directional
// expansion of at least 0.3%, still reachable from the current price and not
// fully mitigated by a later close through it.
func orderBlockScore(candles []market.Candle, price float64, dir Direction) (float64, bool) {
	if len(candles) < 3 {
		return 0, false
	}

	for i := len(candles) - 2; i > 0; i-- {
		block := candles[i-1]
		next := candles[i]

		movePct := (next.Close - block.Close) / block.Close * 100
		if dir == Short {
			movePct = -movePct
		}
		if movePct < impulseMovePct {
			continue
		}
		if dir == Long && block.Bullish() {
			continue
		}
		if dir == Short && !block.Bullish() {
			continue
		}

		// Reachable: the block zone is on the pullback side of price
		if dir == Long && block.High >= price {
			continue
		}
		if dir == Short && block.Low <= price {
			continue
		}

		tested, mitigated := blockState(candles[i:], block, dir)
		if mitigated {
			continue
		}
		if tested {
			return orderBlockTested, true
		}
		return orderBlockFresh, true
	}
	return 0, false
}

// blockState reports whether later bars touched the block (tested) or closed
// through it (mitigated).
func blockState(later []market.Candle, block market.Candle, dir Direction) (tested, mitigated bool) {
	for _, c := range later[1:] {
		if dir == Long {
			if c.Close < block.Low {
				return tested, true
			}
			if c.Low <= block.High {
				tested = true
			}
		} else {
			if c.Close > block.High {
				return tested, true
			}
			if c.High >= block.Low {
				tested = true
			}
		}
	}
	return tested, false
}

// liquiditySweepScore detects a recent wick through a prior swing extreme
// with a close back inside, on the side consistent with the direction. A
// bullish setup wants a sweep of lows (stop-run below), bearish of highs.
func liquiditySweepScore(candles []market.Candle, dir Direction) (float64, bool) {
	if len(candles) < 8 {
		return 0, false
	}

	prior := candles[len(candles)-8 : len(candles)-3]
	recent := candles[len(candles)-3:]

	priorLow, priorHigh := prior[0].Low, prior[0].High
	for _, c := range prior {
		priorLow = math.Min(priorLow, c.Low)
		priorHigh = math.Max(priorHigh, c.High)
	}

	for _, c := range recent {
		if dir == Long && c.Low < priorLow && c.Close > priorLow {
			return sweepPoints, true
		}
		if dir == Short && c.High > priorHigh && c.Close < priorHigh {
			return sweepPoints, true
		}
	}
	return 0, false
}
