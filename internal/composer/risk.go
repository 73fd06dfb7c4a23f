package composer

import (
	"math"

	"github.com/quantpulse/quantpulse/internal/htf"
	"github.com/quantpulse/quantpulse/internal/indicators"
	"github.com/quantpulse/quantpulse/internal/oracle"
)

const atrStopMultiple = 1.5

// targetCapATRMultiple bounds the target distance from entry
const targetCapATRMultiple = 2.0

// riskRewardForVolatility bands the target R:R by realized volatility. Quiet
// markets get a tight 1.5; expansive ones stretch to 2.5.
func riskRewardForVolatility(atrPct float64) float64 {
	switch {
	case atrPct < 0.3:
		return 1.5
	case atrPct < 0.6:
		return 2.0
	default:
		return 2.5
	}
}

// requiredMinRR is the confidence-dependent floor on realized R:R. Higher
// conviction tolerates a tighter payoff.
func requiredMinRR(confidence float64) float64 {
	switch {
	case confidence >= 80:
		return 0.5
	case confidence >= 75:
		return 0.55
	case confidence >= 70:
		return 0.75
	default:
		return 0.7
	}
}

// BuildRiskPlan derives entry, stop, and target for a direction. Entry is the
// current price. The stop is the tightest of the fibonacci entry-zone
// boundary, the nearest matching S/R level, and a 1.5 ATR band. The target
// follows the volatility R:R band, capped at 2 ATR from entry. A plan with a
// missing stop or non-positive reward is invalid.
func BuildRiskPlan(dir Direction, price float64, ind indicators.Bundle, verdicts []oracle.Verdict, prox htf.Proximity) (RiskPlan, bool) {
	if price <= 0 || ind.ATR <= 0 {
		return RiskPlan{}, false
	}

	stop := stopPrice(dir, price, ind, verdicts, prox)
	if stop <= 0 {
		return RiskPlan{}, false
	}
	risk := math.Abs(price - stop)
	if risk <= 0 {
		return RiskPlan{}, false
	}

	rr := riskRewardForVolatility(ind.ATRPct(price))
	cap := targetCapATRMultiple * ind.ATR

	var target float64
	if dir == Long {
		target = math.Min(price+rr*risk, price+cap)
	} else {
		target = math.Max(price-rr*risk, price-cap)
	}

	reward := math.Abs(target - price)
	if reward <= 0 || target <= 0 {
		return RiskPlan{}, false
	}

	realized := reward / risk
	if math.IsNaN(realized) || math.IsInf(realized, 0) {
		return RiskPlan{}, false
	}

	return RiskPlan{Entry: price, Stop: stop, Target: target, RiskReward: realized}, true
}

// stopPrice picks the tightest candidate stop on the protective side
func stopPrice(dir Direction, price float64, ind indicators.Bundle, verdicts []oracle.Verdict, prox htf.Proximity) float64 {
	var candidates []float64

	if zone := fibZoneBoundary(dir, price, verdicts); zone > 0 {
		candidates = append(candidates, zone)
	}
	if dir == Long && prox.NearestSupport != nil && prox.NearestSupport.Price < price {
		candidates = append(candidates, prox.NearestSupport.Price)
	}
	if dir == Short && prox.NearestResistance != nil && prox.NearestResistance.Price > price {
		candidates = append(candidates, prox.NearestResistance.Price)
	}

	atrStop := price - atrStopMultiple*ind.ATR
	if dir == Short {
		atrStop = price + atrStopMultiple*ind.ATR
	}
	candidates = append(candidates, atrStop)

	// Tightest means closest to entry on the protective side
	best := 0.0
	for _, c := range candidates {
		if dir == Long && (c <= 0 || c >= price) {
			continue
		}
		if dir == Short && c <= price {
			continue
		}
		if best == 0 || math.Abs(price-c) < math.Abs(price-best) {
			best = c
		}
	}
	return best
}

// fibZoneBoundary extracts the entry-zone boundary on the trade's protective
// side from the Fibonacci grader's typed fields, when present.
func fibZoneBoundary(dir Direction, price float64, verdicts []oracle.Verdict) float64 {
	for _, v := range verdicts {
		if v.Kind != oracle.KindFibonacci || v.Fibonacci == nil {
			continue
		}
		if dir == Long && v.Fibonacci.EntryZoneLow > 0 && v.Fibonacci.EntryZoneLow < price {
			return v.Fibonacci.EntryZoneLow
		}
		if dir == Short && v.Fibonacci.EntryZoneHigh > price {
			return v.Fibonacci.EntryZoneHigh
		}
	}
	return 0
}

// Invert mirrors a risk plan around its entry: the stop and target swap
// sides, preserving their distances. Realized R:R changes accordingly.
func (p RiskPlan) Invert() RiskPlan {
	stopDist := math.Abs(p.Entry - p.Stop)
	targetDist := math.Abs(p.Target - p.Entry)

	inv := RiskPlan{Entry: p.Entry}
	if p.Stop < p.Entry {
		// Long plan becomes short
		inv.Stop = p.Entry + stopDist
		inv.Target = p.Entry - targetDist
	} else {
		inv.Stop = p.Entry - stopDist
		inv.Target = p.Entry + targetDist
	}
	inv.RiskReward = targetDist / stopDist
	return inv
}
