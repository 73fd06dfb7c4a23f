// Package indicators derives the technical indicator bundle from a candle
// window. Pure functions of the window; no external calls.
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"github.com/quantpulse/quantpulse/internal/market"
)

const (
	emaFastPeriod   = 20
	emaSlowPeriod   = 50
	rsiPeriod       = 14
	adxPeriod       = 14
	atrPeriod       = 14
	bollingerPeriod = 20
)

// Bundle holds the indicator set derived from one window
type Bundle struct {
	EMA20          float64 `json:"ema20"`
	EMA50          float64 `json:"ema50"`
	RSI            float64 `json:"rsi"`
	ADX            float64 `json:"adx"`
	ATR            float64 `json:"atr"`
	BollingerUpper float64 `json:"bollinger_upper"`
	BollingerMid   float64 `json:"bollinger_mid"`
	BollingerLower float64 `json:"bollinger_lower"`
}

// ATRPct returns ATR as a percentage of the given price
func (b Bundle) ATRPct(price float64) float64 {
	if price == 0 {
		return 0
	}
	return b.ATR / price * 100
}

// EMATrend classifies the EMA relationship: "bullish" when the fast EMA is
// above the slow one, "bearish" below, else "neutral"
func (b Bundle) EMATrend() string {
	switch {
	case b.EMA20 > b.EMA50:
		return "bullish"
	case b.EMA20 < b.EMA50:
		return "bearish"
	default:
		return "neutral"
	}
}

// Compute derives the full bundle from a candle snapshot
func Compute(candles []market.Candle) (Bundle, error) {
	if len(candles) < emaSlowPeriod {
		return Bundle{}, fmt.Errorf("insufficient candles: need at least %d, got %d", emaSlowPeriod, len(candles))
	}

	closes := market.Closes(candles)
	highs := market.Highs(candles)
	lows := market.Lows(candles)

	ema20 := lastValue(computeEMA(closes, emaFastPeriod))
	ema50 := lastValue(computeEMA(closes, emaSlowPeriod))
	rsi := lastValue(computeRSI(closes, rsiPeriod))
	upper, mid, lower := computeBollinger(closes, bollingerPeriod)
	adx := computeADX(highs, lows, closes, adxPeriod)
	atr := computeATR(highs, lows, closes, atrPeriod)

	return Bundle{
		EMA20:          ema20,
		EMA50:          ema50,
		RSI:            rsi,
		ADX:            adx,
		ATR:            atr,
		BollingerUpper: upper,
		BollingerMid:   mid,
		BollingerLower: lower,
	}, nil
}

func toChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func lastValue(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func computeEMA(closes []float64, period int) []float64 {
	ema := trend.NewEmaWithPeriod[float64](period)
	return collect(ema.Compute(toChan(closes)))
}

func computeRSI(closes []float64, period int) []float64 {
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return collect(rsi.Compute(toChan(closes)))
}

func computeBollinger(closes []float64, period int) (upper, mid, lower float64) {
	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	upperCh, midCh, lowerCh := bb.Compute(toChan(closes))

	var lowers, mids, uppers []float64
	for {
		l, lok := <-lowerCh
		m, mok := <-midCh
		u, uok := <-upperCh
		if !lok || !mok || !uok {
			break
		}
		lowers = append(lowers, l)
		mids = append(mids, m)
		uppers = append(uppers, u)
	}
	return lastValue(uppers), lastValue(mids), lastValue(lowers)
}

// computeATR implements Wilder's ATR. cinar/indicator's ATR operates on a
// different smoothing; the stop math here depends on Wilder semantics.
func computeATR(high, low, closes []float64, period int) float64 {
	n := len(closes)
	if n < period+1 {
		return 0
	}

	tr := trueRanges(high, low, closes)
	smoothed := smoothWilder(tr, period)
	return lastValue(smoothed)
}

// computeADX implements the Average Directional Index; not available in
// cinar/indicator v2.
func computeADX(high, low, closes []float64, period int) float64 {
	n := len(closes)
	if n < period*2 {
		return 0
	}

	tr := trueRanges(high, low, closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	dx := make([]float64, 0, len(smoothTR))
	for i := range smoothTR {
		if smoothTR[i] == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := smoothPlusDM[i] / smoothTR[i] * 100
		minusDI := smoothMinusDM[i] / smoothTR[i] * 100
		sum := plusDI + minusDI
		if sum == 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, math.Abs(plusDI-minusDI)/sum*100)
	}

	if len(dx) < period {
		return 0
	}

	// ADX is the Wilder-smoothed DX
	adx := 0.0
	for _, v := range dx[:period] {
		adx += v
	}
	adx /= float64(period)
	for _, v := range dx[period:] {
		adx = (adx*float64(period-1) + v) / float64(period)
	}
	return adx
}

func trueRanges(high, low, closes []float64) []float64 {
	n := len(closes)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closes[i-1]), math.Abs(low[i]-closes[i-1])))
	}
	return tr
}

func smoothWilder(values []float64, period int) []float64 {
	n := len(values)
	if n <= period {
		return nil
	}

	out := make([]float64, 0, n-period)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += values[i]
	}
	out = append(out, sum)
	for i := period + 1; i < n; i++ {
		prev := out[len(out)-1]
		out = append(out, prev-prev/float64(period)+values[i])
	}
	// Normalize to averages
	for i := range out {
		out[i] /= float64(period)
	}
	return out
}
