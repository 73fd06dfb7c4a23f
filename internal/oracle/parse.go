package oracle

import (
	"encoding/json"
	"strings"
)

var bullishKeywords = []string{"buy", "bullish", "long", "upside", "breakout", "accumulate"}
var bearishKeywords = []string{"sell", "bearish", "short", "downside", "breakdown", "distribute"}

// ParseRecommendation normalizes a grader's directional call. The structured
// field wins when present; otherwise directional keywords in the reasoning
// are counted. A tie returns HOLD — never a silent bias toward BUY.
func ParseRecommendation(structured, reasoning string) Recommendation {
	switch strings.ToUpper(strings.TrimSpace(structured)) {
	case "BUY":
		return Buy
	case "SELL":
		return Sell
	case "HOLD":
		return Hold
	}

	text := strings.ToLower(reasoning)
	bulls := countKeywords(text, bullishKeywords)
	bears := countKeywords(text, bearishKeywords)

	switch {
	case bulls > bears:
		return Buy
	case bears > bulls:
		return Sell
	default:
		return Hold
	}
}

func countKeywords(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		n += strings.Count(text, kw)
	}
	return n
}

// clampConfidence bounds confidence to [0,100]
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// verdictFromResponse builds a verdict from the wire response, decoding the
// kind-specific field block. A malformed field block degrades to a verdict
// without typed fields rather than failing the grader.
func verdictFromResponse(kind Kind, resp *analysisResponse) Verdict {
	v := Verdict{
		Kind:           kind,
		Recommendation: ParseRecommendation(resp.Recommendation, resp.Reasoning),
		Confidence:     clampConfidence(resp.Confidence),
		Reasoning:      resp.Reasoning,
	}

	if len(resp.Fields) == 0 {
		return v
	}

	switch kind {
	case KindFibonacci:
		var f FibonacciFields
		if json.Unmarshal(resp.Fields, &f) == nil {
			v.Fibonacci = &f
		}
	case KindTrendMomentum:
		var f TrendMomentumFields
		if json.Unmarshal(resp.Fields, &f) == nil {
			v.TrendMomentum = &f
		}
	case KindVolumePriceAction:
		var f VolumePriceActionFields
		if json.Unmarshal(resp.Fields, &f) == nil {
			v.VolumePriceAction = &f
		}
	case KindSupportResistance:
		var f SupportResistanceFields
		if json.Unmarshal(resp.Fields, &f) == nil {
			v.SupportResistance = &f
		}
	}
	return v
}
