package composer

import "math"

// Grade size multipliers. C/D signals still emit but at a token size so the
// audit trail captures how they would have traded.
const (
	gradeAMultiplier = 1.0
	gradeBMultiplier = 0.5
	gradeCMultiplier = 0.25
)

// ScoreQuality computes the composite 100-point quality score from five
// capped components and assigns the letter grade.
func ScoreQuality(cons Consensus, confidence, riskReward float64, trendAlign trendAlignment, proTotal float64, gradeA, gradeB float64) Quality {
	comp := QualityComponents{
		Consensus:    consensusPoints(cons),
		Confidence:   scaleClamp(confidence, 60, 100, 25),
		RiskReward:   scaleClamp(riskReward, 1.0, 2.0, 20),
		HTFAlignment: htfPoints(trendAlign),
		ProScore:     scaleClamp(proTotal, 35, 100, 15),
	}

	q := Quality{
		Total:      comp.Consensus + comp.Confidence + comp.RiskReward + comp.HTFAlignment + comp.ProScore,
		Components: comp,
	}
	switch {
	case q.Total >= gradeA:
		q.Grade = "A"
	case q.Total >= gradeB:
		q.Grade = "B"
	default:
		q.Grade = "C"
	}
	return q
}

// GradeMultiplier maps the letter grade to its size multiplier
func GradeMultiplier(grade string) float64 {
	switch grade {
	case "A":
		return gradeAMultiplier
	case "B":
		return gradeBMultiplier
	default:
		return gradeCMultiplier
	}
}

func consensusPoints(c Consensus) float64 {
	switch c.Pattern {
	case PatternUnanimousBuy, PatternUnanimousSell:
		return 25
	case PatternSupermajority:
		return 18
	case PatternMajorityNeutral:
		return 12
	case PatternMildSplit:
		return 10
	default:
		return 0
	}
}

func htfPoints(align trendAlignment) float64 {
	switch align {
	case trendAligned:
		return 15
	case trendNeutral:
		return 8
	default:
		return 0
	}
}

// scaleClamp maps v linearly from [lo,hi] onto [0,max]
func scaleClamp(v, lo, hi, max float64) float64 {
	if hi <= lo {
		return 0
	}
	scaled := (v - lo) / (hi - lo) * max
	return math.Max(0, math.Min(max, scaled))
}

// trendAlignment classifies the HTF trend relative to the candidate direction
type trendAlignment int

const (
	trendNeutral trendAlignment = iota
	trendAligned
	trendCounter
)
