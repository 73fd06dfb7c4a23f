package composer

import "github.com/quantpulse/quantpulse/internal/oracle"

// TallyConsensus classifies the 4-grader vote distribution into a consensus
// pattern. Tradable patterns carry the dominant direction; counter-splits and
// wider splits are never tradable.
func TallyConsensus(verdicts []oracle.Verdict) Consensus {
	var c Consensus
	for _, v := range verdicts {
		switch v.Recommendation {
		case oracle.Buy:
			c.VotesBuy++
		case oracle.Sell:
			c.VotesSell++
		default:
			c.VotesNeutral++
		}
	}

	dominant, against := c.VotesBuy, c.VotesSell
	dir := Long
	if c.VotesSell > c.VotesBuy {
		dominant, against = c.VotesSell, c.VotesBuy
		dir = Short
	}

	switch {
	case dominant == 4:
		c.Pattern = PatternUnanimousBuy
		if dir == Short {
			c.Pattern = PatternUnanimousSell
		}
		c.Direction, c.Tradable = dir, true
	case dominant == 3:
		c.Pattern = PatternSupermajority
		c.Direction, c.Tradable = dir, true
	case dominant == 2 && against == 2:
		c.Pattern = PatternCounterSplit
	case dominant == 2 && against == 0:
		c.Pattern = PatternMajorityNeutral
		c.Direction, c.Tradable = dir, true
	case dominant == 2 && against == 1:
		c.Pattern = PatternMildSplit
		c.Direction, c.Tradable = dir, true
	default:
		c.Pattern = PatternSplit
	}
	return c
}

// primaryConfidence averages the confidences of the verdicts voting with the
// consensus direction. Sentinels contribute nothing.
func primaryConfidence(verdicts []oracle.Verdict, dir Direction) float64 {
	want := oracle.Buy
	if dir == Short {
		want = oracle.Sell
	}

	sum, n := 0.0, 0
	for _, v := range verdicts {
		if v.Recommendation == want {
			sum += v.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ConfluenceScore is the fraction of analyzed timeframes whose consensus
// direction matches the primary's, scaled to 0-100. The primary itself
// counts.
func ConfluenceScore(primary Consensus, supporting []TimeframeAnalysis) float64 {
	if !primary.Tradable {
		return 0
	}
	matched, total := 1, 1
	for _, tf := range supporting {
		total++
		if tf.Consensus.Tradable && tf.Consensus.Direction == primary.Direction {
			matched++
		}
	}
	return float64(matched) / float64(total) * 100
}

// BlendConfidence combines primary confidence with confluence without
// diluting it: confluence amplifies the 30% tail rather than averaging in.
func BlendConfidence(primaryConf, confluence float64) float64 {
	return primaryConf*0.7 + primaryConf*(confluence/100)*0.3
}

// RequiredVotes is the dynamic consensus requirement: 2 agreeing votes
// suffice only for high-confidence HTF-aligned setups, else 3.
func RequiredVotes(confidence float64, htfAligned bool) int {
	if confidence >= 80 && htfAligned {
		return 2
	}
	return 3
}
