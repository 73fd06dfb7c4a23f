package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantpulse/quantpulse/internal/oracle"
)

func votes(recs ...oracle.Recommendation) []oracle.Verdict {
	out := make([]oracle.Verdict, len(recs))
	kinds := oracle.Kinds()
	for i, r := range recs {
		out[i] = oracle.Verdict{Kind: kinds[i%len(kinds)], Recommendation: r, Confidence: 70}
	}
	return out
}

func TestTallyConsensusPatterns(t *testing.T) {
	b, s, h := oracle.Buy, oracle.Sell, oracle.Hold

	tests := []struct {
		name     string
		recs     []oracle.Recommendation
		pattern  Pattern
		tradable bool
		dir      Direction
	}{
		{"unanimous buy", []oracle.Recommendation{b, b, b, b}, PatternUnanimousBuy, true, Long},
		{"unanimous sell", []oracle.Recommendation{s, s, s, s}, PatternUnanimousSell, true, Short},
		{"supermajority with hold", []oracle.Recommendation{b, b, b, h}, PatternSupermajority, true, Long},
		{"supermajority mixed", []oracle.Recommendation{b, b, b, s}, PatternSupermajority, true, Long},
		{"majority with neutrals", []oracle.Recommendation{s, s, h, h}, PatternMajorityNeutral, true, Short},
		{"mild split", []oracle.Recommendation{b, b, s, h}, PatternMildSplit, true, Long},
		{"counter split", []oracle.Recommendation{b, b, s, s}, PatternCounterSplit, false, ""},
		{"all hold", []oracle.Recommendation{h, h, h, h}, PatternSplit, false, ""},
		{"one buy rest hold", []oracle.Recommendation{b, h, h, h}, PatternSplit, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := TallyConsensus(votes(tt.recs...))
			assert.Equal(t, tt.pattern, c.Pattern)
			assert.Equal(t, tt.tradable, c.Tradable)
			if tt.tradable {
				assert.Equal(t, tt.dir, c.Direction)
			}
		})
	}
}

func TestPrimaryConfidenceAveragesAgreeingVotes(t *testing.T) {
	verdicts := []oracle.Verdict{
		{Kind: oracle.KindFibonacci, Recommendation: oracle.Buy, Confidence: 85},
		{Kind: oracle.KindTrendMomentum, Recommendation: oracle.Buy, Confidence: 80},
		{Kind: oracle.KindVolumePriceAction, Recommendation: oracle.Buy, Confidence: 75},
		{Kind: oracle.KindSupportResistance, Recommendation: oracle.Hold, Confidence: 90},
	}
	assert.InDelta(t, 80.0, primaryConfidence(verdicts, Long), 0.001)
}

func TestConfluenceScore(t *testing.T) {
	primary := Consensus{Direction: Long, Tradable: true}

	match := TimeframeAnalysis{Consensus: Consensus{Direction: Long, Tradable: true}}
	miss := TimeframeAnalysis{Consensus: Consensus{Direction: Short, Tradable: true}}
	hold := TimeframeAnalysis{Consensus: Consensus{Tradable: false}}

	assert.InDelta(t, 100.0, ConfluenceScore(primary, nil), 0.001)
	assert.InDelta(t, 100.0, ConfluenceScore(primary, []TimeframeAnalysis{match, match}), 0.001)
	assert.InDelta(t, 66.666, ConfluenceScore(primary, []TimeframeAnalysis{match, miss}), 0.01)
	assert.InDelta(t, 50.0, ConfluenceScore(primary, []TimeframeAnalysis{hold}), 0.001)
}

func TestBlendConfidenceNonPunitive(t *testing.T) {
	// Full confluence returns the primary confidence intact
	assert.InDelta(t, 80.0, BlendConfidence(80, 100), 0.001)
	// Zero confluence keeps 70% of the primary rather than halving it
	assert.InDelta(t, 56.0, BlendConfidence(80, 0), 0.001)
}

func TestRequiredVotes(t *testing.T) {
	assert.Equal(t, 2, RequiredVotes(85, true))
	assert.Equal(t, 3, RequiredVotes(85, false))
	assert.Equal(t, 3, RequiredVotes(75, true))
}
