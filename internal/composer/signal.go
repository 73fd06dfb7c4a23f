// Package composer fuses the four grader verdicts, multi-timeframe
// confluence, and the higher-timeframe context into a single trade
// recommendation protected by a quality-scoring and sizing engine.
package composer

import (
	"time"

	"github.com/google/uuid"

	"github.com/quantpulse/quantpulse/internal/htf"
	"github.com/quantpulse/quantpulse/internal/market"
	"github.com/quantpulse/quantpulse/internal/oracle"
)

// Direction is the traded side of a signal
type Direction string

const (
	Long  Direction = "BUY"
	Short Direction = "SELL"
)

// Opposite returns the inverse direction
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// RejectReason is the canonical reason a tick produced no signal. Every
// rejection carries exactly one.
type RejectReason string

const (
	RejectSpacing      RejectReason = "spacing"
	RejectDegraded     RejectReason = "ingestor_degraded"
	RejectInsufficient RejectReason = "insufficient_data"
	RejectCounterSplit RejectReason = "counter-split"
	RejectSplit        RejectReason = "split"
	RejectConsensus    RejectReason = "consensus_below_required"
	RejectConfidence   RejectReason = "confidence_below_floor"
	RejectRiskPlan     RejectReason = "risk_plan_invalid"
	RejectRiskReward   RejectReason = "risk_reward_below_floor"
	RejectCounterTrend RejectReason = "htf_counter_trend"
	RejectPaused       RejectReason = "paused"
)

// Pattern is the categorical consensus token derived from the 4-grader vote
// distribution on the primary timeframe.
type Pattern string

const (
	PatternUnanimousBuy    Pattern = "unanimous-buy"
	PatternUnanimousSell   Pattern = "unanimous-sell"
	PatternSupermajority   Pattern = "supermajority"
	PatternMajorityNeutral Pattern = "majority-with-neutrals"
	PatternMildSplit       Pattern = "mild-split"
	PatternCounterSplit    Pattern = "counter-split"
	PatternSplit           Pattern = "split"
)

// Consensus summarizes the primary-timeframe vote tally
type Consensus struct {
	VotesBuy     int       `json:"votes_buy"`
	VotesSell    int       `json:"votes_sell"`
	VotesNeutral int       `json:"votes_neutral"`
	Direction    Direction `json:"direction,omitempty"`
	Pattern      Pattern   `json:"pattern"`
	Tradable     bool      `json:"tradable"`
}

// VotesFor returns the tally on the consensus direction
func (c Consensus) VotesFor() int {
	if c.Direction == Short {
		return c.VotesSell
	}
	return c.VotesBuy
}

// QualityComponents are the five capped sub-scores of the quality score
type QualityComponents struct {
	Consensus    float64 `json:"consensus"`     // 0-25
	Confidence   float64 `json:"confidence"`    // 0-25
	RiskReward   float64 `json:"risk_reward"`   // 0-20
	HTFAlignment float64 `json:"htf_alignment"` // 0-15
	ProScore     float64 `json:"pro_score"`     // 0-15
}

// Quality is the composite 100-point score and its letter grade
type Quality struct {
	Total      float64           `json:"total"`
	Grade      string            `json:"grade"` // "A", "B", "C"
	Components QualityComponents `json:"components"`
}

// RiskPlan holds entry, stop, target, and the realized risk:reward
type RiskPlan struct {
	Entry      float64 `json:"entry"`
	Stop       float64 `json:"stop"`
	Target     float64 `json:"target"`
	RiskReward float64 `json:"risk_reward"`
}

// ProEntry is the professional-entry score breakdown
type ProEntry struct {
	Structure      float64  `json:"structure"`       // 0-30
	OptimalEntry   float64  `json:"optimal_entry"`   // 0-30
	OrderBlock     float64  `json:"order_block"`     // 0-25
	LiquiditySweep float64  `json:"liquidity_sweep"` // 0-15
	Bonus          float64  `json:"bonus"`
	Total          float64  `json:"total"`
	Warnings       []string `json:"warnings,omitempty"`
	Multiplier     float64  `json:"multiplier"`
}

// SizeBreakdown records the three independent multipliers whose product is
// the final size fraction.
type SizeBreakdown struct {
	HTF     float64 `json:"htf"`     // trend alignment x criticality
	Quality float64 `json:"quality"` // grade multiplier
	Pro     float64 `json:"pro"`     // tier minus warnings
	Final   float64 `json:"final"`
}

// TimeframeAnalysis bundles the four verdicts plus consensus for one timeframe
type TimeframeAnalysis struct {
	Timeframe market.Timeframe `json:"timeframe"`
	Verdicts  []oracle.Verdict `json:"verdicts"`
	Consensus Consensus        `json:"consensus"`
}

// Signal is a fully composed trade recommendation
type Signal struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Inverted   bool      `json:"inverted"`
	Confidence float64   `json:"confidence"`

	RiskPlan
	Quality Quality       `json:"quality"`
	Size    SizeBreakdown `json:"size"`

	Reasoning string    `json:"reasoning"`
	CreatedAt time.Time `json:"created_at"`

	// Audit trail
	Primary    TimeframeAnalysis   `json:"primary"`
	Supporting []TimeframeAnalysis `json:"supporting,omitempty"`
	Confluence float64             `json:"confluence"`
	ProEntry   ProEntry            `json:"pro_entry"`
	HTF        *htf.Context        `json:"htf,omitempty"`
}

func newSignalID() string {
	return uuid.NewString()
}
