// Package broadcast fans a composed signal out to the agent population:
// cheap eligibility checks, parallel per-agent validation, and priority
// enqueueing of the survivors.
package broadcast

import (
	"time"

	"github.com/quantpulse/quantpulse/internal/composer"
)

// RiskBand is the validator's sizing verdict
type RiskBand string

const (
	BandSafe     RiskBand = "SAFE"
	BandModerate RiskBand = "MODERATE"
	BandRisky    RiskBand = "RISKY"
)

// SizePercent maps a risk band to the share of available balance committed
func (b RiskBand) SizePercent() float64 {
	switch b {
	case BandSafe:
		return 100
	case BandModerate:
		return 70
	case BandRisky:
		return 40
	default:
		return 0
	}
}

// Exclusion reasons recorded for audit. Bounded set; metrics label on it.
const (
	ExcludeInactive        = "inactive"
	ExcludeCategory        = "category_not_allowed"
	ExcludeSymbol          = "symbol_not_admitted"
	ExcludeBalance         = "insufficient_balance"
	ExcludeOpenPositions   = "max_open_positions"
	ExcludeConfidence      = "confidence_below_agent_min"
	ExcludeCheckFailed     = "failed_to_check"
)

// ValidatedSignal is a composed signal approved for one agent
type ValidatedSignal struct {
	Signal         composer.Signal `json:"signal"`
	AgentID        string          `json:"agent_id"`
	BrokerSymbol   string          `json:"broker_symbol"`
	PositionSize   float64         `json:"position_size"`
	SizePercent    float64         `json:"size_percent"`
	RiskBand       RiskBand        `json:"risk_band"`
	StopOverride   *float64        `json:"stop_override,omitempty"`
	TargetOverride *float64        `json:"target_override,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
	ValidatedAt    time.Time       `json:"validated_at"`
}

// Key returns the unique queue key for this validated signal
func (v ValidatedSignal) Key() string {
	return v.Signal.ID + ":" + v.AgentID
}

// Stop returns the effective stop price after any validator override
func (v ValidatedSignal) Stop() float64 {
	if v.StopOverride != nil {
		return *v.StopOverride
	}
	return v.Signal.RiskPlan.Stop
}

// Target returns the effective target price after any validator override
func (v ValidatedSignal) Target() float64 {
	if v.TargetOverride != nil {
		return *v.TargetOverride
	}
	return v.Signal.RiskPlan.Target
}

// Priority is the queue priority: higher pops earlier
func (v ValidatedSignal) Priority() int {
	return int(v.Signal.Confidence*100 + 0.5)
}
