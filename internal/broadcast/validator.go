package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/agents"
	"github.com/quantpulse/quantpulse/internal/composer"
	"github.com/quantpulse/quantpulse/internal/db"
)

// MarketConditions is the live-market bundle handed to the validator
type MarketConditions struct {
	LiquidityBucket string  `json:"liquidity_bucket"` // "deep", "normal", "thin"
	SpreadPct       float64 `json:"spread_pct"`
	VolatilityPct   float64 `json:"volatility_pct"`
}

// validationRequest is the wire request to the validation oracle
type validationRequest struct {
	Agent       agents.Agent     `json:"agent"`
	Signal      composer.Signal  `json:"signal"`
	Balance     float64          `json:"balance"`
	OpenTrades  int              `json:"open_trades"`
	Performance db.Performance   `json:"performance"`
	Market      MarketConditions `json:"market"`
}

// Decision is the validation oracle's structured answer
type Decision struct {
	ShouldExecute    bool     `json:"should_execute"`
	RiskBand         RiskBand `json:"risk_band"`
	Reasoning        string   `json:"reasoning"`
	StopOverride     *float64 `json:"stop_override,omitempty"`
	TargetOverride   *float64 `json:"target_override,omitempty"`
	Confidence       float64  `json:"confidence"`
	KeyRisks         []string `json:"key_risks,omitempty"`
	KeyOpportunities []string `json:"key_opportunities,omitempty"`
}

// Validator decides per-agent whether to take a signal. Light mode is a
// local balance/positions check; full mode consults the validation oracle.
type Validator struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

// ValidatorConfig configures the validator
type ValidatorConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// NewValidator creates a validator
func NewValidator(cfg ValidatorConfig, log zerolog.Logger) *Validator {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Validator{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("component", "validator").Logger(),
	}
}

// Validate returns the sizing decision for one agent. Oracle failures and
// timeouts produce a conservative reject with the failure preserved in the
// reasoning; they never propagate as errors.
func (v *Validator) Validate(ctx context.Context, req validationRequest) Decision {
	if !req.Agent.ExpensiveValidation {
		return v.lightValidate(req)
	}

	decision, err := v.consultOracle(ctx, req)
	if err != nil {
		v.log.Warn().Err(err).
			Str("agent_id", req.Agent.ID).
			Str("signal_id", req.Signal.ID).
			Msg("Validation oracle failed, rejecting conservatively")
		return Decision{
			ShouldExecute: false,
			Reasoning:     fmt.Sprintf("validation unavailable: %v", err),
		}
	}
	return decision
}

// lightValidate accepts on the cheap checks alone at a MODERATE band
func (v *Validator) lightValidate(req validationRequest) Decision {
	if req.Balance <= 0 {
		return Decision{ShouldExecute: false, Reasoning: "no available balance"}
	}
	if req.OpenTrades >= req.Agent.MaxOpenPositions {
		return Decision{ShouldExecute: false, Reasoning: "open position limit reached"}
	}
	return Decision{
		ShouldExecute: true,
		RiskBand:      BandModerate,
		Reasoning:     "light validation: balance and position checks passed",
		Confidence:    req.Signal.Confidence,
	}
}

func (v *Validator) consultOracle(ctx context.Context, req validationRequest) (Decision, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal validation request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read validation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("validation service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var decision Decision
	if err := json.Unmarshal(respBody, &decision); err != nil {
		return Decision{}, fmt.Errorf("malformed validation response: %w", err)
	}
	if decision.ShouldExecute && decision.RiskBand.SizePercent() == 0 {
		return Decision{}, fmt.Errorf("validation response carries unknown risk band %q", decision.RiskBand)
	}
	return decision, nil
}

// ClassifyLiquidity buckets 24h quote volume
func ClassifyLiquidity(quoteVolume float64) string {
	switch {
	case quoteVolume >= 100_000_000:
		return "deep"
	case quoteVolume >= 1_000_000:
		return "normal"
	default:
		return "thin"
	}
}
