package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/quantpulse/internal/agents"
	"github.com/quantpulse/quantpulse/internal/composer"
)

func lightAgent() agents.Agent {
	return agents.Agent{
		ID:               "agent-1",
		IsActive:         true,
		MaxOpenPositions: 3,
	}
}

func TestLightValidationAcceptsModerate(t *testing.T) {
	v := NewValidator(ValidatorConfig{}, zerolog.Nop())

	d := v.Validate(context.Background(), validationRequest{
		Agent:   lightAgent(),
		Signal:  composer.Signal{ID: "sig-1", Confidence: 78},
		Balance: 500,
	})

	assert.True(t, d.ShouldExecute)
	assert.Equal(t, BandModerate, d.RiskBand)
	assert.InDelta(t, 70.0, d.RiskBand.SizePercent(), 1e-9)
}

func TestLightValidationRejects(t *testing.T) {
	v := NewValidator(ValidatorConfig{}, zerolog.Nop())

	tests := []struct {
		name       string
		balance    float64
		openTrades int
	}{
		{name: "no balance", balance: 0, openTrades: 0},
		{name: "position limit", balance: 500, openTrades: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := v.Validate(context.Background(), validationRequest{
				Agent:      lightAgent(),
				Signal:     composer.Signal{ID: "sig-1"},
				Balance:    tt.balance,
				OpenTrades: tt.openTrades,
			})
			assert.False(t, d.ShouldExecute)
		})
	}
}

func expensiveAgent() agents.Agent {
	a := lightAgent()
	a.ExpensiveValidation = true
	return a
}

func TestFullValidationParsesDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req validationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent-1", req.Agent.ID)
		assert.InDelta(t, 500.0, req.Balance, 1e-9)

		stop := 99.2
		json.NewEncoder(w).Encode(Decision{
			ShouldExecute: true,
			RiskBand:      BandSafe,
			Reasoning:     "strong setup, deep liquidity",
			StopOverride:  &stop,
			Confidence:    82,
		})
	}))
	defer srv.Close()

	v := NewValidator(ValidatorConfig{Endpoint: srv.URL, APIKey: "test-key"}, zerolog.Nop())
	d := v.Validate(context.Background(), validationRequest{
		Agent:   expensiveAgent(),
		Signal:  composer.Signal{ID: "sig-1", Confidence: 78},
		Balance: 500,
	})

	assert.True(t, d.ShouldExecute)
	assert.Equal(t, BandSafe, d.RiskBand)
	require.NotNil(t, d.StopOverride)
	assert.InDelta(t, 99.2, *d.StopOverride, 1e-9)
}

func TestFullValidationRejectsConservativelyOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal error", http.StatusInternalServerError)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
		{
			name: "unknown risk band",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(Decision{ShouldExecute: true, RiskBand: "YOLO"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			v := NewValidator(ValidatorConfig{Endpoint: srv.URL}, zerolog.Nop())
			d := v.Validate(context.Background(), validationRequest{
				Agent:   expensiveAgent(),
				Signal:  composer.Signal{ID: "sig-1"},
				Balance: 500,
			})
			assert.False(t, d.ShouldExecute)
			assert.Contains(t, d.Reasoning, "validation unavailable")
		})
	}
}

func TestFullValidationTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	v := NewValidator(ValidatorConfig{Endpoint: srv.URL, Timeout: 20 * time.Millisecond}, zerolog.Nop())
	d := v.Validate(context.Background(), validationRequest{
		Agent:   expensiveAgent(),
		Signal:  composer.Signal{ID: "sig-1"},
		Balance: 500,
	})
	assert.False(t, d.ShouldExecute)
}

func TestClassifyLiquidity(t *testing.T) {
	assert.Equal(t, "deep", ClassifyLiquidity(250_000_000))
	assert.Equal(t, "normal", ClassifyLiquidity(5_000_000))
	assert.Equal(t, "thin", ClassifyLiquidity(40_000))
}
