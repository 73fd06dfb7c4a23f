package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SignalStore persists the composition audit trail. Every emitted signal is
// recorded with its full audit payload; rejections record the canonical
// reason only.
type SignalStore struct {
	pool PoolInterface
}

// NewSignalStore creates a signal store
func NewSignalStore(pool PoolInterface) *SignalStore {
	return &SignalStore{pool: pool}
}

// SignalRecord is one emitted signal's audit row
type SignalRecord struct {
	ID         string
	Instrument string
	Direction  string
	Confidence float64
	Entry      float64
	Stop       float64
	Target     float64
	RiskReward float64
	Grade      string
	SizeFinal  float64
	Inverted   bool
	Audit      any // full audit payload, stored as JSONB
	CreatedAt  time.Time
}

// InsertSignal records an emitted signal with its audit payload
func (s *SignalStore) InsertSignal(ctx context.Context, rec SignalRecord) error {
	audit, err := json.Marshal(rec.Audit)
	if err != nil {
		return fmt.Errorf("failed to marshal signal audit: %w", err)
	}

	query := `
		INSERT INTO signals (
			id, instrument, direction, confidence, entry_price, stop_price,
			target_price, risk_reward, grade, size_final, inverted, audit, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.Instrument, rec.Direction, rec.Confidence,
		rec.Entry, rec.Stop, rec.Target, rec.RiskReward,
		rec.Grade, rec.SizeFinal, rec.Inverted, audit, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// InsertRejection records a composition rejection for auditing
func (s *SignalStore) InsertRejection(ctx context.Context, instrument, reason string, at time.Time) error {
	query := `
		INSERT INTO signal_rejections (instrument, reason, created_at)
		VALUES ($1, $2, $3)
	`
	if _, err := s.pool.Exec(ctx, query, instrument, reason, at); err != nil {
		return fmt.Errorf("failed to insert rejection: %w", err)
	}
	return nil
}

// InsertExclusion records an agent excluded during broadcast
func (s *SignalStore) InsertExclusion(ctx context.Context, signalID, agentID, reason string, at time.Time) error {
	query := `
		INSERT INTO signal_exclusions (signal_id, agent_id, reason, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, signalID, agentID, reason, at); err != nil {
		return fmt.Errorf("failed to insert exclusion: %w", err)
	}
	return nil
}

// InsertValidation records a per-agent validation outcome
func (s *SignalStore) InsertValidation(ctx context.Context, signalID, agentID string, accepted bool, riskBand, reasoning string, at time.Time) error {
	query := `
		INSERT INTO signal_validations (signal_id, agent_id, accepted, risk_band, reasoning, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, query, signalID, agentID, accepted, riskBand, reasoning, at); err != nil {
		return fmt.Errorf("failed to insert validation: %w", err)
	}
	return nil
}
