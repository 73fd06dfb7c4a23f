package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TradeStatus is the lifecycle state of a trade row
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
	TradeFailed TradeStatus = "failed"
)

// Trade is one executed per-agent trade
type Trade struct {
	ID           string
	SignalID     string
	AgentID      string
	Instrument   string
	Side         string
	EntryPrice   float64
	Quantity     float64
	StopPrice    float64
	TargetPrice  float64
	BrokerTicket string
	Status       TradeStatus
	RealizedPnL  *float64
	Origin       any // origin signal metadata, stored as JSONB
	OpenedAt     time.Time
	ClosedAt     *time.Time
}

// Performance summarizes an agent's recent trading results. The validator
// feeds these into its risk read.
type Performance struct {
	WinRate           float64
	ConsecutiveLosses int
	RecentPnL         float64
	Drawdown          float64
	TotalTrades       int
}

// TradeStore persists trades and serves recent-performance aggregates
type TradeStore struct {
	pool PoolInterface
}

// NewTradeStore creates a trade store
func NewTradeStore(pool PoolInterface) *TradeStore {
	return &TradeStore{pool: pool}
}

// InsertTrade records a newly opened trade
func (s *TradeStore) InsertTrade(ctx context.Context, t Trade) error {
	origin, err := json.Marshal(t.Origin)
	if err != nil {
		return fmt.Errorf("failed to marshal trade origin: %w", err)
	}

	query := `
		INSERT INTO trades (
			id, signal_id, agent_id, instrument, side, entry_price, quantity,
			stop_price, target_price, broker_ticket, status, origin, opened_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.pool.Exec(ctx, query,
		t.ID, t.SignalID, t.AgentID, t.Instrument, t.Side, t.EntryPrice,
		t.Quantity, t.StopPrice, t.TargetPrice, t.BrokerTicket,
		string(t.Status), origin, t.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// CloseTrade marks a trade closed with its realized PnL
func (s *TradeStore) CloseTrade(ctx context.Context, tradeID string, realizedPnL float64, at time.Time) error {
	query := `
		UPDATE trades
		SET status = 'closed', realized_pnl = $2, closed_at = $3
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, tradeID, realizedPnL, at)
	if err != nil {
		return fmt.Errorf("failed to close trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s not found", tradeID)
	}
	return nil
}

// ReduceTrade shrinks a trade's quantity after a partial close
func (s *TradeStore) ReduceTrade(ctx context.Context, tradeID string, remainingQty, realizedPnL float64) error {
	query := `
		UPDATE trades
		SET quantity = $2, realized_pnl = COALESCE(realized_pnl, 0) + $3
		WHERE id = $1 AND status = 'open'
	`
	tag, err := s.pool.Exec(ctx, query, tradeID, remainingQty, realizedPnL)
	if err != nil {
		return fmt.Errorf("failed to reduce trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("open trade %s not found", tradeID)
	}
	return nil
}

// TradeExists reports whether a trade for (signalID, agentID) was already
// recorded. The executor uses this for idempotence across restarts.
func (s *TradeStore) TradeExists(ctx context.Context, signalID, agentID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM trades WHERE signal_id = $1 AND agent_id = $2)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, signalID, agentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check trade existence: %w", err)
	}
	return exists, nil
}

// OpenTradesSince returns open trades newer than the cutoff. The monitor
// reconstructs its position set from these on start-up.
func (s *TradeStore) OpenTradesSince(ctx context.Context, cutoff time.Time) ([]Trade, error) {
	query := `
		SELECT id, signal_id, agent_id, instrument, side, entry_price, quantity,
		       stop_price, target_price, broker_ticket, status, origin, opened_at
		FROM trades
		WHERE status = 'open' AND opened_at > $1
		ORDER BY opened_at ASC
	`

	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var status string
		var origin []byte
		err := rows.Scan(
			&t.ID, &t.SignalID, &t.AgentID, &t.Instrument, &t.Side,
			&t.EntryPrice, &t.Quantity, &t.StopPrice, &t.TargetPrice,
			&t.BrokerTicket, &status, &origin, &t.OpenedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Status = TradeStatus(status)
		if len(origin) > 0 {
			var meta map[string]any
			if json.Unmarshal(origin, &meta) == nil {
				t.Origin = meta
			}
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return trades, nil
}

// OpenTradeCount returns the number of open trades for an agent
func (s *TradeStore) OpenTradeCount(ctx context.Context, agentID string) (int, error) {
	query := `SELECT COUNT(*) FROM trades WHERE agent_id = $1 AND status = 'open'`

	var n int
	if err := s.pool.QueryRow(ctx, query, agentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count open trades: %w", err)
	}
	return n, nil
}

// RecentPerformance aggregates an agent's closed trades over the window
func (s *TradeStore) RecentPerformance(ctx context.Context, agentID string, window time.Duration) (Performance, error) {
	cutoff := time.Now().Add(-window)

	query := `
		SELECT COUNT(*) FILTER (WHERE realized_pnl > 0),
		       COUNT(*),
		       COALESCE(SUM(realized_pnl), 0)
		FROM trades
		WHERE agent_id = $1 AND status = 'closed' AND closed_at > $2
	`

	var wins, total int
	var pnl float64
	if err := s.pool.QueryRow(ctx, query, agentID, cutoff).Scan(&wins, &total, &pnl); err != nil {
		return Performance{}, fmt.Errorf("failed to aggregate performance: %w", err)
	}

	perf := Performance{TotalTrades: total, RecentPnL: pnl}
	if total > 0 {
		perf.WinRate = float64(wins) / float64(total)
	}

	losses, drawdown, err := s.lossStreak(ctx, agentID, cutoff)
	if err != nil {
		return Performance{}, err
	}
	perf.ConsecutiveLosses = losses
	perf.Drawdown = drawdown
	return perf, nil
}

// lossStreak walks recent closed trades newest-first counting the losing run
// and the running drawdown from the equity peak.
func (s *TradeStore) lossStreak(ctx context.Context, agentID string, cutoff time.Time) (int, float64, error) {
	query := `
		SELECT realized_pnl
		FROM trades
		WHERE agent_id = $1 AND status = 'closed' AND closed_at > $2
		ORDER BY closed_at DESC
	`

	rows, err := s.pool.Query(ctx, query, agentID, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query loss streak: %w", err)
	}
	defer rows.Close()

	var pnls []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, 0, fmt.Errorf("failed to scan pnl: %w", err)
		}
		pnls = append(pnls, pnl)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("failed to iterate pnls: %w", err)
	}

	streak := 0
	for _, pnl := range pnls {
		if pnl >= 0 {
			break
		}
		streak++
	}

	// Equity walks oldest-first for the drawdown read
	equity, peak, maxDD := 0.0, 0.0, 0.0
	for i := len(pnls) - 1; i >= 0; i-- {
		equity += pnls[i]
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}
	return streak, maxDD, nil
}

// IsNotFound reports whether an error is the pgx no-rows sentinel
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
