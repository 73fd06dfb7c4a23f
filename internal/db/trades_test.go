package db

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertTrade(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO trades").
		WithArgs("t1", "sig1", "agent1", "BTCUSDT", "BUY", 100.0, 0.5,
			99.0, 102.0, "tkt-1", "open", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewTradeStore(mock)
	err = store.InsertTrade(context.Background(), Trade{
		ID: "t1", SignalID: "sig1", AgentID: "agent1", Instrument: "BTCUSDT",
		Side: "BUY", EntryPrice: 100, Quantity: 0.5, StopPrice: 99,
		TargetPrice: 102, BrokerTicket: "tkt-1", Status: TradeOpen,
		OpenedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseTradeNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE trades").
		WithArgs("missing", 5.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewTradeStore(mock)
	err = store.CloseTrade(context.Background(), "missing", 5.0, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestTradeExists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("sig1", "agent1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewTradeStore(mock)
	exists, err := store.TradeExists(context.Background(), "sig1", "agent1")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenTradesSince(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	opened := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "signal_id", "agent_id", "instrument", "side", "entry_price",
		"quantity", "stop_price", "target_price", "broker_ticket", "status",
		"origin", "opened_at",
	}).AddRow(
		"t1", "sig1", "agent1", "BTCUSDT", "BUY", 100.0,
		0.5, 99.0, 102.0, "tkt-1", "open",
		[]byte(`{"grade":"A"}`), opened,
	)

	mock.ExpectQuery("SELECT (.+) FROM trades").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(rows)

	store := NewTradeStore(mock)
	trades, err := store.OpenTradesSince(context.Background(), opened.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t1", trades[0].ID)
	assert.Equal(t, TradeOpen, trades[0].Status)
	assert.Equal(t, map[string]any{"grade": "A"}, trades[0].Origin)
}

func TestRecentPerformance(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("agent1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"wins", "total", "pnl"}).AddRow(6, 10, 42.5))

	// Newest-first: two losses then a win
	pnlRows := pgxmock.NewRows([]string{"realized_pnl"}).
		AddRow(-5.0).
		AddRow(-3.0).
		AddRow(12.0).
		AddRow(38.5)
	mock.ExpectQuery("SELECT realized_pnl").
		WithArgs("agent1", pgxmock.AnyArg()).
		WillReturnRows(pnlRows)

	store := NewTradeStore(mock)
	perf, err := store.RecentPerformance(context.Background(), "agent1", 7*24*time.Hour)
	require.NoError(t, err)

	assert.InDelta(t, 0.6, perf.WinRate, 1e-9)
	assert.Equal(t, 10, perf.TotalTrades)
	assert.InDelta(t, 42.5, perf.RecentPnL, 1e-9)
	assert.Equal(t, 2, perf.ConsecutiveLosses)
	// Equity oldest-first: 38.5, 50.5, 47.5, 42.5; peak 50.5, trough 42.5
	assert.InDelta(t, 8.0, perf.Drawdown, 1e-9)
}
