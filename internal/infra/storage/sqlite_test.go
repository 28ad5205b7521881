package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return s
}

func TestInsertAndQueryTrades(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.InsertTrade(&TradeRow{
		CorrelationID: "c1",
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		Qty:           0.01,
		Price:         50_000,
		Status:        "FILLED",
	}))
	require.NoError(t, s.InsertTrade(&TradeRow{
		CorrelationID: "c2",
		Symbol:        "ETHUSDT",
		Side:          "SELL",
		Status:        "BLOCKED",
		Reason:        "spread_block",
	}))

	rows, err := s.RecentTrades(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ETHUSDT", rows[0].Symbol, "newest first")
}

func TestClosedTradeMetrics24h(t *testing.T) {
	s := newTestStorage(t)

	for i, pnl := range []float64{10, -4, 6, -8} {
		row := &TradeRow{
			CorrelationID: string(rune('a' + i)),
			Symbol:        "BTCUSDT",
			Status:        "FILLED",
		}
		require.NoError(t, s.InsertTrade(row))
		require.NoError(t, s.CloseTrade(row.CorrelationID, pnl))
	}

	metrics, err := s.ClosedTradeMetrics24h()
	require.NoError(t, err)

	assert.Equal(t, 4, metrics.ClosedCount)
	assert.InDelta(t, 0.5, metrics.Winrate, 1e-9)
	assert.InDelta(t, 4.0, metrics.Profit, 1e-9)
	// Cumulative curve 10, 6, 12, 4: worst peak-to-trough is 12 -> 4.
	assert.InDelta(t, 8.0, metrics.Drawdown, 1e-9)
}

func TestClosedTradeMetricsIgnoresOldAndOpen(t *testing.T) {
	s := newTestStorage(t)

	// Open trade stays out of the window.
	require.NoError(t, s.InsertTrade(&TradeRow{CorrelationID: "open", Status: "FILLED"}))

	// Closed long ago stays out too.
	old := &TradeRow{CorrelationID: "old", Status: "FILLED"}
	require.NoError(t, s.InsertTrade(old))
	longAgo := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.db.Model(&TradeRow{}).
		Where("correlation_id = ?", "old").
		Updates(map[string]any{"pnl": 100.0, "closed": true, "closed_at": longAgo}).Error)

	metrics, err := s.ClosedTradeMetrics24h()
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.ClosedCount)
	assert.Zero(t, metrics.Profit)
	assert.Zero(t, metrics.Winrate)
}

func TestLifelogAndHealthMetrics(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.InsertLifelog(&LifelogRow{
		Severity: "INFO", Category: "SYSTEM", Message: "engine started",
	}))
	require.NoError(t, s.InsertHealthMetric(&HealthMetricRow{
		LatencyMs: 42.5, PositionsCount: 1, DailyLossPct: 0.3,
	}))

	logs, err := s.RecentLifelog(5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "engine started", logs[0].Message)
	assert.False(t, logs[0].Timestamp.IsZero())
}

func TestInsertSignalStoresReasonCodes(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.InsertSignal(&SignalRow{
		Symbol:     "BTCUSDT",
		State:      "EXHAUSTION",
		Confidence: 0.82,
		Side:       "SELL",
		Reasons:    "exhaustion,structure_confirmed",
		Features:   `{"price_change_pct":1.2}`,
	}))

	var rows []SignalRow
	require.NoError(t, s.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "exhaustion,structure_confirmed", rows[0].Reasons)
}
