package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SignalRow is one persisted strategy signal.
type SignalRow struct {
	ID         uint      `gorm:"primaryKey"`
	Timestamp  time.Time `gorm:"index"`
	Symbol     string    `gorm:"index"`
	State      string
	Confidence float64
	Side       string
	Reasons    string // comma-joined reason codes
	Features   string // JSON snapshot
}

// TradeRow is one persisted order lifecycle outcome. PnL is populated on
// close.
type TradeRow struct {
	ID             uint      `gorm:"primaryKey"`
	Timestamp      time.Time `gorm:"index"`
	CorrelationID  string    `gorm:"index"`
	IdempotencyKey string
	Symbol         string `gorm:"index"`
	Side           string
	Qty            float64
	Price          float64
	Status         string `gorm:"index"`
	Reason         string
	PnL            float64 `gorm:"column:pnl"`
	Closed         bool    `gorm:"index"`
	ClosedAt       *time.Time
}

// LifelogRow is one human-readable journal entry.
type LifelogRow struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Severity  string
	Category  string
	Symbol    string
	Message   string
}

// HealthMetricRow is one periodic engine health snapshot.
type HealthMetricRow struct {
	ID             uint      `gorm:"primaryKey"`
	Timestamp      time.Time `gorm:"index"`
	LatencyMs      float64
	StaleFlag      bool
	PositionsCount int
	DailyLossPct   float64
}

// ClosedTradeMetrics summarizes realized performance over a window.
type ClosedTradeMetrics struct {
	Winrate     float64
	Profit      float64
	Drawdown    float64
	ClosedCount int
}

// Storage is the persistence collaborator. Callers only see the narrow
// insert/query surface, never the schema.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens or creates the SQLite database at path and migrates
// the schema.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&SignalRow{}, &TradeRow{}, &LifelogRow{}, &HealthMetricRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// InsertSignal appends one signal row.
func (s *Storage) InsertSignal(row *SignalRow) error {
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	return s.db.Create(row).Error
}

// InsertTrade appends one trade row.
func (s *Storage) InsertTrade(row *TradeRow) error {
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	return s.db.Create(row).Error
}

// InsertLifelog appends one journal entry.
func (s *Storage) InsertLifelog(row *LifelogRow) error {
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	return s.db.Create(row).Error
}

// InsertHealthMetric appends one health snapshot.
func (s *Storage) InsertHealthMetric(row *HealthMetricRow) error {
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	return s.db.Create(row).Error
}

// CloseTrade marks a trade closed with its realized pnl.
func (s *Storage) CloseTrade(correlationID string, pnl float64) error {
	now := time.Now().UTC()
	return s.db.Model(&TradeRow{}).
		Where("correlation_id = ?", correlationID).
		Updates(map[string]any{"pnl": pnl, "closed": true, "closed_at": now}).Error
}

// RecentTrades returns up to limit most recent trade rows, newest first.
func (s *Storage) RecentTrades(limit int) ([]TradeRow, error) {
	var rows []TradeRow
	err := s.db.Order("timestamp DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// RecentLifelog returns up to limit most recent journal entries, newest
// first.
func (s *Storage) RecentLifelog(limit int) ([]LifelogRow, error) {
	var rows []LifelogRow
	err := s.db.Order("timestamp DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ClosedTradeMetrics24h aggregates trades closed within the last 24
// hours: winrate, total profit, max peak-to-trough drawdown of the
// cumulative pnl curve and the closed count.
func (s *Storage) ClosedTradeMetrics24h() (ClosedTradeMetrics, error) {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	var rows []TradeRow
	err := s.db.
		Where("closed = ? AND closed_at >= ?", true, cutoff).
		Order("closed_at ASC").
		Find(&rows).Error
	if err != nil {
		return ClosedTradeMetrics{}, err
	}

	var out ClosedTradeMetrics
	out.ClosedCount = len(rows)
	if len(rows) == 0 {
		return out, nil
	}

	wins := 0
	var cumulative, peak, maxDrawdown float64
	for _, row := range rows {
		if row.PnL > 0 {
			wins++
		}
		out.Profit += row.PnL
		cumulative += row.PnL
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	out.Winrate = float64(wins) / float64(len(rows))
	out.Drawdown = maxDrawdown
	return out, nil
}
