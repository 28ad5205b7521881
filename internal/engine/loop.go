package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
	"github.com/danmodyrko/trading-bot-test/internal/event"
	"github.com/danmodyrko/trading-bot-test/internal/execution"
	"github.com/danmodyrko/trading-bot-test/internal/feature"
	"github.com/danmodyrko/trading-bot-test/internal/infra"
	"github.com/danmodyrko/trading-bot-test/internal/infra/storage"
	"github.com/danmodyrko/trading-bot-test/internal/risk"
	"github.com/danmodyrko/trading-bot-test/internal/strategy"
)

// Recorder is the narrow persistence surface the loop writes through.
type Recorder interface {
	InsertSignal(row *storage.SignalRow) error
	InsertTrade(row *storage.TradeRow) error
	InsertLifelog(row *storage.LifelogRow) error
	InsertHealthMetric(row *storage.HealthMetricRow) error
}

// Gate answers a yes/no question about the latest features, e.g. market
// structure confirmation or a higher-timeframe regime filter.
type Gate func(f domain.FeatureSnapshot) bool

// Config tunes the trading loop driver.
type Config struct {
	Equity            float64
	StopDistancePct   float64
	ExpectedOrderSize float64
	SizeMultiplier    float64 // global scale on top of the per-spike multiplier
	ExpectedEdgeBps   float64 // floor for the impulse-derived edge estimate
	TradeRateBurst    float64
	VolThreshold      float64
	VolCooldown       time.Duration
	HealthInterval    time.Duration
	TickBuffer        int
}

// Deps collects the loop's collaborators. StructureGate and RegimeGate
// may be nil, which means always-pass. StaleFn may be nil.
type Deps struct {
	Features      *feature.Engine
	Strategy      *strategy.Reversal
	Risk          *risk.Manager
	Exec          *execution.Engine
	Slippage      execution.SlippageModel
	Bus           *event.Bus
	Store         Recorder
	Filters       map[string]domain.SymbolFilters
	StructureGate Gate
	RegimeGate    Gate
	StaleFn       func() bool
}

// Loop is the tick driver: it owns the per-tick pipeline from features
// through execution, one tick at a time. Single-writer discipline for
// risk and execution holds because only Run's goroutine calls process.
type Loop struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	ticks    chan domain.TradeTick
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLoop wires the trading loop.
func NewLoop(cfg Config, deps Deps) *Loop {
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = 4096
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.TradeRateBurst <= 0 {
		cfg.TradeRateBurst = 8.0
	}
	if cfg.SizeMultiplier <= 0 {
		cfg.SizeMultiplier = 1.0
	}
	if cfg.ExpectedEdgeBps <= 0 {
		cfg.ExpectedEdgeBps = 1.0
	}
	if deps.StructureGate == nil {
		deps.StructureGate = func(domain.FeatureSnapshot) bool { return true }
	}
	if deps.RegimeGate == nil {
		deps.RegimeGate = func(domain.FeatureSnapshot) bool { return true }
	}
	if deps.StaleFn == nil {
		deps.StaleFn = func() bool { return false }
	}
	return &Loop{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("module", "engine"),
		ticks:  make(chan domain.TradeTick, cfg.TickBuffer),
		stop:   make(chan struct{}),
	}
}

// SetFilters installs per-symbol exchange filters. Call before Run;
// the loop reads the map without locking.
func (l *Loop) SetFilters(filters map[string]domain.SymbolFilters) {
	l.deps.Filters = filters
}

// SetEquity sets the account equity used for position sizing. Call
// before Run.
func (l *Loop) SetEquity(equity float64) {
	l.cfg.Equity = equity
}

// HandleTick enqueues one tick for processing. It never blocks the
// caller; under backpressure the newest tick is dropped and counted.
func (l *Loop) HandleTick(tick domain.TradeTick) {
	select {
	case l.ticks <- tick:
	default:
		infra.GlobalMetrics.RecordError()
		l.logger.Warn("tick queue full, dropping tick", "symbol", tick.Symbol)
	}
}

// Run drives the loop until ctx is cancelled. Ticks for the same symbol
// are processed strictly in arrival order.
func (l *Loop) Run(ctx context.Context) {
	l.lifelog(domain.SeverityInfo, domain.CategorySystem, "", "engine started")

	health := time.NewTicker(l.cfg.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			l.lifelog(domain.SeverityInfo, domain.CategorySystem, "", "engine stopped")
			return
		case <-l.stop:
			l.lifelog(domain.SeverityInfo, domain.CategorySystem, "", "engine stopped")
			return
		case tick := <-l.ticks:
			l.process(ctx, tick)
		case <-health.C:
			l.recordHealth()
		}
	}
}

// KillSwitch engages the hard stop: trading denies everything and the
// loop shuts down.
func (l *Loop) KillSwitch() {
	l.deps.Risk.EngageKillSwitch()
	infra.GlobalMetrics.SetKillSwitch(true)
	l.lifelog(domain.SeverityError, domain.CategoryIncident, "", "KILL SWITCH engaged")
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Loop) process(ctx context.Context, tick domain.TradeTick) {
	infra.GlobalMetrics.RecordTick()
	signalAt := time.Now().UTC()

	snap := l.deps.Features.OnTrade(tick, l.cfg.ExpectedOrderSize)
	volBlocked := l.deps.Risk.UpdateVolatility(snap.Vol10s, l.cfg.VolThreshold, l.cfg.VolCooldown)

	sig := l.deps.Strategy.Evaluate(tick.Symbol, snap,
		l.deps.StructureGate(snap), l.deps.RegimeGate(snap))
	l.persistSignal(signalAt, sig)

	if sig.Side == domain.SideNone {
		if volBlocked && l.deps.Bus != nil {
			l.deps.Bus.Publish(domain.LiveEvent{
				Severity: domain.SeverityWarning,
				Category: domain.CategoryRisk,
				Action:   "RISK_BLOCK",
				Message:  "entry blocked",
				Symbol:   tick.Symbol,
				Details:  map[string]any{"reason": "volatility"},
			})
		}
		return
	}

	infra.GlobalMetrics.RecordSignal()
	if l.deps.Bus != nil {
		l.deps.Bus.Publish(domain.LiveEvent{
			Category: domain.CategorySignal,
			Action:   "SIGNAL",
			Message:  "reversal signal",
			Symbol:   tick.Symbol,
			Details: map[string]any{
				"state":      sig.State.String(),
				"side":       string(sig.Side),
				"confidence": sig.Confidence,
			},
		})
	}

	label, multiplier := strategy.ClassifySpike(
		snap.WickProxy,
		snap.TradeRate/l.cfg.TradeRateBurst,
		snap.Imbalance,
		snap.SpreadNorm,
		math.Abs(snap.Accel),
	)

	notional := l.deps.Risk.PositionSize(l.cfg.Equity, sig.Confidence, l.cfg.StopDistancePct,
		multiplier*l.cfg.SizeMultiplier)
	qty := notional / math.Max(tick.Price, 1e-9)
	expected := l.deps.Slippage.ExpectedSlippageBps(qty, snap.SpreadBps, snap.Vol10s, 0, snap.Impact)
	edge := math.Max(snap.ImpulseScore*100, l.cfg.ExpectedEdgeBps)

	rec, err := l.deps.Exec.PlaceOrder(ctx, execution.PlaceRequest{
		Symbol:          tick.Symbol,
		Side:            sig.Side,
		Qty:             qty,
		Price:           tick.Price,
		Filters:         l.deps.Filters[tick.Symbol],
		SpreadBps:       snap.SpreadBps,
		ExpectedBps:     expected,
		ExpectedEdgeBps: edge,
		Stale:           l.deps.StaleFn(),
		SignalAt:        signalAt,
	})
	if err != nil {
		infra.GlobalMetrics.RecordError()
		l.logger.Error("order placement failed", "symbol", tick.Symbol, "error", err)
	}
	if rec == nil {
		return
	}

	infra.GlobalMetrics.RecordOrder(rec.Status, time.Since(signalAt).Nanoseconds())
	l.persistTrade(rec, label)
}

func (l *Loop) persistSignal(at time.Time, sig domain.StrategySignal) {
	if l.deps.Store == nil {
		return
	}
	features, _ := json.Marshal(sig.Features)
	row := &storage.SignalRow{
		Timestamp:  at,
		Symbol:     sig.Symbol,
		State:      sig.State.String(),
		Confidence: sig.Confidence,
		Side:       string(sig.Side),
		Reasons:    strings.Join(sig.ReasonCodes, ","),
		Features:   string(features),
	}
	if err := l.deps.Store.InsertSignal(row); err != nil {
		l.logger.Error("failed to persist signal", "symbol", sig.Symbol, "error", err)
	}
}

func (l *Loop) persistTrade(rec *domain.TradeRecord, spikeLabel string) {
	if l.deps.Store == nil {
		return
	}
	row := &storage.TradeRow{
		Timestamp:      rec.Timestamps.DecisionAt,
		CorrelationID:  rec.CorrelationID,
		IdempotencyKey: rec.IdempotencyKey,
		Symbol:         rec.Symbol,
		Side:           string(rec.Side),
		Qty:            rec.Qty,
		Price:          rec.Price,
		Status:         rec.Status,
		Reason:         rec.Reason,
	}
	if err := l.deps.Store.InsertTrade(row); err != nil {
		l.logger.Error("failed to persist trade", "symbol", rec.Symbol, "error", err)
	}

	severity := domain.SeverityInfo
	if rec.Status != domain.TradeFilled {
		severity = domain.SeverityWarning
	}
	l.lifelog(severity, domain.CategoryOrder, rec.Symbol,
		"order "+strings.ToLower(rec.Status)+" ("+spikeLabel+"): "+rec.Reason)
}

func (l *Loop) lifelog(severity, category, symbol, message string) {
	if l.deps.Store != nil {
		if err := l.deps.Store.InsertLifelog(&storage.LifelogRow{
			Severity: severity,
			Category: category,
			Symbol:   symbol,
			Message:  message,
		}); err != nil {
			l.logger.Error("failed to persist lifelog", "error", err)
		}
	}
	l.logger.Info(message, "severity", severity, "category", category, "symbol", symbol)
}

func (l *Loop) recordHealth() {
	if l.deps.Store == nil {
		return
	}
	snap := l.deps.Risk.Snapshot()
	metrics := infra.GlobalMetrics.Snapshot()
	row := &storage.HealthMetricRow{
		LatencyMs: float64(metrics.AvgLatencyNs) / 1e6,
		StaleFlag: l.deps.StaleFn(),
	}
	if n, ok := snap["open_positions"].(int); ok {
		row.PositionsCount = n
	}
	if pct, ok := snap["loss_today_pct"].(float64); ok {
		row.DailyLossPct = pct
	}
	if err := l.deps.Store.InsertHealthMetric(row); err != nil {
		l.logger.Error("failed to persist health metric", "error", err)
	}
}
