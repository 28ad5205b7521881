package risk

import (
	"math"
	"sync"
	"time"
)

// Limits are the immutable risk thresholds supplied at construction.
type Limits struct {
	MaxDailyLossPct      float64
	MaxPositions         int
	MaxTradeRiskPct      float64
	MaxNotionalPerTrade  float64
	Cooldown             time.Duration
	MaxPositionsPerSym   int
	MaxExposurePerSymbol float64
	MaxAccountExposure   float64
	MaxConsecutiveLosses int
	LossCooldown         time.Duration
	IncludeUnrealizedPnL bool
}

// Reasons returned by CanTrade, in evaluation order. The first failing
// check wins so a denial is always reproducible.
const (
	ReasonOK                 = "ok"
	ReasonKillSwitch         = "kill_switch"
	ReasonStaleness          = "staleness_block"
	ReasonSpread             = "spread_block"
	ReasonSlippage           = "slippage_block"
	ReasonVolatility         = "volatility_block"
	ReasonDailyLoss          = "daily_loss_circuit_breaker"
	ReasonConsecutiveLosses  = "consecutive_losses_circuit_breaker"
	ReasonMaxPositions       = "max_positions"
	ReasonMaxPositionsSymbol = "max_positions_per_symbol"
	ReasonMaxSymbolExposure  = "max_symbol_exposure"
	ReasonMaxAccountExposure = "max_account_exposure"
	ReasonSymbolCooldown     = "symbol_cooldown"
)

const recentReasonLimit = 100

// Manager is the admission controller for new trades. It is owned by the
// trading loop; the mutex covers reads from observers, the loop remains
// the single writer.
type Manager struct {
	limits Limits
	now    func() time.Time

	mu                sync.Mutex
	lossTodayPct      float64
	openPositions     int
	killSwitch        bool
	volBlockedUntil   time.Time
	consecutiveLosses int
	positionsBySymbol map[string]int
	exposureBySymbol  map[string]float64
	cooldownUntil     map[string]time.Time
	recentReasons     []string
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits) *Manager {
	if limits.MaxPositionsPerSym <= 0 {
		limits.MaxPositionsPerSym = 1
	}
	return &Manager{
		limits:            limits,
		now:               time.Now,
		positionsBySymbol: make(map[string]int),
		exposureBySymbol:  make(map[string]float64),
		cooldownUntil:     make(map[string]time.Time),
	}
}

// CanTrade runs the ordered admission chain for a prospective open of the
// given notional. It returns (false, reason) on the first failing check.
func (m *Manager) CanTrade(symbol string, notional float64, stale, spreadBlocked, slippageBlocked bool) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.killSwitch {
		return m.deny(ReasonKillSwitch)
	}
	if stale {
		return m.deny(ReasonStaleness)
	}
	if spreadBlocked {
		return m.deny(ReasonSpread)
	}
	if slippageBlocked {
		return m.deny(ReasonSlippage)
	}
	if !m.volBlockedUntil.IsZero() && now.Before(m.volBlockedUntil) {
		return m.deny(ReasonVolatility)
	}
	if m.lossTodayPct >= m.limits.MaxDailyLossPct {
		return m.deny(ReasonDailyLoss)
	}
	if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
		return m.deny(ReasonConsecutiveLosses)
	}
	if m.openPositions >= m.limits.MaxPositions {
		return m.deny(ReasonMaxPositions)
	}
	if m.positionsBySymbol[symbol] >= m.limits.MaxPositionsPerSym {
		return m.deny(ReasonMaxPositionsSymbol)
	}
	if m.exposureBySymbol[symbol]+notional > m.limits.MaxExposurePerSymbol {
		return m.deny(ReasonMaxSymbolExposure)
	}
	total := notional
	for _, e := range m.exposureBySymbol {
		total += e
	}
	if total > m.limits.MaxAccountExposure {
		return m.deny(ReasonMaxAccountExposure)
	}
	if until, ok := m.cooldownUntil[symbol]; ok && now.Before(until) {
		return m.deny(ReasonSymbolCooldown)
	}
	return true, ReasonOK
}

// ApplyTradeOpen records a successful open: counters, exposure and the
// post-entry cooldown.
func (m *Manager) ApplyTradeOpen(symbol string, notional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions++
	m.positionsBySymbol[symbol]++
	m.exposureBySymbol[symbol] += math.Max(notional, 0)
	m.cooldownUntil[symbol] = m.now().Add(m.limits.Cooldown)
}

// ApplyTradeClose releases a position. A losing close bumps the
// consecutive-loss counter and extends the symbol cooldown.
func (m *Manager) ApplyTradeClose(symbol string, pnlPct, releasedNotional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openPositions > 0 {
		m.openPositions--
	}
	if m.positionsBySymbol[symbol] > 0 {
		m.positionsBySymbol[symbol]--
	}
	m.exposureBySymbol[symbol] = math.Max(0, m.exposureBySymbol[symbol]-math.Max(releasedNotional, 0))
	if pnlPct < 0 {
		m.consecutiveLosses++
		m.cooldownUntil[symbol] = m.now().Add(m.limits.LossCooldown)
	} else {
		m.consecutiveLosses = 0
	}
}

// UpdatePnL refreshes today's loss percentage. Gains floor at zero; the
// daily breaker only ever watches losses.
func (m *Manager) UpdatePnL(realizedPct, unrealizedPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loss := realizedPct
	if m.limits.IncludeUnrealizedPnL {
		loss += unrealizedPct
	}
	m.lossTodayPct = math.Max(loss, 0)
}

// UpdateVolatility sets a time-boxed block when instantaneous volatility
// exceeds the threshold. Returns true when a block was newly set.
func (m *Manager) UpdateVolatility(vol, threshold float64, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vol > threshold {
		m.volBlockedUntil = m.now().Add(cooldown)
		return true
	}
	return false
}

// EngageKillSwitch flips CanTrade to always-deny until released.
func (m *Manager) EngageKillSwitch() {
	m.mu.Lock()
	m.killSwitch = true
	m.mu.Unlock()
}

// ReleaseKillSwitch re-arms trading.
func (m *Manager) ReleaseKillSwitch() {
	m.mu.Lock()
	m.killSwitch = false
	m.mu.Unlock()
}

// KillSwitchEngaged reports the current kill switch state.
func (m *Manager) KillSwitchEngaged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch
}

// PositionSize computes a risk-budget notional:
// equity * (maxTradeRiskPct/100) * clamp(confidence, 0.1, 1.0) divided by
// the stop distance, scaled by the classifier multiplier clamped to
// [0.2, 1.5], capped at MaxNotionalPerTrade.
func (m *Manager) PositionSize(equity, confidence, stopDistancePct, sizeMultiplier float64) float64 {
	c := math.Max(math.Min(confidence, 1.0), 0.1)
	budget := equity * (m.limits.MaxTradeRiskPct / 100) * c
	size := budget / math.Max(stopDistancePct/100, 1e-6)
	mult := math.Max(0.2, math.Min(sizeMultiplier, 1.5))
	return math.Min(size*mult, m.limits.MaxNotionalPerTrade)
}

// Snapshot returns an observability view of the mutable risk state.
func (m *Manager) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	positions := make(map[string]int, len(m.positionsBySymbol))
	for k, v := range m.positionsBySymbol {
		positions[k] = v
	}
	exposure := make(map[string]float64, len(m.exposureBySymbol))
	for k, v := range m.exposureBySymbol {
		exposure[k] = v
	}
	cooldowns := make(map[string]string, len(m.cooldownUntil))
	for k, v := range m.cooldownUntil {
		cooldowns[k] = v.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"loss_today_pct":           m.lossTodayPct,
		"open_positions":           m.openPositions,
		"open_positions_by_symbol": positions,
		"exposure_by_symbol":       exposure,
		"cooldown_until":           cooldowns,
		"consecutive_losses":       m.consecutiveLosses,
		"kill_switch":              m.killSwitch,
	}
}

func (m *Manager) deny(reason string) (bool, string) {
	if len(m.recentReasons) == recentReasonLimit {
		copy(m.recentReasons, m.recentReasons[1:])
		m.recentReasons = m.recentReasons[:recentReasonLimit-1]
	}
	m.recentReasons = append(m.recentReasons, reason)
	return false, reason
}
