package strategy

import (
	"math"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
	"github.com/danmodyrko/trading-bot-test/internal/regime"
)

// impulseFadeCeiling: an exhaustion reversal is only taken once impulse
// confidence has decayed below this level.
const impulseFadeCeiling = 0.35

// Config holds the reversal entry thresholds.
type Config struct {
	ExhaustionConfidence float64 // minimum EXHAUSTION confidence to act
	EMAAlpha             float64 // state machine smoothing, 0 = default
}

// Reversal trades against faded impulses: when a sharp move exhausts and
// market structure confirms, it fades the move. One regime machine per
// symbol, created lazily; all gate outcomes land in ReasonCodes so every
// evaluation is explainable post-hoc.
type Reversal struct {
	cfg      Config
	machines map[string]*regime.Machine
}

// NewReversal creates the strategy.
func NewReversal(cfg Config) *Reversal {
	return &Reversal{cfg: cfg, machines: make(map[string]*regime.Machine)}
}

// Machine exposes the per-symbol state machine, creating it on first use.
func (r *Reversal) Machine(symbol string) *regime.Machine {
	m, ok := r.machines[symbol]
	if !ok {
		m = regime.NewMachine(r.cfg.EMAAlpha)
		r.machines[symbol] = m
	}
	return m
}

// Evaluate advances the symbol's state machine with the latest features and
// decides whether to emit a directional signal. A failed gate never drops
// the evaluation silently; it is recorded as a reason code.
func (r *Reversal) Evaluate(symbol string, f domain.FeatureSnapshot, structureConfirmed, regimeOK bool) domain.StrategySignal {
	m := r.Machine(symbol)
	m.Update(f.ImpulseScore, f.ImpulseDetected, f.ExhaustionDetected, f.ExhaustionRatio, f.WickProxy, structureConfirmed)

	state := m.Current()
	exhaustionConf := m.Confidence(domain.StateExhaustion)
	impulseConf := m.Confidence(domain.StateImpulse)

	sig := domain.StrategySignal{
		Symbol:     symbol,
		State:      state,
		Confidence: math.Max(0, math.Min(1, exhaustionConf)),
		Side:       domain.SideNone,
		Features:   f,
	}

	pass := true
	if exhaustionConf <= r.cfg.ExhaustionConfidence {
		sig.ReasonCodes = append(sig.ReasonCodes, "exhaustion_confidence_low")
		pass = false
	}
	if impulseConf >= impulseFadeCeiling {
		sig.ReasonCodes = append(sig.ReasonCodes, "impulse_still_active")
		pass = false
	}
	if !structureConfirmed {
		sig.ReasonCodes = append(sig.ReasonCodes, "structure_unconfirmed")
		pass = false
	}
	if !regimeOK {
		sig.ReasonCodes = append(sig.ReasonCodes, "regime_filter_blocked")
		pass = false
	}
	if !pass {
		return sig
	}

	// Fade the move: sell what rose, buy what fell.
	if f.PriceChangePct > 0 {
		sig.Side = domain.SideSell
	} else {
		sig.Side = domain.SideBuy
	}
	sig.ReasonCodes = append(sig.ReasonCodes, "exhaustion", "structure_confirmed")
	return sig
}
