package regime

import (
	"math"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
)

// DefaultAlpha is the EMA smoothing factor applied on every update.
const DefaultAlpha = 0.25

// Machine maintains an EMA-smoothed confidence distribution over the five
// market states of one symbol. Smoothing is deliberate: hard transitions
// would flap on single-tick noise, the blended vector stays responsive
// without doing so.
type Machine struct {
	alpha float64
	conf  domain.ConfidenceVector
}

// NewMachine creates a machine starting fully confident in BUILDUP.
func NewMachine(alpha float64) *Machine {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	m := &Machine{alpha: alpha}
	m.conf[domain.StateBuildup] = 1.0
	return m
}

// Update scores each state from the inputs, normalizes to sum 1 and blends
// into the running vector: new = (1-alpha)*old + alpha*normalized.
// The returned vector is a copy.
func (m *Machine) Update(
	impulseScore float64,
	impulseDetected bool,
	exhaustionDetected bool,
	exhaustionRatio float64,
	wickProxy float64,
	structureConfirmed bool,
) domain.ConfidenceVector {
	var raw domain.ConfidenceVector
	raw[domain.StateBuildup] = math.Max(0.0, 1.0-impulseScore)
	impulse := impulseScore
	if impulseDetected {
		impulse += 0.2
	}
	raw[domain.StateImpulse] = math.Min(1.0, impulse)
	raw[domain.StateClimax] = math.Min(1.0, impulseScore*0.8+wickProxy*50)
	exhaustion := (1.0 - exhaustionRatio) * 0.8
	if exhaustionDetected {
		exhaustion += 0.2
	}
	raw[domain.StateExhaustion] = math.Min(1.0, exhaustion)
	if structureConfirmed {
		raw[domain.StateRebalance] = 0.6
	} else {
		raw[domain.StateRebalance] = 0.2
	}

	total := 0.0
	for _, v := range raw {
		total += v
	}
	if total == 0 {
		total = 1.0
	}
	for i := range raw {
		normalized := raw[i] / total
		m.conf[i] = (1-m.alpha)*m.conf[i] + m.alpha*normalized
	}
	return m.conf
}

// Current returns the argmax state. Ties break by declaration order.
func (m *Machine) Current() domain.MarketState {
	return m.conf.ArgMax()
}

// Confidence returns the current confidence of one state.
func (m *Machine) Confidence(s domain.MarketState) float64 {
	return m.conf[s]
}

// Confidences returns a copy of the full vector.
func (m *Machine) Confidences() domain.ConfidenceVector {
	return m.conf
}
