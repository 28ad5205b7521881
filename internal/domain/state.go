package domain

// MarketState is one of the five microstructure regimes tracked by the
// probabilistic state machine. Declaration order matters: argmax ties on
// the confidence vector resolve to the earlier state.
type MarketState int

const (
	StateBuildup MarketState = iota
	StateImpulse
	StateClimax
	StateExhaustion
	StateRebalance

	NumMarketStates = 5
)

// String returns the canonical wire name of the state.
func (s MarketState) String() string {
	switch s {
	case StateBuildup:
		return "BUILDUP"
	case StateImpulse:
		return "IMPULSE"
	case StateClimax:
		return "CLIMAX"
	case StateExhaustion:
		return "EXHAUSTION"
	case StateRebalance:
		return "REBALANCE"
	default:
		return "UNKNOWN"
	}
}

// ConfidenceVector maps each MarketState (by declaration index) to a
// confidence in [0,1]. A normalized vector sums to 1.
type ConfidenceVector [NumMarketStates]float64

// ArgMax returns the state with the highest confidence. Ties break toward
// the earlier declared state, deterministically.
func (v ConfidenceVector) ArgMax() MarketState {
	best := StateBuildup
	for i := 1; i < NumMarketStates; i++ {
		if v[i] > v[best] {
			best = MarketState(i)
		}
	}
	return best
}
