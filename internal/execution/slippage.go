package execution

// Slippage reasons, in the order Validate checks them.
const (
	ReasonOK              = "ok"
	ReasonSpreadGuard     = "spread_guard"
	ReasonSlippageGuard   = "slippage_guard"
	ReasonCostExceedsEdge = "cost_exceeds_edge"
)

// SlippageModel estimates the cost of taking liquidity and guards orders
// whose expected cost eats the expected edge.
type SlippageModel struct {
	MaxSlippageBps   float64
	SpreadGuardBps   float64
	EdgeSafetyFactor float64
}

// ExpectedSlippageBps estimates execution cost in basis points. With known
// depth the depth term is orderSize/depth; otherwise the per-tick impact
// estimate substitutes for it.
func (m SlippageModel) ExpectedSlippageBps(orderSize, spreadBps, volatility, depth, impact float64) float64 {
	cost := spreadBps * 0.5
	if depth > 0 {
		cost += (orderSize / depth) * 10_000
	} else {
		cost += impact * orderSize * 10_000
	}
	cost += volatility * 10_000 * 0.15
	return cost
}

// Validate gates an order on its expected cost. Checks run in a fixed
// order so a rejection reason is reproducible: spread guard, absolute
// slippage cap, then cost versus edge. The trade's expected profit must
// exceed its expected cost by the safety margin.
func (m SlippageModel) Validate(expectedBps, spreadBps, expectedEdgeBps float64) (bool, string) {
	if spreadBps > m.SpreadGuardBps {
		return false, ReasonSpreadGuard
	}
	if expectedBps > m.MaxSlippageBps {
		return false, ReasonSlippageGuard
	}
	if expectedBps > expectedEdgeBps*m.EdgeSafetyFactor {
		return false, ReasonCostExceedsEdge
	}
	return true, ReasonOK
}
