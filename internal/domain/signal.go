package domain

// StrategySignal is the outcome of one strategy evaluation. Ephemeral:
// produced once per tick and consumed immediately by risk and execution.
// ReasonCodes explain every gate decision so evaluations stay auditable
// after the fact.
type StrategySignal struct {
	Symbol      string
	State       MarketState
	Confidence  float64
	Side        Side // SideNone when no trade is indicated
	ReasonCodes []string
	Features    FeatureSnapshot
}
