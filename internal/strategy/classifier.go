package strategy

// Spike labels, roughly ordered by how aggressively they should be traded.
const (
	SpikeNewsLike        = "news-like"
	SpikeSpoofLike       = "spoof-like"
	SpikeLiquidationLike = "liquidation-like"
	SpikeBreakoutLike    = "breakout-like"
)

// ClassifySpike labels the character of a volume/price spike from cheap
// orderflow heuristics and returns a sizing multiplier for it. The
// multiplier feeds position sizing; labels feed the journal. First match
// wins.
func ClassifySpike(wickRatio, tradeBurst, imbalance, refillSpeed, variance float64) (string, float64) {
	if tradeBurst > 2.5 && variance > 2.0 {
		return SpikeNewsLike, 0.5
	}
	if wickRatio > 3 && refillSpeed < 0.5 {
		return SpikeSpoofLike, 0.4
	}
	if imbalance > 0.7 && tradeBurst > 1.8 {
		return SpikeLiquidationLike, 0.8
	}
	return SpikeBreakoutLike, 0.65
}
