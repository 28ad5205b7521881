package domain

// TradeTick is a single exchange trade event. Immutable after creation;
// one instance per aggTrade frame.
type TradeTick struct {
	Symbol        string
	EventTimeMs   int64
	Price         float64
	Qty           float64
	TakerIsSeller bool // buyer-maker on the wire: true means the taker hit the bid
	SpreadBps     float64
}

// FeatureSnapshot is the per-tick microstructure view of one symbol.
// Derived purely from the trailing tick window; snapshots never share
// mutable state across symbols.
type FeatureSnapshot struct {
	Symbol              string
	TsMs                int64
	PriceChangePct      float64
	Velocity            float64
	Accel               float64
	TradeRate           float64
	Volume5s            float64
	Volume10s           float64
	VolumeZScore        float64
	Imbalance           float64
	WickProxy           float64
	SpreadBps           float64
	SpreadNorm          float64
	Impact              float64
	ExpectedSlippageBps float64
	Vol10s              float64
	ImpulseScore        float64
	ImpulseDetected     bool
	ExhaustionRatio     float64
	ExhaustionDetected  bool
}
