package domain

import "time"

// Side is the direction of an order or signal.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

// OrderRequest describes one market-taking order to submit.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Qty        float64
	ReduceOnly bool
}

// SymbolFilters are the exchange-imposed quantization constraints for a
// symbol. Loaded once from exchangeInfo and immutable afterwards.
type SymbolFilters struct {
	TickSize    float64
	StepSize    float64
	MinNotional float64
}

// Trade record statuses.
const (
	TradeFilled   = "FILLED"
	TradeBlocked  = "BLOCKED"
	TradeRejected = "REJECTED"
)

// TradeTimestamps are monotonic-non-decreasing wall-clock markers along the
// order lifecycle, used for latency accounting. Zero values mean the stage
// was never reached.
type TradeTimestamps struct {
	SignalAt   time.Time
	DecisionAt time.Time
	SendAt     time.Time
	AckAt      time.Time
	FillAt     time.Time
}

// TradeRecord is the durable outcome of one execution attempt group,
// cached by idempotency key for the life of the process.
type TradeRecord struct {
	CorrelationID  string
	IdempotencyKey string
	Symbol         string
	Side           Side
	Qty            float64
	Price          float64
	Status         string
	Reason         string
	Timestamps     TradeTimestamps
	Extra          map[string]any
}
