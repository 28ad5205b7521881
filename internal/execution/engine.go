package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
	"github.com/danmodyrko/trading-bot-test/internal/event"
)

// SubmitFunc sends one order to the exchange and returns the raw ack
// payload. It must be idempotent-safe under retry and must return an error
// on failure, never a sentinel payload.
type SubmitFunc func(ctx context.Context, order domain.OrderRequest, price float64) (map[string]any, error)

// RiskGate is the slice of the risk manager the engine needs.
type RiskGate interface {
	CanTrade(symbol string, notional float64, stale, spreadBlocked, slippageBlocked bool) (bool, string)
	ApplyTradeOpen(symbol string, notional float64)
}

// Config tunes the submit loop and the idempotency cache.
type Config struct {
	Retries    int
	BaseDelay  time.Duration
	CacheLimit int
	DryRun     bool
}

// PlaceRequest carries one order and the guard context it was decided
// under.
type PlaceRequest struct {
	Symbol          string
	Side            domain.Side
	Qty             float64
	Price           float64
	Filters         domain.SymbolFilters
	SpreadBps       float64
	ExpectedBps     float64 // expected slippage cost for this order
	ExpectedEdgeBps float64
	Stale           bool
	SignalAt        time.Time
}

// Engine owns the full order lifecycle: quantization, guard admission,
// idempotent deduplication, retried submission and risk accounting.
// Accessed by a single trading-loop task at a time.
type Engine struct {
	submit   SubmitFunc
	slippage SlippageModel
	risk     RiskGate
	bus      *event.Bus
	cfg      Config
	logger   *slog.Logger

	cache    map[string]*domain.TradeRecord
	keyOrder []string // FIFO eviction
}

// NewEngine wires the execution engine. bus may be nil in tests.
func NewEngine(submit SubmitFunc, slippage SlippageModel, risk RiskGate, bus *event.Bus, cfg Config) *Engine {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.CacheLimit <= 0 {
		cfg.CacheLimit = 512
	}
	return &Engine{
		submit:   submit,
		slippage: slippage,
		risk:     risk,
		bus:      bus,
		cfg:      cfg,
		logger:   slog.Default().With("module", "execution"),
		cache:    make(map[string]*domain.TradeRecord),
	}
}

// QuantizeDown floors value to a multiple of step. It never rounds up:
// rounding up could exceed the intended risk. A non-positive step returns
// the value unchanged.
func QuantizeDown(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	out, _ := v.Div(s).Floor().Mul(s).Float64()
	return out
}

// IdempotencyKey fingerprints the economically meaningful order parameters
// after quantization. Price is rounded to 8 decimals.
func IdempotencyKey(symbol string, side domain.Side, qty, price float64) string {
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price).Round(8)
	return fmt.Sprintf("%s|%s|%s|%s", symbol, side, q.String(), p.String())
}

// PlaceOrder runs one order through the lifecycle:
// cached | BLOCKED(reason) | submit loop -> FILLED | REJECTED.
// Identical inputs return the cached record without resubmitting.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceRequest) (*domain.TradeRecord, error) {
	now := time.Now().UTC()
	ts := domain.TradeTimestamps{SignalAt: req.SignalAt, DecisionAt: now}
	if ts.SignalAt.IsZero() {
		ts.SignalAt = now
	}

	qty := QuantizeDown(req.Qty, req.Filters.StepSize)
	price := QuantizeDown(req.Price, req.Filters.TickSize)
	key := IdempotencyKey(req.Symbol, req.Side, qty, price)

	if cached, ok := e.cache[key]; ok {
		e.logger.Debug("idempotency cache hit", "key", key, "status", cached.Status)
		return cached, nil
	}

	rec := &domain.TradeRecord{
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: key,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Qty:            qty,
		Price:          price,
		Timestamps:     ts,
		Extra:          map[string]any{},
	}

	notional := qty * price
	if notional < req.Filters.MinNotional {
		return e.block(rec, "min_notional"), nil
	}

	// Guards run before any network call.
	if ok, reason := e.slippage.Validate(req.ExpectedBps, req.SpreadBps, req.ExpectedEdgeBps); !ok {
		return e.block(rec, reason), nil
	}
	if ok, reason := e.risk.CanTrade(req.Symbol, notional, req.Stale, false, false); !ok {
		return e.block(rec, reason), nil
	}

	order := domain.OrderRequest{Symbol: req.Symbol, Side: req.Side, Qty: qty}

	if e.cfg.DryRun {
		// Decisions are computed and logged, nothing hits the wire.
		now := time.Now().UTC()
		rec.Timestamps.SendAt = now
		rec.Timestamps.AckAt = now
		rec.Timestamps.FillAt = now
		rec.Status = domain.TradeFilled
		rec.Reason = "dry_run"
		rec.Extra["dry_run"] = true
		e.risk.ApplyTradeOpen(req.Symbol, notional)
		e.remember(rec)
		e.publish(rec, domain.SeverityInfo, "dry-run order accepted")
		return rec, nil
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := e.backoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}
		rec.Timestamps.SendAt = time.Now().UTC()
		ack, err := e.submit(ctx, order, price)
		if err != nil {
			lastErr = err
			e.logger.Warn("order submit failed",
				"symbol", req.Symbol, "attempt", attempt, "error", err)
			continue
		}
		now := time.Now().UTC()
		rec.Timestamps.AckAt = now
		rec.Timestamps.FillAt = now
		rec.Status = domain.TradeFilled
		rec.Reason = ReasonOK
		for k, v := range ack {
			rec.Extra[k] = v
		}
		// Risk state must reflect the trade before the caller can act on
		// the result.
		e.risk.ApplyTradeOpen(req.Symbol, notional)
		e.remember(rec)
		e.publish(rec, domain.SeverityInfo, "order filled")
		return rec, nil
	}

	rec.Status = domain.TradeRejected
	rec.Reason = "submit_retries_exhausted"
	if lastErr != nil {
		rec.Extra["error"] = lastErr.Error()
	}
	e.remember(rec)
	e.publish(rec, domain.SeverityError, "order rejected after retries")
	return rec, fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, lastErr)
}

// CachedRecord looks up a prior outcome by idempotency key.
func (e *Engine) CachedRecord(key string) (*domain.TradeRecord, bool) {
	rec, ok := e.cache[key]
	return rec, ok
}

func (e *Engine) block(rec *domain.TradeRecord, reason string) *domain.TradeRecord {
	rec.Status = domain.TradeBlocked
	rec.Reason = reason
	e.remember(rec)
	e.publish(rec, domain.SeverityWarning, "order blocked")
	return rec
}

// remember caches the record, evicting the oldest key once over the limit.
// Plain FIFO: quantization makes key reuse across ticks rare, LRU would
// buy nothing.
func (e *Engine) remember(rec *domain.TradeRecord) {
	if _, exists := e.cache[rec.IdempotencyKey]; !exists {
		e.keyOrder = append(e.keyOrder, rec.IdempotencyKey)
	}
	e.cache[rec.IdempotencyKey] = rec
	for len(e.keyOrder) > e.cfg.CacheLimit {
		oldest := e.keyOrder[0]
		e.keyOrder = e.keyOrder[1:]
		delete(e.cache, oldest)
	}
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	delay := e.cfg.BaseDelay * time.Duration(1<<(attempt-1))
	if jitter := int64(e.cfg.BaseDelay) / 4; jitter > 0 {
		delay += time.Duration(rand.Int63n(jitter))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) publish(rec *domain.TradeRecord, severity, message string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(domain.LiveEvent{
		Severity:      severity,
		Category:      domain.CategoryOrder,
		Message:       message,
		Symbol:        rec.Symbol,
		Action:        "ORDER",
		CorrelationID: rec.CorrelationID,
		Details: map[string]any{
			"status": rec.Status,
			"reason": rec.Reason,
			"side":   string(rec.Side),
			"qty":    rec.Qty,
			"price":  rec.Price,
		},
	})
}
