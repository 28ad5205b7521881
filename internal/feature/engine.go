package feature

import (
	"math"
	"sort"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
)

const (
	trailingWindowMs = 120_000
	ringCap          = 1200
	madFactor        = 0.6745
	minBuckets       = 10
	eps              = 1e-9
)

// Config holds the impulse/exhaustion detection thresholds.
type Config struct {
	ImpulseThresholdPct  float64
	ImpulseWindowSeconds int
	VolumeZThreshold     float64
	TradeRateBurst       float64
}

// symbolState owns the trailing windows for one symbol. Created lazily on
// the first tick and never shared across symbols.
type symbolState struct {
	trades     []domain.TradeTick
	spreads    *floatRing
	velocities *floatRing
}

// Engine converts raw trade ticks into rolling per-symbol microstructure
// features. Pure computation, no I/O; malformed input is absorbed by the
// numeric floor guards rather than surfaced as errors.
type Engine struct {
	cfg   Config
	state map[string]*symbolState
}

// NewEngine creates a feature engine with the given thresholds.
func NewEngine(cfg Config) *Engine {
	if cfg.TradeRateBurst <= 0 {
		cfg.TradeRateBurst = 8.0
	}
	return &Engine{cfg: cfg, state: make(map[string]*symbolState)}
}

// OnTrade ingests one tick and returns the updated feature snapshot for the
// tick's symbol. Ticks for a symbol must arrive in event-time order; the
// trailing window is truncated to 120 seconds on every call.
func (e *Engine) OnTrade(tick domain.TradeTick, expectedOrderSize float64) domain.FeatureSnapshot {
	s, ok := e.state[tick.Symbol]
	if !ok {
		s = &symbolState{
			spreads:    newFloatRing(ringCap),
			velocities: newFloatRing(ringCap),
		}
		e.state[tick.Symbol] = s
	}

	s.trades = append(s.trades, tick)
	s.spreads.push(tick.SpreadBps)
	cutoff := tick.EventTimeMs - trailingWindowMs
	trimmed := 0
	for trimmed < len(s.trades) && s.trades[trimmed].EventTimeMs < cutoff {
		trimmed++
	}
	if trimmed > 0 {
		s.trades = append(s.trades[:0], s.trades[trimmed:]...)
	}

	pNow := tick.Price
	t3 := recent(s.trades, tick.EventTimeMs, 3)
	t5 := recent(s.trades, tick.EventTimeMs, 5)
	t10 := recent(s.trades, tick.EventTimeMs, 10)
	windowSec := min(e.cfg.ImpulseWindowSeconds, 60)
	t60 := recent(s.trades, tick.EventTimeMs, windowSec)

	velocity := 0.0
	if len(t3) > 0 {
		dt := math.Max(float64(tick.EventTimeMs-t3[0].EventTimeMs)/1000.0, 1e-6)
		velocity = math.Abs(pNow-t3[0].Price) / dt
	}
	prevVelocity := velocity
	if v, ok := s.velocities.last(); ok {
		prevVelocity = v
	}
	s.velocities.push(velocity)
	accel := velocity - prevVelocity

	tradeRate := float64(len(t3)) / 3.0

	volume5s := sumQty(t5)
	volume10s := sumQty(t10)
	volumeZ := e.volumeZScore(s.trades, tick.EventTimeMs, volume10s)

	var takerBuy, takerSell float64
	for _, t := range t10 {
		if t.TakerIsSeller {
			takerSell += t.Qty
		} else {
			takerBuy += t.Qty
		}
	}
	imbalance := (takerBuy - takerSell) / math.Max(takerBuy+takerSell, eps)

	high, low := pNow, pNow
	for _, t := range t10 {
		high = math.Max(high, t.Price)
		low = math.Min(low, t.Price)
	}
	wickProxy := (high - low) / math.Max(math.Abs(pNow), eps)

	spreadBaseline := math.Max(tick.SpreadBps, eps)
	if vals := s.spreads.values(); len(vals) > 0 {
		spreadBaseline = median(vals)
	}
	spreadNorm := tick.SpreadBps / math.Max(spreadBaseline, eps)

	var impacts []float64
	for i := 1; i < len(t10); i++ {
		a, b := t10[i-1], t10[i]
		impacts = append(impacts, math.Abs((b.Price-a.Price)/math.Max(a.Price, eps))/math.Max(b.Qty, eps))
	}
	impact := 0.0
	if len(impacts) > 0 {
		impact = median(impacts)
	}
	expectedSlippageBps := impact * expectedOrderSize * 10_000

	var sumSq float64
	returns := 0
	for i := 1; i < len(t10); i++ {
		r := math.Log(math.Max(t10[i].Price, eps) / math.Max(t10[i-1].Price, eps))
		sumSq += r * r
		returns++
	}
	vol10s := 0.0
	if returns > 0 {
		vol10s = math.Sqrt(sumSq / float64(returns))
	}

	windowStart := pNow
	if len(t60) > 0 {
		windowStart = t60[0].Price
	}
	priceChangePct := (pNow - windowStart) / math.Max(windowStart, eps) * 100

	impulseScore := (math.Abs(priceChangePct) / math.Max(float64(windowSec), 1)) *
		math.Max(volumeZ, 0) * (1 + math.Abs(imbalance))
	// All three conditions must hold; any single noisy signal is not enough.
	impulseDetected := math.Abs(priceChangePct) >= e.cfg.ImpulseThresholdPct &&
		volumeZ >= e.cfg.VolumeZThreshold &&
		tradeRate >= e.cfg.TradeRateBurst

	maxVel := velocity
	if v, ok := s.velocities.max(); ok {
		maxVel = v
	}
	exhaustionRatio := velocity / math.Max(maxVel, eps)
	divergence := len(t10) >= 2 && math.Abs(imbalance) < 0.1 && math.Abs(priceChangePct) > 0.25
	wickExpansion := wickProxy > 0.001
	spreadRenormalized := spreadNorm < 1.1
	exhaustionDetected := exhaustionRatio < 0.4 && (divergence || wickExpansion || spreadRenormalized)

	return domain.FeatureSnapshot{
		Symbol:              tick.Symbol,
		TsMs:                tick.EventTimeMs,
		PriceChangePct:      priceChangePct,
		Velocity:            velocity,
		Accel:               accel,
		TradeRate:           tradeRate,
		Volume5s:            volume5s,
		Volume10s:           volume10s,
		VolumeZScore:        volumeZ,
		Imbalance:           imbalance,
		WickProxy:           wickProxy,
		SpreadBps:           tick.SpreadBps,
		SpreadNorm:          spreadNorm,
		Impact:              impact,
		ExpectedSlippageBps: expectedSlippageBps,
		Vol10s:              vol10s,
		ImpulseScore:        impulseScore,
		ImpulseDetected:     impulseDetected,
		ExhaustionRatio:     exhaustionRatio,
		ExhaustionDetected:  exhaustionDetected,
	}
}

// volumeZScore buckets the trailing 10-120s into non-overlapping 10-second
// windows and scores volume10s against the populated buckets.
func (e *Engine) volumeZScore(trades []domain.TradeTick, nowMs int64, volume10s float64) float64 {
	var buckets []float64
	for i := int64(10); i <= 120; i += 10 {
		lo := nowMs - i*1000
		hi := nowMs - (i-10)*1000
		sum := 0.0
		n := 0
		for _, t := range trades {
			if t.EventTimeMs >= lo && t.EventTimeMs < hi {
				sum += t.Qty
				n++
			}
		}
		if n > 0 {
			buckets = append(buckets, sum)
		}
	}
	return RobustZScore(volume10s, buckets)
}

// RobustZScore is a median/MAD-based z-score. It returns 0 with fewer than
// ten samples: short history makes the estimate unstable.
func RobustZScore(value float64, values []float64) float64 {
	if len(values) < minBuckets {
		return 0.0
	}
	med := median(values)
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	mad := median(devs)
	if mad <= eps {
		return 0.0
	}
	return madFactor * (value - med) / mad
}

func recent(trades []domain.TradeTick, nowMs int64, sec int) []domain.TradeTick {
	cutoff := nowMs - int64(sec)*1000
	for i, t := range trades {
		if t.EventTimeMs >= cutoff {
			return trades[i:]
		}
	}
	return nil
}

func sumQty(trades []domain.TradeTick) float64 {
	var total float64
	for _, t := range trades {
		total += t.Qty
	}
	return total
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// floatRing is a fixed-capacity append-only window. Oldest values fall off
// once the capacity is reached.
type floatRing struct {
	buf   []float64
	head  int
	count int
}

func newFloatRing(capacity int) *floatRing {
	return &floatRing{buf: make([]float64, capacity)}
}

func (r *floatRing) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *floatRing) last() (float64, bool) {
	if r.count == 0 {
		return 0, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx = len(r.buf) - 1
	}
	return r.buf[idx], true
}

func (r *floatRing) max() (float64, bool) {
	if r.count == 0 {
		return 0, false
	}
	best := math.Inf(-1)
	for i := 0; i < r.count; i++ {
		if r.buf[i] > best {
			best = r.buf[i]
		}
	}
	return best, true
}

func (r *floatRing) values() []float64 {
	out := make([]float64, 0, r.count)
	if r.count < len(r.buf) {
		out = append(out, r.buf[:r.count]...)
		return out
	}
	out = append(out, r.buf[r.head:]...)
	out = append(out, r.buf[:r.head]...)
	return out
}
