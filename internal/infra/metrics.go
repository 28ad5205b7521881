package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability for the trading loop.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksProcessed atomic.Uint64
	signalsEmitted atomic.Uint64
	ordersFilled   atomic.Uint64
	ordersBlocked  atomic.Uint64
	ordersRejected atomic.Uint64
	wsReconnects   atomic.Uint64
	errorsTotal    atomic.Uint64

	// Decision latency (signal to order decision)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeStreams atomic.Int32
	killSwitch    atomic.Int32 // 1 = engaged
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records one processed trade tick.
func (m *Metrics) RecordTick() {
	m.ticksProcessed.Add(1)
}

// RecordSignal records one emitted strategy signal.
func (m *Metrics) RecordSignal() {
	m.signalsEmitted.Add(1)
}

// RecordOrder records an order outcome by status with decision latency.
func (m *Metrics) RecordOrder(status string, latencyNs int64) {
	switch status {
	case "FILLED":
		m.ordersFilled.Add(1)
	case "BLOCKED":
		m.ordersBlocked.Add(1)
	case "REJECTED":
		m.ordersRejected.Add(1)
	}
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordReconnect records one websocket reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.wsReconnects.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetActiveStreams sets the current live stream count.
func (m *Metrics) SetActiveStreams(count int32) {
	m.activeStreams.Store(count)
}

// SetKillSwitch sets the kill switch gauge (true = engaged).
func (m *Metrics) SetKillSwitch(engaged bool) {
	if engaged {
		m.killSwitch.Store(1)
	} else {
		m.killSwitch.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksProcessed uint64
	SignalsEmitted uint64
	OrdersFilled   uint64
	OrdersBlocked  uint64
	OrdersRejected uint64
	WSReconnects   uint64
	ErrorsTotal    uint64
	AvgLatencyNs   int64
	ActiveStreams  int32
	KillSwitch     bool
	Timestamp      time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TicksProcessed: m.ticksProcessed.Load(),
		SignalsEmitted: m.signalsEmitted.Load(),
		OrdersFilled:   m.ordersFilled.Load(),
		OrdersBlocked:  m.ordersBlocked.Load(),
		OrdersRejected: m.ordersRejected.Load(),
		WSReconnects:   m.wsReconnects.Load(),
		ErrorsTotal:    m.errorsTotal.Load(),
		AvgLatencyNs:   avgLatency,
		ActiveStreams:  m.activeStreams.Load(),
		KillSwitch:     m.killSwitch.Load() == 1,
		Timestamp:      time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksProcessed.Store(0)
	m.signalsEmitted.Store(0)
	m.ordersFilled.Store(0)
	m.ordersBlocked.Store(0)
	m.ordersRejected.Store(0)
	m.wsReconnects.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeStreams.Store(0)
	m.killSwitch.Store(0)
}
