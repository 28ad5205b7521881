package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
	"github.com/danmodyrko/trading-bot-test/internal/event"
	"github.com/danmodyrko/trading-bot-test/internal/infra"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsReadTimeout      = 60 * time.Second
)

// TickHandler receives one parsed trade tick.
type TickHandler func(tick domain.TradeTick)

// WSClient consumes per-stream trade frames over a persistent
// connection, reconnecting forever with exponential backoff. A consume
// loop only exits when its context is cancelled.
type WSClient struct {
	endpoint string
	stale    time.Duration
	bus      *event.Bus
	logger   *slog.Logger

	mu            sync.Mutex
	lastMessageAt time.Time
	streamLast    map[string]time.Time
	prevEventMs   map[string]int64
}

// NewWSClient builds a client for one WS endpoint base URL.
func NewWSClient(endpoint string, staleSeconds int, bus *event.Bus) *WSClient {
	if staleSeconds <= 0 {
		staleSeconds = 5
	}
	return &WSClient{
		endpoint:    endpoint,
		stale:       time.Duration(staleSeconds) * time.Second,
		bus:         bus,
		logger:      slog.Default().With("module", "ws"),
		streamLast:  make(map[string]time.Time),
		prevEventMs: make(map[string]int64),
	}
}

// Healthy reports whether any message arrived within the staleness
// window.
func (c *WSClient) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastMessageAt.IsZero() {
		return false
	}
	return time.Since(c.lastMessageAt) < c.stale
}

// StaleStreams returns streams silent for longer than the staleness
// threshold and reports them as an incident.
func (c *WSClient) StaleStreams() []string {
	c.mu.Lock()
	var stale []string
	now := time.Now()
	for stream, last := range c.streamLast {
		if now.Sub(last) > c.stale {
			stale = append(stale, stream)
		}
	}
	c.mu.Unlock()

	if len(stale) > 0 && c.bus != nil {
		c.bus.Publish(domain.LiveEvent{
			Severity: domain.SeverityWarning,
			Category: domain.CategoryIncident,
			Action:   "WS_STALE",
			Message:  "stale streams detected",
			Details:  map[string]any{"streams": stale},
		})
	}
	return stale
}

// Consume connects to one stream and delivers parsed ticks until ctx is
// cancelled. Every connection error, whether the dial fails or an
// established session drops, triggers backoff before the next attempt.
// The retry counter resets only once a message actually arrives, so a
// server that accepts the handshake and then hangs up cannot cause a
// hot reconnect loop.
func (c *WSClient) Consume(ctx context.Context, stream string, handler TickHandler) {
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.session(ctx, stream, handler, &retryCount)
		if ctx.Err() != nil {
			return
		}

		delay := infra.CalculateBackoff(retryCount)
		retryCount++
		infra.GlobalMetrics.RecordReconnect()
		c.logger.Warn("ws disconnected, reconnecting",
			"stream", stream, "backoff", delay, "error", err)
		c.publishReconnect(stream, delay, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session dials, reads until failure and reports the terminal error.
func (c *WSClient) session(ctx context.Context, stream string, handler TickHandler, retryCount *int) error {
	conn, err := c.dial(ctx, stream)
	if err != nil {
		return domain.NewNetworkError("connect", err)
	}
	defer conn.Close()

	// A cancelled context must unblock a pending ReadMessage; the read
	// deadline alone would park the goroutine for up to a minute.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c.logger.Info("ws connected", "stream", stream)
	if c.bus != nil {
		c.bus.Publish(domain.LiveEvent{
			Category: domain.CategoryInfo,
			Action:   "WS_RECONNECT",
			Message:  "ws connected",
			Details:  map[string]any{"stream": stream},
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws read error", "stream", stream, "error", err)
			}
			return domain.NewNetworkError("read", err)
		}
		*retryCount = 0
		c.handleMessage(stream, message, handler)
	}
}

func (c *WSClient) dial(ctx context.Context, stream string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	header := make(http.Header)
	conn, _, err := dialer.DialContext(ctx, c.endpoint+"/"+stream, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	return conn, nil
}

func (c *WSClient) handleMessage(stream string, message []byte, handler TickHandler) {
	now := time.Now()
	c.mu.Lock()
	c.lastMessageAt = now
	c.streamLast[stream] = now
	c.mu.Unlock()

	var frame aggTradeFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Debug("ws message parse error", "stream", stream, "error", err)
		return
	}
	if frame.EventType != "aggTrade" {
		return
	}

	evtMs := frame.TradeTimeMs
	if evtMs == 0 {
		evtMs = frame.EventTimeMs
	}
	// Out-of-order event times are logged but still delivered.
	c.mu.Lock()
	if prev := c.prevEventMs[stream]; prev != 0 && evtMs < prev {
		c.logger.Warn("non-monotonic event timestamp", "stream", stream,
			"prev_ms", prev, "event_ms", evtMs)
	}
	c.prevEventMs[stream] = evtMs
	c.mu.Unlock()

	tick := domain.TradeTick{
		Symbol:        frame.Symbol,
		EventTimeMs:   evtMs,
		Price:         parseFloat(frame.Price),
		Qty:           parseFloat(frame.Quantity),
		TakerIsSeller: frame.IsBuyerMaker,
	}
	if tick.Price <= 0 || tick.Qty <= 0 {
		return
	}
	handler(tick)
}

func (c *WSClient) publishReconnect(stream string, backoff time.Duration, err error) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(domain.LiveEvent{
		Severity: domain.SeverityWarning,
		Category: domain.CategoryIncident,
		Action:   "WS_RECONNECT",
		Message:  "ws reconnect scheduled",
		Details: map[string]any{
			"stream":    stream,
			"backoff":   backoff.String(),
			"error":     err.Error(),
			"retriable": domain.IsRetriable(err),
		},
	})
}

// Supervisor owns one consume goroutine per stream and a monitor that
// restarts streams gone silent past the staleness threshold, even when
// the socket still looks open. At most one restart per stream per
// monitor cycle.
type Supervisor struct {
	client   *WSClient
	handler  TickHandler
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewSupervisor wires a supervisor over the given client.
func NewSupervisor(client *WSClient, handler TickHandler, monitorInterval time.Duration) *Supervisor {
	if monitorInterval <= 0 {
		monitorInterval = 5 * time.Second
	}
	return &Supervisor{
		client:   client,
		handler:  handler,
		interval: monitorInterval,
		logger:   slog.Default().With("module", "ws-supervisor"),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run starts one consumer per stream plus the staleness monitor and
// blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, streams []string) {
	for _, stream := range streams {
		s.start(ctx, stream)
	}
	infra.GlobalMetrics.SetActiveStreams(int32(len(streams)))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			for _, stream := range s.client.StaleStreams() {
				s.logger.Warn("restarting stale stream", "stream", stream)
				s.restart(ctx, stream)
			}
		}
	}
}

func (s *Supervisor) start(ctx context.Context, stream string) {
	streamCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[stream] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.client.Consume(streamCtx, stream, s.handler)
	}()
}

// restart cancels the stream's consume task and spawns a fresh one. The
// stream's last-update time is bumped so the next monitor cycle gives
// the new task a full staleness window.
func (s *Supervisor) restart(ctx context.Context, stream string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[stream]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.client.mu.Lock()
	s.client.streamLast[stream] = time.Now()
	s.client.mu.Unlock()

	s.start(ctx, stream)
}
