package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
	"github.com/danmodyrko/trading-bot-test/internal/event"
	"github.com/danmodyrko/trading-bot-test/internal/infra"
)

// Mode selects the exchange environment.
type Mode string

const (
	ModeDemo Mode = "DEMO"
	ModeReal Mode = "REAL"

	testnetREST = "https://testnet.binancefuture.com"
	liveREST    = "https://fapi.binance.com"
)

// TimeSync stores the server-minus-local clock offset per mode, so a
// mode switch does not discard the other environment's calibration.
type TimeSync struct {
	mu      sync.Mutex
	offsets map[Mode]int64
}

func NewTimeSync() *TimeSync {
	return &TimeSync{offsets: make(map[Mode]int64)}
}

func (t *TimeSync) Set(mode Mode, offsetMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets[mode] = offsetMs
}

func (t *TimeSync) Get(mode Mode) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offsets[mode]
}

// AccountOverview is the USDT slice of the futures account.
type AccountOverview struct {
	BalanceUSDT   float64
	AvailableUSDT float64
	UnrealizedPnL float64
	MarginUsed    float64
	TimestampMs   int64
}

// Position is one nonzero open position.
type Position struct {
	Symbol        string
	Qty           float64
	EntryPrice    float64
	UnrealizedPnL float64
}

// Adapter wraps the signed REST client with mode switching, clock sync
// and the one permitted clock-skew retry. Credentials must be present
// before any signed call, or it fails fast.
type Adapter struct {
	mu           sync.Mutex
	mode         Mode
	client       *Client
	timeSync     *TimeSync
	recvWindowMs int64
	bus          *event.Bus
	logger       *slog.Logger
	configured   bool

	restDemo string
	restReal string
}

// Options overrides the default endpoints, mostly for tests.
type Options struct {
	RestDemo     string
	RestReal     string
	RecvWindowMs int64
}

// NewAdapter builds an adapter in the given mode. bus may be nil.
func NewAdapter(mode Mode, apiKey, apiSecret string, bus *event.Bus, opts Options) *Adapter {
	if opts.RestDemo == "" {
		opts.RestDemo = testnetREST
	}
	if opts.RestReal == "" {
		opts.RestReal = liveREST
	}
	if opts.RecvWindowMs <= 0 {
		opts.RecvWindowMs = 5000
	}
	a := &Adapter{
		mode:         mode,
		timeSync:     NewTimeSync(),
		recvWindowMs: opts.RecvWindowMs,
		bus:          bus,
		logger:       slog.Default().With("module", "binance"),
		configured:   apiKey != "" && apiSecret != "",
		restDemo:     opts.RestDemo,
		restReal:     opts.RestReal,
	}
	a.client = NewClient(a.baseURL(mode), apiKey, apiSecret)
	a.logger.Info("exchange adapter init",
		"mode", string(mode), "api_key", infra.MaskAPIKey(apiKey))
	return a
}

func (a *Adapter) baseURL(mode Mode) string {
	if mode == ModeDemo {
		return a.restDemo
	}
	return a.restReal
}

// Mode returns the current environment.
func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Configured reports whether both credentials are present.
func (a *Adapter) Configured() bool {
	return a.configured
}

func (a *Adapter) requireKeys() error {
	if !a.configured {
		if a.bus != nil {
			a.bus.Incident("API_ERROR", domain.ErrNotConfigured.Error(), "",
				map[string]any{"mode": string(a.Mode())})
		}
		return domain.ErrNotConfigured
	}
	return nil
}

// EnsureMode switches the environment if needed and resynchronizes the
// clock for it.
func (a *Adapter) EnsureMode(ctx context.Context, mode Mode) error {
	a.mu.Lock()
	if mode != a.mode {
		a.mode = mode
		a.client.SetBaseURL(a.baseURL(mode))
		a.logger.Info("switch_mode", "mode", string(mode))
	}
	a.client.SetTimeOffset(a.timeSync.Get(a.mode))
	a.mu.Unlock()

	_, err := a.SyncTime(ctx)
	return err
}

// SyncTime fetches server time and stores server minus local as the
// offset for the current mode.
func (a *Adapter) SyncTime(ctx context.Context) (int64, error) {
	body, err := a.client.Get(ctx, "/fapi/v1/time", nil, false, 0)
	if err != nil {
		if a.bus != nil {
			a.bus.Incident("API_ERROR", fmt.Sprintf("time sync failed: %v", err), "",
				map[string]any{"mode": string(a.Mode())})
		}
		return 0, err
	}
	var st serverTimeResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return 0, err
	}
	offset := st.ServerTime - time.Now().UnixMilli()
	mode := a.Mode()
	a.timeSync.Set(mode, offset)
	a.client.SetTimeOffset(offset)
	if a.bus != nil {
		a.bus.Publish(domain.LiveEvent{
			Category: domain.CategoryInfo,
			Action:   "TIME_SYNC",
			Message:  "time sync success",
			Details:  map[string]any{"mode": string(mode), "offset_ms": offset},
		})
	}
	return offset, nil
}

// PingLatency measures a round trip to the unauthenticated ping endpoint.
func (a *Adapter) PingLatency(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := a.client.Get(ctx, "/fapi/v1/ping", nil, false, 0); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// signedGet runs a signed GET with the clock-skew retry: on the
// timestamp-desync code the clock is resynced once and the request
// repeated exactly once.
func (a *Adapter) signedGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return a.signedDo(ctx, path, params, a.client.Get)
}

func (a *Adapter) signedPost(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return a.signedDo(ctx, path, params, a.client.Post)
}

type requestFunc func(ctx context.Context, path string, params url.Values, signed bool, recvWindowMs int64) ([]byte, error)

func (a *Adapter) signedDo(ctx context.Context, path string, params url.Values, do requestFunc) ([]byte, error) {
	if err := a.requireKeys(); err != nil {
		return nil, err
	}
	mode := a.Mode()
	if a.timeSync.Get(mode) == 0 {
		if _, err := a.SyncTime(ctx); err != nil {
			return nil, err
		}
	}
	a.client.SetTimeOffset(a.timeSync.Get(mode))

	body, err := do(ctx, path, cloneValues(params), true, a.recvWindowMs)
	if err == nil {
		return body, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.IsClockSkew() {
		if a.bus != nil {
			a.bus.Publish(domain.LiveEvent{
				Category: domain.CategoryInfo,
				Action:   "API_RETRY",
				Message:  "request retry after time sync",
				Details:  map[string]any{"path": path, "mode": string(mode)},
			})
		}
		if _, syncErr := a.SyncTime(ctx); syncErr != nil {
			return nil, syncErr
		}
		a.client.SetTimeOffset(a.timeSync.Get(mode))
		return do(ctx, path, cloneValues(params), true, a.recvWindowMs)
	}

	if a.bus != nil {
		a.bus.Incident("API_ERROR", fmt.Sprintf("signed request failed: %v", err), "",
			map[string]any{"path": path, "mode": string(mode)})
	}
	return nil, err
}

// cloneValues copies params so a retry re-signs fresh values instead of
// carrying the stale timestamp and signature.
func cloneValues(params url.Values) url.Values {
	out := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

// AccountOverview fetches the USDT balance slice of the futures account.
func (a *Adapter) AccountOverview(ctx context.Context) (*AccountOverview, error) {
	body, err := a.signedGet(ctx, "/fapi/v2/account", nil)
	if err != nil {
		return nil, err
	}
	var acct accountResponse
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, err
	}
	out := &AccountOverview{TimestampMs: time.Now().UnixMilli()}
	out.MarginUsed = parseFloat(acct.TotalInitialMargin)
	for _, asset := range acct.Assets {
		if asset.Asset == "USDT" {
			out.BalanceUSDT = parseFloat(asset.WalletBalance)
			out.AvailableUSDT = parseFloat(asset.AvailableBalance)
			out.UnrealizedPnL = parseFloat(asset.UnrealizedProfit)
			break
		}
	}
	return out, nil
}

// Positions returns only nonzero open positions.
func (a *Adapter) Positions(ctx context.Context) ([]Position, error) {
	body, err := a.signedGet(ctx, "/fapi/v2/account", nil)
	if err != nil {
		return nil, err
	}
	var acct accountResponse
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, err
	}
	var out []Position
	for _, pos := range acct.Positions {
		qty := parseFloat(pos.PositionAmt)
		if qty == 0 {
			continue
		}
		out = append(out, Position{
			Symbol:        pos.Symbol,
			Qty:           qty,
			EntryPrice:    parseFloat(pos.EntryPrice),
			UnrealizedPnL: parseFloat(pos.UnrealizedProfit),
		})
	}
	return out, nil
}

// RecentFills fetches up to limit recent user trades, optionally bounded
// by a start time in milliseconds.
func (a *Adapter) RecentFills(ctx context.Context, limit int, sinceMs int64) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	if sinceMs > 0 {
		params.Set("startTime", strconv.FormatInt(sinceMs, 10))
	}
	body, err := a.signedGet(ctx, "/fapi/v1/userTrades", params)
	if err != nil {
		return nil, err
	}
	var fills []map[string]any
	if err := json.Unmarshal(body, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// IncomeHistory fetches realized pnl and funding entries.
func (a *Adapter) IncomeHistory(ctx context.Context, limit int) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	body, err := a.signedGet(ctx, "/fapi/v1/income", params)
	if err != nil {
		return nil, err
	}
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SymbolFilters fetches tick size, step size and min notional for the
// given symbols from exchange info.
func (a *Adapter) SymbolFilters(ctx context.Context, symbols []string) (map[string]domain.SymbolFilters, error) {
	body, err := a.client.Get(ctx, "/fapi/v1/exchangeInfo", nil, false, 0)
	if err != nil {
		return nil, err
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	out := make(map[string]domain.SymbolFilters, len(symbols))
	for _, sym := range info.Symbols {
		if _, ok := wanted[sym.Symbol]; !ok {
			continue
		}
		var f domain.SymbolFilters
		for _, filter := range sym.Filters {
			switch filter.FilterType {
			case "PRICE_FILTER":
				f.TickSize = parseFloat(filter.TickSize)
			case "LOT_SIZE":
				f.StepSize = parseFloat(filter.StepSize)
			case "MIN_NOTIONAL":
				f.MinNotional = parseFloat(filter.MinNotional)
			}
		}
		out[sym.Symbol] = f
	}
	for _, s := range symbols {
		if _, ok := out[s]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidSymbol, s)
		}
	}
	return out, nil
}

// DiscoverSymbols returns TRADING USDT perpetuals above the 24h quote
// volume floor, split into active and watch-only by the active cap.
func (a *Adapter) DiscoverSymbols(ctx context.Context, minQuoteVolume24h float64, maxActive int) (active, watchOnly []string, err error) {
	infoBody, err := a.client.Get(ctx, "/fapi/v1/exchangeInfo", nil, false, 0)
	if err != nil {
		return nil, nil, err
	}
	tickerBody, err := a.client.Get(ctx, "/fapi/v1/ticker/24hr", nil, false, 0)
	if err != nil {
		return nil, nil, err
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(infoBody, &info); err != nil {
		return nil, nil, err
	}
	var tickers []ticker24hEntry
	if err := json.Unmarshal(tickerBody, &tickers); err != nil {
		return nil, nil, err
	}
	volBySymbol := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		volBySymbol[t.Symbol] = parseFloat(t.QuoteVolume)
	}
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.QuoteAsset != "USDT" || s.Status != "TRADING" {
			continue
		}
		if volBySymbol[s.Symbol] < minQuoteVolume24h {
			continue
		}
		if len(active) < maxActive {
			active = append(active, s.Symbol)
		} else {
			watchOnly = append(watchOnly, s.Symbol)
		}
	}
	return active, watchOnly, nil
}

// SubmitOrder sends a market order, shaped to serve as the execution
// engine's submit function.
func (a *Adapter) SubmitOrder(ctx context.Context, order domain.OrderRequest, price float64) (map[string]any, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(order.Qty, 'f', -1, 64))
	if order.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("newClientOrderId", fmt.Sprintf("danbot-%d", time.Now().UnixMilli()))

	body, err := a.signedPost(ctx, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	var ack map[string]any
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, err
	}
	if a.bus != nil {
		a.bus.Publish(domain.LiveEvent{
			Category: domain.CategoryOrder,
			Action:   "ORDER",
			Message:  "order submitted",
			Symbol:   order.Symbol,
			Details: infra.SanitizeDetails(map[string]any{
				"side": string(order.Side),
				"qty":  order.Qty,
				"mode": string(a.Mode()),
			}),
		})
	}
	return ack, nil
}

// TestTradeResult summarizes a connectivity-check order.
type TestTradeResult struct {
	Symbol         string
	Side           string
	QuoteValueUSDT float64
	EstimatedPrice float64
	Qty            float64
	Order          map[string]any
}

// PlaceTestTrade submits a tiny market order sized by quote value to
// verify the full signed trading path end to end.
func (a *Adapter) PlaceTestTrade(ctx context.Context, symbol string, quoteValueUSDT float64, side domain.Side) (*TestTradeResult, error) {
	tickerParams := url.Values{}
	tickerParams.Set("symbol", symbol)
	body, err := a.client.Get(ctx, "/fapi/v1/ticker/price", tickerParams, false, 0)
	if err != nil {
		return nil, err
	}
	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return nil, err
	}
	price := parseFloat(ticker.Price)
	if price <= 0 {
		return nil, fmt.Errorf("no price for %s: %w", symbol, domain.ErrInvalidSymbol)
	}

	qty := quoteValueUSDT / price
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(qty, 'f', 6, 64))
	params.Set("newClientOrderId", fmt.Sprintf("test-%d", time.Now().UnixMilli()))

	body, err = a.signedPost(ctx, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	var ack map[string]any
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, err
	}
	if a.bus != nil {
		a.bus.Publish(domain.LiveEvent{
			Category: domain.CategoryOrder,
			Action:   "ORDER",
			Message:  "test order submitted",
			Symbol:   symbol,
			Details: infra.SanitizeDetails(map[string]any{
				"quote_value_usdt": quoteValueUSDT,
				"side":             string(side),
			}),
		})
	}
	return &TestTradeResult{
		Symbol:         symbol,
		Side:           string(side),
		QuoteValueUSDT: quoteValueUSDT,
		EstimatedPrice: price,
		Qty:            parseFloat(strconv.FormatFloat(qty, 'f', 6, 64)),
		Order:          ack,
	}, nil
}

// CloseTestTrade flattens any open position on the symbol with a
// reduce-only market order on the opposite side. Returns the number of
// positions closed.
func (a *Adapter) CloseTestTrade(ctx context.Context, symbol string) (int, error) {
	positions, err := a.Positions(ctx)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, pos := range positions {
		if pos.Symbol != symbol {
			continue
		}
		openSide := domain.SideBuy
		if pos.Qty < 0 {
			openSide = domain.SideSell
		}
		if _, err := a.SubmitOrder(ctx, domain.OrderRequest{
			Symbol:     symbol,
			Side:       openSide.Opposite(),
			Qty:        math.Abs(pos.Qty),
			ReduceOnly: true,
		}, 0); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
