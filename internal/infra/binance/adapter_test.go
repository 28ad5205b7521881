package binance_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
	"github.com/danmodyrko/trading-bot-test/internal/infra/binance"
)

func TestSignIsDeterministic(t *testing.T) {
	c := binance.NewClient("https://example.invalid", "key", "test-secret")

	params := url.Values{}
	params.Set("b", "2")
	params.Set("a", "1")

	// url.Values.Encode sorts keys, so the canonical string is a=1&b=2.
	want := "ec7fe6e1524630e1bbf333bf640bd5bcfddb27fe2d122f1832ee46be17fec9b7"
	assert.Equal(t, want, c.Sign(params))
	assert.Equal(t, want, c.Sign(params))
}

func TestSignedRequestFailsFastWithoutKeys(t *testing.T) {
	a := binance.NewAdapter(binance.ModeDemo, "", "", nil, binance.Options{})

	_, err := a.AccountOverview(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}

const accountBody = `{
	"totalInitialMargin": "12.5",
	"assets": [
		{"asset": "BNB", "walletBalance": "1"},
		{"asset": "USDT", "walletBalance": "1000.5", "availableBalance": "900", "unrealizedProfit": "-3.25"}
	],
	"positions": [
		{"symbol": "BTCUSDT", "positionAmt": "0.01", "entryPrice": "50000", "unrealizedProfit": "1.2"},
		{"symbol": "ETHUSDT", "positionAmt": "0", "entryPrice": "0", "unrealizedProfit": "0"}
	]
}`

func newTestServer(t *testing.T, accountCalls *atomic.Int64, skewOnFirst bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/time":
			fmt.Fprintf(w, `{"serverTime": %d}`, 1_700_000_000_000)
		case "/fapi/v2/account":
			n := accountCalls.Add(1)
			require.NotEmpty(t, r.URL.Query().Get("signature"))
			require.NotEmpty(t, r.URL.Query().Get("timestamp"))
			require.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
			if skewOnFirst && n == 1 {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"code": -1021, "msg": "Timestamp for this request is outside of the recvWindow."}`)
				return
			}
			fmt.Fprint(w, accountBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClockSkewResyncsAndRetriesOnce(t *testing.T) {
	var accountCalls atomic.Int64
	srv := newTestServer(t, &accountCalls, true)
	defer srv.Close()

	a := binance.NewAdapter(binance.ModeDemo, "key", "secret", nil,
		binance.Options{RestDemo: srv.URL})

	overview, err := a.AccountOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), accountCalls.Load(), "exactly one retry after resync")
	assert.InDelta(t, 1000.5, overview.BalanceUSDT, 1e-9)
	assert.InDelta(t, -3.25, overview.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 12.5, overview.MarginUsed, 1e-9)
}

func TestNonSkewErrorSurfacesWithoutRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fapi/v1/time" {
			fmt.Fprint(w, `{"serverTime": 1700000000000}`)
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code": -2019, "msg": "Margin is insufficient."}`)
	}))
	defer srv.Close()

	a := binance.NewAdapter(binance.ModeDemo, "key", "secret", nil,
		binance.Options{RestDemo: srv.URL})

	_, err := a.AccountOverview(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "non-skew errors must not retry")

	var apiErr *binance.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -2019, apiErr.Code)
	assert.False(t, apiErr.IsClockSkew())
}

func TestPositionsSkipsFlatEntries(t *testing.T) {
	var accountCalls atomic.Int64
	srv := newTestServer(t, &accountCalls, false)
	defer srv.Close()

	a := binance.NewAdapter(binance.ModeDemo, "key", "secret", nil,
		binance.Options{RestDemo: srv.URL})

	positions, err := a.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.InDelta(t, 0.01, positions[0].Qty, 1e-9)
}

func TestSymbolFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		fmt.Fprint(w, `{"symbols": [
			{"symbol": "BTCUSDT", "contractType": "PERPETUAL", "quoteAsset": "USDT", "status": "TRADING",
			 "filters": [
				{"filterType": "PRICE_FILTER", "tickSize": "0.10"},
				{"filterType": "LOT_SIZE", "stepSize": "0.001"},
				{"filterType": "MIN_NOTIONAL", "notional": "5"}
			 ]}
		]}`)
	}))
	defer srv.Close()

	a := binance.NewAdapter(binance.ModeDemo, "key", "secret", nil,
		binance.Options{RestDemo: srv.URL})

	filters, err := a.SymbolFilters(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	f := filters["BTCUSDT"]
	assert.Equal(t, 0.10, f.TickSize)
	assert.Equal(t, 0.001, f.StepSize)
	assert.Equal(t, 5.0, f.MinNotional)

	_, err = a.SymbolFilters(context.Background(), []string{"NOPEUSDT"})
	assert.ErrorIs(t, err, domain.ErrInvalidSymbol)
}

func TestTransportErrorIsRetriableNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // dead endpoint, requests fail at the transport

	a := binance.NewAdapter(binance.ModeDemo, "", "", nil,
		binance.Options{RestDemo: srv.URL})

	_, err := a.SyncTime(context.Background())
	require.Error(t, err)

	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "request", netErr.Op)
	assert.True(t, domain.IsRetriable(err))
}

func TestPlaceTestTradeSizesByQuoteValue(t *testing.T) {
	var orderQty string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/time":
			fmt.Fprint(w, `{"serverTime": 1700000000000}`)
		case "/fapi/v1/ticker/price":
			fmt.Fprint(w, `{"symbol": "BTCUSDT", "price": "50000"}`)
		case "/fapi/v1/order":
			require.Equal(t, "MARKET", r.URL.Query().Get("type"))
			require.NotEmpty(t, r.URL.Query().Get("signature"))
			orderQty = r.URL.Query().Get("quantity")
			fmt.Fprint(w, `{"orderId": 42, "status": "FILLED"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := binance.NewAdapter(binance.ModeDemo, "key", "secret", nil,
		binance.Options{RestDemo: srv.URL})

	result, err := a.PlaceTestTrade(context.Background(), "BTCUSDT", 100.0, domain.SideBuy)
	require.NoError(t, err)
	assert.Equal(t, "0.002000", orderQty, "100 USDT at 50000 is 0.002")
	assert.InDelta(t, 50000.0, result.EstimatedPrice, 1e-9)
	assert.InDelta(t, 0.002, result.Qty, 1e-9)
	assert.Equal(t, float64(42), result.Order["orderId"])
}

func TestCloseTestTradeFlattensWithReduceOnly(t *testing.T) {
	var orderQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/time":
			fmt.Fprint(w, `{"serverTime": 1700000000000}`)
		case "/fapi/v2/account":
			fmt.Fprint(w, accountBody)
		case "/fapi/v1/order":
			orderQuery = r.URL.Query()
			fmt.Fprint(w, `{"orderId": 7, "status": "FILLED"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := binance.NewAdapter(binance.ModeDemo, "key", "secret", nil,
		binance.Options{RestDemo: srv.URL})

	closed, err := a.CloseTestTrade(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	// The long 0.01 BTCUSDT position closes with a reduce-only sell.
	require.NotNil(t, orderQuery)
	assert.Equal(t, "SELL", orderQuery.Get("side"))
	assert.Equal(t, "true", orderQuery.Get("reduceOnly"))
	assert.Equal(t, "0.01", orderQuery.Get("quantity"))
}

func TestDiscoverSymbolsFiltersAndSplits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			fmt.Fprint(w, `{"symbols": [
				{"symbol": "BTCUSDT", "contractType": "PERPETUAL", "quoteAsset": "USDT", "status": "TRADING"},
				{"symbol": "ETHUSDT", "contractType": "PERPETUAL", "quoteAsset": "USDT", "status": "TRADING"},
				{"symbol": "SOLUSDT", "contractType": "PERPETUAL", "quoteAsset": "USDT", "status": "TRADING"},
				{"symbol": "DUSTUSDT", "contractType": "PERPETUAL", "quoteAsset": "USDT", "status": "TRADING"},
				{"symbol": "BTCUSDT_240628", "contractType": "CURRENT_QUARTER", "quoteAsset": "USDT", "status": "TRADING"},
				{"symbol": "HALTUSDT", "contractType": "PERPETUAL", "quoteAsset": "USDT", "status": "BREAK"}
			]}`)
		case "/fapi/v1/ticker/24hr":
			fmt.Fprint(w, `[
				{"symbol": "BTCUSDT", "quoteVolume": "9000000"},
				{"symbol": "ETHUSDT", "quoteVolume": "5000000"},
				{"symbol": "SOLUSDT", "quoteVolume": "2000000"},
				{"symbol": "DUSTUSDT", "quoteVolume": "100"}
			]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := binance.NewAdapter(binance.ModeDemo, "", "", nil,
		binance.Options{RestDemo: srv.URL})

	active, watchOnly, err := a.DiscoverSymbols(context.Background(), 1_000_000, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, active)
	assert.Equal(t, []string{"SOLUSDT"}, watchOnly)
}
