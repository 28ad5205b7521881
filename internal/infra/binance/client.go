package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/danmodyrko/trading-bot-test/internal/domain"
)

const clockSkewCode = -1021

// APIError is a non-2xx response from the exchange, carrying the numeric
// error code from the JSON body when present.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// IsClockSkew reports whether the error is the exchange's timestamp-desync
// rejection, the one failure the adapter retries after a clock resync.
func (e *APIError) IsClockSkew() bool {
	return e.Code == clockSkewCode
}

// Client is a minimal signed REST client for the USDT-M futures API.
// Signing covers the canonical encoded query string with HMAC-SHA256.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	offsetMs  int64
	http      *http.Client
}

// NewClient builds a REST client for one base URL. Keys may be empty for
// unsigned requests.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL switches the target environment.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// SetTimeOffset stores the server-minus-local clock offset applied to
// every signed timestamp.
func (c *Client) SetTimeOffset(offsetMs int64) {
	c.offsetMs = offsetMs
}

// Sign returns the hex HMAC-SHA256 of the canonical query string.
func (c *Client) Sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Get performs a GET request. Signed requests get timestamp, recvWindow
// and signature parameters appended.
func (c *Client) Get(ctx context.Context, path string, params url.Values, signed bool, recvWindowMs int64) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, signed, recvWindowMs)
}

// Post performs a POST request with parameters in the query string, the
// form the futures order endpoint accepts.
func (c *Client) Post(ctx context.Context, path string, params url.Values, signed bool, recvWindowMs int64) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, params, signed, recvWindowMs)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, recvWindowMs int64) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		ts := time.Now().UnixMilli() + c.offsetMs
		params.Set("timestamp", strconv.FormatInt(ts, 10))
		if recvWindowMs > 0 {
			params.Set("recvWindow", strconv.FormatInt(recvWindowMs, 10))
		}
		params.Set("signature", c.Sign(params))
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, domain.NewFatalNetworkError("request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Msg: string(body)}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		if payload.Msg != "" {
			apiErr.Msg = payload.Msg
		}
	}
	return apiErr
}
