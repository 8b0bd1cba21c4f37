// Package binance implements the Gateway contract against Binance spot.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
)

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client is a Binance spot trading client.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter

	precMu    sync.RWMutex
	precision map[string]common.Precision
}

// New builds a client; Testnet switches base URLs.
func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		precision:  make(map[string]common.Precision),
	}
	c.timeSync = common.NewTimeSync(func() (int64, error) {
		return c.ServerTime()
	})
	// 1200 weight/min for spot.
	c.rateLimiter = common.NewRateLimiter(1200, time.Minute)
	return c
}

// ServerTime fetches Binance server time in milliseconds.
func (c *Client) ServerTime() (int64, error) {
	res, err := c.httpClient.Get(c.baseURL + "/api/v3/time")
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("binance: API key/secret required")
	}

	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeMarket
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(ordType)))
	params.Set("quantity", formatFloat(req.Qty))
	if ordType == common.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	params.Set("newOrderRespType", "RESULT")
	c.stampAndWindow(params)

	body, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/api/v3/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		CumQuoteQty   string `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}

	executed := toFloat(resp.ExecutedQty)
	avgPrice := 0.0
	if executed > 0 {
		avgPrice = toFloat(resp.CumQuoteQty) / executed
	}
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
		ExecutedQty:     executed,
		AvgPrice:        avgPrice,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	if exchangeOrderID != "" {
		params.Set("orderId", exchangeOrderID)
	}
	c.stampAndWindow(params)
	_, err := c.doSigned(ctx, http.MethodDelete, c.baseURL+"/api/v3/order", params)
	return err
}

// CancelOpenOrders cancels all open orders for a symbol. Binance answers
// 400 when there is nothing to cancel; that counts as success here.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	c.stampAndWindow(params)
	_, err := c.doSigned(ctx, http.MethodDelete, c.baseURL+"/api/v3/openOrders", params)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == -2011 { // Unknown order sent
			return nil
		}
		return err
	}
	return nil
}

// Balance returns the account balance for one asset.
func (c *Client) Balance(ctx context.Context, asset string) (common.Balance, error) {
	params := url.Values{}
	c.stampAndWindow(params)
	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/api/v3/account", params)
	if err != nil {
		return common.Balance{}, err
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Balance{}, fmt.Errorf("decode account: %w", err)
	}
	for _, b := range resp.Balances {
		if b.Asset == asset {
			return common.Balance{Asset: asset, Free: toFloat(b.Free), Locked: toFloat(b.Locked)}, nil
		}
	}
	return common.Balance{Asset: asset}, nil
}

// Price returns the latest traded price for a symbol.
func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return 0, fmt.Errorf("binance ticker status %d: %s", res.StatusCode, string(body))
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return toFloat(resp.Price), nil
}

// SymbolPrecision resolves LOT_SIZE/PRICE_FILTER rounding for a symbol,
// cached after the first lookup.
func (c *Client) SymbolPrecision(ctx context.Context, symbol string) (common.Precision, error) {
	c.precMu.RLock()
	if p, ok := c.precision[symbol]; ok {
		c.precMu.RUnlock()
		return p, nil
	}
	c.precMu.RUnlock()

	u := fmt.Sprintf("%s/api/v3/exchangeInfo?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return common.Precision{}, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return common.Precision{}, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return common.Precision{}, fmt.Errorf("binance exchangeInfo status %d: %s", res.StatusCode, string(body))
	}

	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
				TickSize   string `json:"tickSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Precision{}, fmt.Errorf("decode exchangeInfo: %w", err)
	}

	p := common.Precision{QtyDecimals: 8, PriceDecimals: 8}
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				p.QtyDecimals = stepDecimals(f.StepSize)
			case "PRICE_FILTER":
				p.PriceDecimals = stepDecimals(f.TickSize)
			}
		}
	}

	c.precMu.Lock()
	c.precision[symbol] = p
	c.precMu.Unlock()
	return p, nil
}

// apiError is a decoded Binance error payload.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Msg)
}

func (c *Client) stampAndWindow(params url.Values) {
	timestamp := time.Now().UnixMilli()
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		timestamp = c.timeSync.Now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
}

// doSigned signs the query and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			// -2010 covers NEW_ORDER_REJECTED / insufficient balance.
			if apiErr.Code == -2010 && strings.Contains(strings.ToLower(apiErr.Msg), "insufficient") {
				return nil, fmt.Errorf("%w: %s", common.ErrInsufficientFunds, apiErr.Msg)
			}
			if apiErr.Code == -2010 || apiErr.Code == -1013 || apiErr.Code == -2011 {
				return nil, fmt.Errorf("%w: %w", common.ErrOrderRejected, &apiErr)
			}
			return nil, &apiErr
		}
		return nil, fmt.Errorf("binance %s status %d: %s", endpoint, res.StatusCode, string(body))
	}
	return body, nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func stepDecimals(step string) int {
	// "0.00100000" -> 3, "1.00000000" -> 0
	f := toFloat(step)
	if f <= 0 {
		return 8
	}
	decimals := 0
	for f < 1 && decimals < 8 {
		f *= 10
		decimals++
	}
	return decimals
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusCanceled
	default:
		return common.StatusUnknown
	}
}
