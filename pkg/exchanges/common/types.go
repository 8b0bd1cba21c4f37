package common

import (
	"errors"
	"strings"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types. The core trades with market
// orders; limit support exists for resting exits.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Sentinel errors shared by all gateway implementations.
var (
	// ErrInsufficientFunds means the pre-trade balance check (or the
	// exchange itself) refused the order for lack of funds.
	ErrInsufficientFunds = errors.New("exchange: insufficient funds")
	// ErrOrderRejected means the exchange declined the order.
	ErrOrderRejected = errors.New("exchange: order rejected")
)

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Qty      float64
	Price    float64 // required for LIMIT; reference price for paper fills
	ClientID string  // optional client order id
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
	ExecutedQty     float64
	AvgPrice        float64
}

// Fill is one execution report from a private stream.
type Fill struct {
	ExchangeOrderID string
	ClientID        string
	Symbol          string
	Side            Side
	Qty             float64 // quantity of this fill, not cumulative
	Price           float64
	CumQty          float64
	Status          OrderStatus
}

// Balance is one asset's account balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Precision describes rounding rules for one symbol.
type Precision struct {
	QtyDecimals   int
	PriceDecimals int
}

// SplitSymbol breaks a pair like BTCUSDT or BTC-USDT into base/quote.
// Suffix matching covers the common quote currencies; dashed symbols
// (KuCoin style) split exactly.
func SplitSymbol(symbol string) (base, quote string) {
	s := strings.ToUpper(symbol)
	if i := strings.Index(s, "-"); i > 0 {
		return s[:i], s[i+1:]
	}
	for _, q := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "EUR"} {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	return s, "USDT"
}
