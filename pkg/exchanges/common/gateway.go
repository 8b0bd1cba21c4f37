package common

import (
	"context"
	"math"
)

// Gateway abstracts a trading venue. Each engine exclusively owns its
// authenticated Gateway; gateways are never shared across engines.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	CancelOpenOrders(ctx context.Context, symbol string) error
	Balance(ctx context.Context, asset string) (Balance, error)
	Price(ctx context.Context, symbol string) (float64, error)
	SymbolPrecision(ctx context.Context, symbol string) (Precision, error)
}

// RoundDown truncates v to the given number of decimals. Quantities are
// always rounded toward zero so an order never exceeds available funds.
func RoundDown(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Trunc(v*p) / p
}
