// Package paper is a deterministic simulated gateway. Orders fill
// synchronously at the request price against in-memory balances; no
// network calls are ever made.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
)

// Gateway simulates a spot venue for one symbol pair.
type Gateway struct {
	mu       sync.Mutex
	balances map[string]float64
	fills    []common.Fill
}

// New creates a paper gateway holding initialQuote of quoteAsset.
func New(quoteAsset string, initialQuote float64) *Gateway {
	return &Gateway{
		balances: map[string]float64{strings.ToUpper(quoteAsset): initialQuote},
	}
}

// Deposit credits an asset balance (test setup, airdropped fee drift).
func (g *Gateway) Deposit(asset string, amount float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[strings.ToUpper(asset)] += amount
}

// SubmitOrder fills immediately at req.Price. Buys debit quote and
// credit base; sells do the reverse. Insufficient balances reject the
// order with no mutation, mirroring a live venue.
func (g *Gateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if req.Qty <= 0 || req.Price <= 0 {
		return common.OrderResult{}, fmt.Errorf("%w: qty and price must be positive", common.ErrOrderRejected)
	}
	base, quote := common.SplitSymbol(req.Symbol)

	g.mu.Lock()
	defer g.mu.Unlock()

	cost := req.Qty * req.Price
	switch req.Side {
	case common.SideBuy:
		if g.balances[quote] < cost {
			return common.OrderResult{}, common.ErrInsufficientFunds
		}
		g.balances[quote] -= cost
		g.balances[base] += req.Qty
	case common.SideSell:
		if g.balances[base] < req.Qty {
			return common.OrderResult{}, common.ErrInsufficientFunds
		}
		g.balances[base] -= req.Qty
		g.balances[quote] += cost
	default:
		return common.OrderResult{}, fmt.Errorf("%w: unknown side %q", common.ErrOrderRejected, req.Side)
	}

	id := uuid.NewString()
	g.fills = append(g.fills, common.Fill{
		ExchangeOrderID: id,
		ClientID:        req.ClientID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Qty:             req.Qty,
		Price:           req.Price,
		CumQty:          req.Qty,
		Status:          common.StatusFilled,
	})
	return common.OrderResult{
		ExchangeOrderID: id,
		Status:          common.StatusFilled,
		ClientID:        req.ClientID,
		ExecutedQty:     req.Qty,
		AvgPrice:        req.Price,
	}, nil
}

// CancelOrder is a no-op: paper orders never rest.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	return nil
}

// CancelOpenOrders is a no-op: paper orders never rest.
func (g *Gateway) CancelOpenOrders(ctx context.Context, symbol string) error {
	return nil
}

func (g *Gateway) Balance(ctx context.Context, asset string) (common.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return common.Balance{Asset: asset, Free: g.balances[strings.ToUpper(asset)]}, nil
}

// Price is unsupported: paper engines price from their market stream.
func (g *Gateway) Price(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("paper: no price source for %s", symbol)
}

func (g *Gateway) SymbolPrecision(ctx context.Context, symbol string) (common.Precision, error) {
	return common.Precision{QtyDecimals: 8, PriceDecimals: 8}, nil
}

// Fills returns every simulated execution, oldest first.
func (g *Gateway) Fills() []common.Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]common.Fill, len(g.fills))
	copy(out, g.fills)
	return out
}
