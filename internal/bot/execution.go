package bot

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/events"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
)

// fullCloseThreshold treats fractions this close to 1 as a full exit.
const fullCloseThreshold = 0.999

// orderIntent is what the engine believed it submitted, kept until the
// user stream confirms or corrects it.
type orderIntent struct {
	side  common.Side
	qty   float64
	price float64
}

// openLocked enters a long position at the current price. State is
// updated optimistically from the submit response; a rejected or
// unfunded order changes nothing. Caller holds e.mu.
func (e *Engine) openLocked(ctx context.Context, price float64, reason string) {
	qty := e.cfg.SizeValue
	if e.cfg.SizeUnit == db.SizeUnitQuote {
		qty = e.cfg.SizeValue / price
	}

	prec, err := e.gateway.SymbolPrecision(ctx, e.cfg.Symbol)
	if err != nil {
		log.Printf("bot %s: symbol precision: %v", e.cfg.ID, err)
		return
	}
	qty = common.RoundDown(qty, prec.QtyDecimals)
	if qty <= 0 {
		log.Printf("bot %s: computed qty rounds to zero at price %.8f", e.cfg.ID, price)
		return
	}

	// Pre-trade funds check: an underfunded entry is skipped outright,
	// never partially attempted.
	_, quote := common.SplitSymbol(e.cfg.Symbol)
	if bal, err := e.gateway.Balance(ctx, quote); err == nil && bal.Free < qty*price {
		log.Printf("bot %s: skipping entry, %s balance %.8f < needed %.8f",
			e.cfg.ID, quote, bal.Free, qty*price)
		e.notifier.Send(ctx, e.cfg.Owner, fmt.Sprintf("bot %s: entry skipped, insufficient %s", e.cfg.ID, quote))
		return
	}

	clientID := uuid.NewString()
	e.inflight[clientID] = orderIntent{side: common.SideBuy, qty: qty, price: price}

	res, err := e.gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol:   e.cfg.Symbol,
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		Qty:      qty,
		Price:    price,
		ClientID: clientID,
	})
	if err != nil {
		delete(e.inflight, clientID)
		// Rejections mutate nothing; the engine just waits for the
		// next signal.
		log.Printf("bot %s: entry submit: %v", e.cfg.ID, err)
		return
	}

	executed := res.ExecutedQty
	if executed <= 0 {
		executed = qty
	}
	entry := res.AvgPrice
	if entry <= 0 {
		entry = price
	}
	if e.fills == nil {
		// No user stream to confirm against (paper mode).
		delete(e.inflight, clientID)
	} else {
		// The order stays inflight until the stream echoes it; record
		// what was applied so the echo corrects rather than re-applies.
		e.inflight[clientID] = orderIntent{side: common.SideBuy, qty: executed, price: entry}
	}

	trade := db.Trade{
		ID:         uuid.NewString(),
		BotID:      e.cfg.ID,
		Symbol:     e.cfg.Symbol,
		Qty:        executed,
		EntryPrice: entry,
	}
	e.pos = &Position{TradeID: trade.ID, Qty: executed, EntryPrice: entry}
	e.risk.Arm(entry)

	if err := e.store.InsertOpenTrade(ctx, trade); err != nil {
		log.Printf("bot %s: persist open trade: %v", e.cfg.ID, err)
	}
	e.bus.Publish(events.ChanTrade, TradeEvent{
		BotID: e.cfg.ID, Symbol: e.cfg.Symbol, Side: string(common.SideBuy),
		Qty: executed, Price: entry, Reason: reason,
	})
	e.notifier.Send(ctx, e.cfg.Owner,
		fmt.Sprintf("bot %s: opened %s qty=%.8f @ %.8f (%s)", e.cfg.ID, e.cfg.Symbol, executed, entry, reason))
	log.Printf("bot %s: opened qty=%.8f entry=%.8f (%s)", e.cfg.ID, executed, entry, reason)
}

// closeLocked exits fraction of the current position. A near-100% exit
// sells the live base balance rather than the tracked quantity, so fee
// drift never strands dust or oversells. Caller holds e.mu.
func (e *Engine) closeLocked(ctx context.Context, price, fraction float64, reason string) {
	if e.pos == nil {
		return
	}
	full := fraction >= fullCloseThreshold

	qty := e.pos.Qty * fraction
	base, _ := common.SplitSymbol(e.cfg.Symbol)
	if full {
		if bal, err := e.gateway.Balance(ctx, base); err == nil && bal.Free > 0 && bal.Free < qty {
			qty = bal.Free
		}
	} else if bal, err := e.gateway.Balance(ctx, base); err == nil && bal.Free < qty {
		// Partial exits get the same pre-trade check as entries: an
		// unfundable exit is skipped outright, never partially attempted.
		log.Printf("bot %s: skipping exit, %s balance %.8f < needed %.8f",
			e.cfg.ID, base, bal.Free, qty)
		return
	}

	prec, err := e.gateway.SymbolPrecision(ctx, e.cfg.Symbol)
	if err != nil {
		log.Printf("bot %s: symbol precision: %v", e.cfg.ID, err)
		return
	}
	qty = common.RoundDown(qty, prec.QtyDecimals)
	if qty <= 0 {
		log.Printf("bot %s: exit qty rounds to zero (fraction %.4f)", e.cfg.ID, fraction)
		return
	}

	clientID := uuid.NewString()
	e.inflight[clientID] = orderIntent{side: common.SideSell, qty: qty, price: price}

	res, err := e.gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol:   e.cfg.Symbol,
		Side:     common.SideSell,
		Type:     common.OrderTypeMarket,
		Qty:      qty,
		Price:    price,
		ClientID: clientID,
	})
	if err != nil {
		delete(e.inflight, clientID)
		log.Printf("bot %s: exit submit: %v", e.cfg.ID, err)
		return
	}

	executed := res.ExecutedQty
	if executed <= 0 {
		executed = qty
	}
	exit := res.AvgPrice
	if exit <= 0 {
		exit = price
	}
	if e.fills == nil {
		delete(e.inflight, clientID)
	} else {
		e.inflight[clientID] = orderIntent{side: common.SideSell, qty: executed, price: exit}
	}

	e.bus.Publish(events.ChanTrade, TradeEvent{
		BotID: e.cfg.ID, Symbol: e.cfg.Symbol, Side: string(common.SideSell),
		Qty: executed, Price: exit, Reason: reason,
	})

	if full || executed >= e.pos.Qty*fullCloseThreshold {
		pnl := (exit - e.pos.EntryPrice) * executed
		if err := e.store.CloseTrade(ctx, e.pos.TradeID, exit, pnl); err != nil {
			log.Printf("bot %s: persist close: %v", e.cfg.ID, err)
		}
		e.notifier.Send(ctx, e.cfg.Owner,
			fmt.Sprintf("bot %s: closed %s qty=%.8f @ %.8f pnl=%.8f (%s)",
				e.cfg.ID, e.cfg.Symbol, executed, exit, pnl, reason))
		log.Printf("bot %s: closed qty=%.8f exit=%.8f pnl=%.8f (%s)", e.cfg.ID, executed, exit, pnl, reason)
		e.pos = nil
		e.risk.Disarm()
		return
	}

	e.pos.Qty -= executed
	if err := e.store.UpdateTradeQty(ctx, e.pos.TradeID, e.pos.Qty); err != nil {
		log.Printf("bot %s: persist partial close: %v", e.cfg.ID, err)
	}
	log.Printf("bot %s: partial close qty=%.8f remaining=%.8f (%s)", e.cfg.ID, executed, e.pos.Qty, reason)
}
