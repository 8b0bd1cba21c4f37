package bot

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
)

// reconcileLoop drains the user data stream. The stream is the source
// of truth: whatever it reports overrides the optimistic state the
// engine wrote at submit time.
func (e *Engine) reconcileLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case fill, ok := <-e.fills:
			if !ok {
				return
			}
			e.applyFill(e.ctx, fill)
		}
	}
}

// applyFill folds one execution report into engine state. Fills whose
// client id matches an inflight order correct that order's optimistic
// numbers; unknown fills (orders placed before a restart, manual trades
// on the same account key) are applied as-is.
func (e *Engine) applyFill(ctx context.Context, f common.Fill) {
	if f.Symbol != "" && f.Symbol != e.cfg.Symbol {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	intent, known := e.inflight[f.ClientID]
	if known && terminalStatus(f.Status) {
		delete(e.inflight, f.ClientID)
	}
	if f.Status != common.StatusFilled && f.Status != common.StatusPartial {
		return
	}

	switch f.Side {
	case common.SideBuy:
		e.reconcileBuyLocked(ctx, f, known)
	case common.SideSell:
		e.reconcileSellLocked(ctx, f, intent, known)
	}
}

func (e *Engine) reconcileBuyLocked(ctx context.Context, f common.Fill, known bool) {
	qty := f.CumQty
	if qty <= 0 {
		qty = f.Qty
	}

	if e.pos != nil {
		if known {
			// Correct the optimistic entry with executed reality.
			if qty > 0 && (qty != e.pos.Qty || (f.Price > 0 && f.Price != e.pos.EntryPrice)) {
				log.Printf("bot %s: stream corrected entry qty %.8f->%.8f price %.8f->%.8f",
					e.cfg.ID, e.pos.Qty, qty, e.pos.EntryPrice, f.Price)
				e.pos.Qty = qty
				if f.Price > 0 {
					e.pos.EntryPrice = f.Price
					e.risk.Arm(f.Price)
				}
				if err := e.store.UpdateTradeQty(ctx, e.pos.TradeID, e.pos.Qty); err != nil {
					log.Printf("bot %s: persist stream correction: %v", e.cfg.ID, err)
				}
			}
			return
		}
		// Unknown buy while long: additional fills grow the position.
		e.pos.Qty += f.Qty
		if err := e.store.UpdateTradeQty(ctx, e.pos.TradeID, e.pos.Qty); err != nil {
			log.Printf("bot %s: persist stream correction: %v", e.cfg.ID, err)
		}
		return
	}

	// Flat but the venue says we bought: adopt the position.
	log.Printf("bot %s: stream reported buy while flat, adopting qty=%.8f @ %.8f", e.cfg.ID, qty, f.Price)
	trade := db.Trade{
		ID:         uuid.NewString(),
		BotID:      e.cfg.ID,
		Symbol:     e.cfg.Symbol,
		Qty:        qty,
		EntryPrice: f.Price,
	}
	e.pos = &Position{TradeID: trade.ID, Qty: qty, EntryPrice: f.Price}
	e.risk.Arm(f.Price)
	if err := e.store.InsertOpenTrade(ctx, trade); err != nil {
		log.Printf("bot %s: persist adopted trade: %v", e.cfg.ID, err)
	}
}

func (e *Engine) reconcileSellLocked(ctx context.Context, f common.Fill, intent orderIntent, known bool) {
	if e.pos == nil {
		// Nothing tracked; the engine already closed on the optimistic
		// path or the sell belongs to another actor on the account.
		return
	}

	sold := f.CumQty
	if sold <= 0 {
		sold = f.Qty
	}
	if sold <= 0 {
		return
	}

	if known {
		// The optimistic path already subtracted intent.qty for this
		// order; only the difference to the executed total is news.
		diff := sold - intent.qty
		if diff == 0 {
			return
		}
		log.Printf("bot %s: stream corrected exit qty %.8f->%.8f", e.cfg.ID, intent.qty, sold)
		if it, still := e.inflight[f.ClientID]; still {
			it.qty = sold
			e.inflight[f.ClientID] = it
		}
		e.pos.Qty -= diff
		if e.pos.Qty <= 0 {
			pnl := (f.Price - e.pos.EntryPrice) * sold
			if err := e.store.CloseTrade(ctx, e.pos.TradeID, f.Price, pnl); err != nil {
				log.Printf("bot %s: persist stream close: %v", e.cfg.ID, err)
			}
			e.pos = nil
			e.risk.Disarm()
			return
		}
		if err := e.store.UpdateTradeQty(ctx, e.pos.TradeID, e.pos.Qty); err != nil {
			log.Printf("bot %s: persist stream correction: %v", e.cfg.ID, err)
		}
		return
	}

	if sold >= e.pos.Qty*fullCloseThreshold {
		pnl := (f.Price - e.pos.EntryPrice) * e.pos.Qty
		log.Printf("bot %s: stream closed position qty=%.8f @ %.8f", e.cfg.ID, e.pos.Qty, f.Price)
		if err := e.store.CloseTrade(ctx, e.pos.TradeID, f.Price, pnl); err != nil {
			log.Printf("bot %s: persist stream close: %v", e.cfg.ID, err)
		}
		e.pos = nil
		e.risk.Disarm()
		return
	}

	e.pos.Qty -= sold
	if err := e.store.UpdateTradeQty(ctx, e.pos.TradeID, e.pos.Qty); err != nil {
		log.Printf("bot %s: persist stream correction: %v", e.cfg.ID, err)
	}
}

func terminalStatus(s common.OrderStatus) bool {
	return s == common.StatusFilled || s == common.StatusCanceled || s == common.StatusRejected
}
