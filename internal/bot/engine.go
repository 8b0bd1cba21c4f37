// Package bot runs one trading engine per configured bot. An engine
// owns exactly one position slot (flat or long), its own gateway, and
// its own risk state; the only things shared between engines are the
// market streams and the kill-switch flags.
package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/events"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/killswitch"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/notify"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/risk"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/strategy"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/stream"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
)

// Position is the engine's single long slot.
type Position struct {
	TradeID    string
	Qty        float64
	EntryPrice float64
}

// Status is the heartbeat snapshot published on the event bus.
type Status struct {
	BotID       string  `json:"bot_id"`
	Owner       string  `json:"owner"`
	Symbol      string  `json:"symbol"`
	Halted      bool    `json:"halted"`
	HasPosition bool    `json:"has_position"`
	Qty         float64 `json:"qty"`
	EntryPrice  float64 `json:"entry_price"`
	LastPrice   float64 `json:"last_price"`
	PnL         float64 `json:"pnl"`
	PnLPct      float64 `json:"pnl_pct"`
	HighWater   float64 `json:"high_water"`
}

// TradeEvent is published on events.ChanTrade for every execution.
type TradeEvent struct {
	BotID  string  `json:"bot_id"`
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price"`
	Reason string  `json:"reason"`
}

// Deps wires an engine. Fills is optional: real-mode Binance bots feed
// it from the user data stream, paper bots leave it nil.
type Deps struct {
	Config   db.BotConfig
	Store    *db.Database
	Gateway  common.Gateway
	Strategy strategy.Strategy
	Guard    *killswitch.Guard
	Bus      *events.Bus
	Notifier notify.Notifier
	Fills    <-chan common.Fill

	HeartbeatInterval time.Duration
	PollInterval      time.Duration
}

// Engine drives one bot. Market ticks arrive serialized through
// HandleTick; everything touching the position goes through mu because
// the heartbeat and the fill reconciler run on their own goroutines.
type Engine struct {
	cfg      db.BotConfig
	store    *db.Database
	gateway  common.Gateway
	strat    strategy.Strategy
	risk     *risk.Evaluator
	guard    *killswitch.Guard
	bus      *events.Bus
	notifier notify.Notifier
	fills    <-chan common.Fill

	heartbeatEvery time.Duration
	pollEvery      time.Duration

	mu        sync.Mutex
	pos       *Position
	lastPrice float64
	inflight  map[string]orderIntent
	halted    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine and recovers any position left open in storage.
// Recovery only reads: no orders are placed, the trade row is restored
// as-is and risk tracking re-arms at the original entry price.
func New(ctx context.Context, deps Deps) (*Engine, error) {
	e := &Engine{
		cfg:      deps.Config,
		store:    deps.Store,
		gateway:  deps.Gateway,
		strat:    deps.Strategy,
		guard:    deps.Guard,
		bus:      deps.Bus,
		notifier: deps.Notifier,
		fills:    deps.Fills,
		risk: risk.NewEvaluator(risk.Params{
			StopLossPct:     deps.Config.StopLossPct,
			Tiers:           riskTiers(deps.Config.TakeProfits),
			TrailingEnabled: deps.Config.TrailingEnabled,
			TrailingPct:     deps.Config.TrailingPct,
		}),
		heartbeatEvery: deps.HeartbeatInterval,
		pollEvery:      deps.PollInterval,
		inflight:       make(map[string]orderIntent),
	}

	trade, err := e.store.LastOpenTrade(ctx, e.cfg.ID)
	switch {
	case err == nil:
		e.pos = &Position{TradeID: trade.ID, Qty: trade.Qty, EntryPrice: trade.EntryPrice}
		e.risk.Arm(trade.EntryPrice)
		log.Printf("bot %s: recovered open position %s qty=%.8f entry=%.8f",
			e.cfg.ID, trade.ID, trade.Qty, trade.EntryPrice)
	case errors.Is(err, db.ErrNotFound):
		// Fresh start, nothing to restore.
	default:
		return nil, err
	}
	return e, nil
}

func riskTiers(tiers []db.TakeProfitTier) []risk.Tier {
	out := make([]risk.Tier, len(tiers))
	for i, t := range tiers {
		out[i] = risk.Tier{TargetPct: t.TargetPct, AmountPct: t.AmountPct}
	}
	return out
}

// ID implements stream.Subscriber.
func (e *Engine) ID() string { return e.cfg.ID }

// Start launches the background tasks. Ticks start flowing once the
// manager attaches the engine to its stream.
func (e *Engine) Start() {
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if e.heartbeatEvery > 0 {
		e.wg.Add(1)
		go e.heartbeatLoop()
	}
	if e.fills != nil {
		e.wg.Add(1)
		go e.reconcileLoop()
	}
	if e.pollEvery > 0 {
		e.wg.Add(1)
		go e.pollLoop()
	}
	log.Printf("bot %s: started (%s %s@%s, strategy=%s, paper=%v)",
		e.cfg.ID, e.cfg.Exchange, e.cfg.Symbol, e.cfg.Interval, e.strat.Name(), e.cfg.Paper)
}

// Stop halts background tasks. The open position, if any, is left
// untouched so it can be recovered on the next start.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	log.Printf("bot %s: stopped", e.cfg.ID)
}

// HandleTick implements stream.Subscriber. The stream delivers ticks on
// a dedicated goroutine, so ticks are already serialized per engine.
func (e *Engine) HandleTick(t stream.Tick) {
	if e.ctx == nil || e.ctx.Err() != nil {
		return
	}
	e.onPrice(e.ctx, t.Price)
}

// onPrice is the whole decision path for one price update, in strict
// order: kill-switch, risk exits, then strategy entries/exits.
func (e *Engine) onPrice(ctx context.Context, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPrice = price

	if e.halted {
		return
	}
	if e.guard.ShouldHalt(ctx, e.cfg.Owner) {
		e.haltLocked(ctx, price)
		return
	}

	if e.pos != nil {
		for _, action := range e.risk.Evaluate(e.pos.EntryPrice, price) {
			if e.pos == nil {
				break
			}
			fraction := action.Fraction
			if action.Kind == risk.ActionClose {
				fraction = 1.0
			}
			e.bus.Publish(events.ChanRiskAlert, TradeEvent{
				BotID: e.cfg.ID, Symbol: e.cfg.Symbol, Side: string(common.SideSell),
				Qty: e.pos.Qty * fraction, Price: price, Reason: action.Reason,
			})
			e.closeLocked(ctx, price, fraction, action.Reason)
		}
	}

	sig := e.strat.OnTick(price)
	if sig == nil {
		return
	}
	switch {
	case sig.Action == strategy.ActionBuy && e.pos == nil:
		e.openLocked(ctx, price, sig.Note)
	case sig.Action == strategy.ActionSell && e.pos != nil:
		e.closeLocked(ctx, price, 1.0, sig.Note)
	}
}

// haltLocked is the kill-switch response: cancel whatever rests on the
// venue, flatten the position, and refuse all further trading until the
// bot is explicitly restarted.
func (e *Engine) haltLocked(ctx context.Context, price float64) {
	log.Printf("bot %s: kill-switch tripped, flattening", e.cfg.ID)
	if err := e.gateway.CancelOpenOrders(ctx, e.cfg.Symbol); err != nil {
		log.Printf("bot %s: cancel open orders: %v", e.cfg.ID, err)
	}
	if e.pos != nil {
		e.closeLocked(ctx, price, 1.0, "kill-switch")
	}
	e.halted = true
	e.bus.Publish(events.ChanKillSwitch, Status{BotID: e.cfg.ID, Owner: e.cfg.Owner, Halted: true})
	e.notifier.Send(ctx, e.cfg.Owner, "kill-switch: bot "+e.cfg.ID+" halted and flattened")
}

// Halted reports whether the kill-switch has frozen this engine.
func (e *Engine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Snapshot builds the current status for the heartbeat and the API.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		BotID:     e.cfg.ID,
		Owner:     e.cfg.Owner,
		Symbol:    e.cfg.Symbol,
		Halted:    e.halted,
		LastPrice: e.lastPrice,
		HighWater: e.risk.HighWater(),
	}
	if e.pos != nil {
		s.HasPosition = true
		s.Qty = e.pos.Qty
		s.EntryPrice = e.pos.EntryPrice
		if e.lastPrice > 0 && e.pos.EntryPrice > 0 {
			s.PnL = (e.lastPrice - e.pos.EntryPrice) * e.pos.Qty
			s.PnLPct = (e.lastPrice/e.pos.EntryPrice - 1) * 100
		}
	}
	return s
}

func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.bus.Publish(events.ChanBotStatus, e.Snapshot())
			// Quiet markets still honor the kill-switch promptly.
			e.mu.Lock()
			if !e.halted && e.guard.ShouldHalt(e.ctx, e.cfg.Owner) {
				e.haltLocked(e.ctx, e.lastPrice)
			}
			e.mu.Unlock()
		}
	}
}

// pollLoop is the REST fallback for venues whose stream is flaky: it
// synthesizes price ticks from the gateway's ticker endpoint.
func (e *Engine) pollLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			price, err := e.gateway.Price(e.ctx, e.cfg.Symbol)
			if err != nil {
				log.Printf("bot %s: price poll: %v", e.cfg.ID, err)
				continue
			}
			e.onPrice(e.ctx, price)
		}
	}
}
