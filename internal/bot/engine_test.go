package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/events"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/killswitch"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/notify"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/strategy"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/paper"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "bots.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.ApplyMigrations(d); err != nil {
		t.Fatal(err)
	}
	return d
}

// scriptedStrategy emits a fixed sequence of signals, one per tick.
type scriptedStrategy struct {
	signals []*strategy.Signal
	i       int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) OnTick(price float64) *strategy.Signal {
	if s.i >= len(s.signals) {
		return nil
	}
	sig := s.signals[s.i]
	s.i++
	return sig
}

// countingGateway wraps the paper gateway and counts order submissions.
type countingGateway struct {
	*paper.Gateway
	submits atomic.Int32
}

func (g *countingGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	g.submits.Add(1)
	return g.Gateway.SubmitOrder(ctx, req)
}

func testConfig(id, owner string) db.BotConfig {
	return db.BotConfig{
		ID:        id,
		Owner:     owner,
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Interval:  "1m",
		Strategy:  "scripted",
		SizeValue: 1000,
		SizeUnit:  db.SizeUnitQuote,
		Paper:     true,
	}
}

type engineFixture struct {
	engine  *Engine
	gateway *countingGateway
	store   *db.Database
	guard   *killswitch.Guard
	flags   *killswitch.MemStore
}

func newFixture(t *testing.T, cfg db.BotConfig, signals []*strategy.Signal) *engineFixture {
	t.Helper()
	store := newTestDB(t)
	return newFixtureWithStore(t, store, cfg, signals)
}

func newFixtureWithStore(t *testing.T, store *db.Database, cfg db.BotConfig, signals []*strategy.Signal) *engineFixture {
	t.Helper()
	gw := &countingGateway{Gateway: paper.New("USDT", 10_000)}
	flags := killswitch.NewMemStore()
	guard := killswitch.NewGuard(flags)

	e, err := New(context.Background(), Deps{
		Config:   cfg,
		Store:    store,
		Gateway:  gw,
		Strategy: &scriptedStrategy{signals: signals},
		Guard:    guard,
		Bus:      events.NewBus(),
		Notifier: notify.LogNotifier{},
	})
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	t.Cleanup(e.Stop)
	return &engineFixture{engine: e, gateway: gw, store: store, guard: guard, flags: flags}
}

// newReconcilingFixture wires a fills channel, as live engines have, so
// submitted orders stay inflight until a stream echo confirms them.
func newReconcilingFixture(t *testing.T, cfg db.BotConfig, signals []*strategy.Signal) *engineFixture {
	t.Helper()
	store := newTestDB(t)
	gw := &countingGateway{Gateway: paper.New("USDT", 10_000)}
	flags := killswitch.NewMemStore()
	guard := killswitch.NewGuard(flags)

	e, err := New(context.Background(), Deps{
		Config:   cfg,
		Store:    store,
		Gateway:  gw,
		Strategy: &scriptedStrategy{signals: signals},
		Guard:    guard,
		Bus:      events.NewBus(),
		Notifier: notify.LogNotifier{},
		Fills:    make(chan common.Fill),
	})
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	t.Cleanup(e.Stop)
	return &engineFixture{engine: e, gateway: gw, store: store, guard: guard, flags: flags}
}

// soleInflight returns the only unconfirmed order for side.
func (f *engineFixture) soleInflight(t *testing.T, side common.Side) (string, orderIntent) {
	t.Helper()
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	for id, it := range f.engine.inflight {
		if it.side == side {
			return id, it
		}
	}
	t.Fatalf("no inflight %s order", side)
	return "", orderIntent{}
}

func (f *engineFixture) inflightCount() int {
	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	return len(f.engine.inflight)
}

func buy() *strategy.Signal  { return &strategy.Signal{Action: strategy.ActionBuy, Note: "test"} }
func sell() *strategy.Signal { return &strategy.Signal{Action: strategy.ActionSell, Note: "test"} }

func (f *engineFixture) tick(price float64) {
	f.engine.onPrice(context.Background(), price)
}

func TestOpenOnBuySignal(t *testing.T) {
	f := newFixture(t, testConfig("bot-1", "alice"), []*strategy.Signal{buy()})

	f.tick(100)

	s := f.engine.Snapshot()
	if !s.HasPosition {
		t.Fatal("expected a position after BUY signal")
	}
	if s.EntryPrice != 100 || s.Qty != 10 { // 1000 USDT at price 100
		t.Fatalf("position qty=%v entry=%v, want 10 @ 100", s.Qty, s.EntryPrice)
	}

	// The trade row is persisted OPEN immediately.
	trade, err := f.store.LastOpenTrade(context.Background(), "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if trade.Qty != 10 || trade.EntryPrice != 100 {
		t.Fatalf("persisted trade %+v", trade)
	}
}

func TestBuyWhileLongIsIgnored(t *testing.T) {
	f := newFixture(t, testConfig("bot-1", "alice"), []*strategy.Signal{buy(), buy()})

	f.tick(100)
	f.tick(101)

	if got := f.gateway.submits.Load(); got != 1 {
		t.Fatalf("submits = %d, want 1 (second BUY must be a no-op)", got)
	}
}

func TestCloseOnSellSignal(t *testing.T) {
	f := newFixture(t, testConfig("bot-1", "alice"), []*strategy.Signal{buy(), sell()})

	f.tick(100)
	f.tick(110)

	if s := f.engine.Snapshot(); s.HasPosition {
		t.Fatal("expected flat after SELL signal")
	}
	if _, err := f.store.LastOpenTrade(context.Background(), "bot-1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("open trade should be closed, err=%v", err)
	}

	// Quote balance reflects the +10% round trip.
	bal, err := f.gateway.Balance(context.Background(), "USDT")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Free != 10_100 { // 10000 - 1000 + 1100
		t.Fatalf("USDT balance = %v, want 10100", bal.Free)
	}
}

func TestStopLossClosesPosition(t *testing.T) {
	cfg := testConfig("bot-1", "alice")
	cfg.StopLossPct = 0.05
	f := newFixture(t, cfg, []*strategy.Signal{buy()})

	f.tick(100)
	f.tick(94) // beyond the 5% limit

	if s := f.engine.Snapshot(); s.HasPosition {
		t.Fatal("expected stop-loss to flatten the position")
	}
}

func TestTakeProfitTierPartialClose(t *testing.T) {
	cfg := testConfig("bot-1", "alice")
	cfg.TakeProfits = []db.TakeProfitTier{{TargetPct: 0.05, AmountPct: 0.5}}
	f := newFixture(t, cfg, []*strategy.Signal{buy()})

	f.tick(100)
	f.tick(105)

	s := f.engine.Snapshot()
	if !s.HasPosition || s.Qty != 5 {
		t.Fatalf("after tier: qty=%v hasPosition=%v, want 5 remaining", s.Qty, s.HasPosition)
	}
	if s.EntryPrice != 100 {
		t.Fatalf("entry must stay at original 100, got %v", s.EntryPrice)
	}

	trade, err := f.store.LastOpenTrade(context.Background(), "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if trade.Qty != 5 {
		t.Fatalf("persisted qty = %v, want 5", trade.Qty)
	}
}

func TestRecoveryRestoresPositionWithoutOrders(t *testing.T) {
	store := newTestDB(t)
	cfg := testConfig("bot-1", "alice")

	// First engine opens a position, then goes away without closing.
	f1 := newFixtureWithStore(t, store, cfg, []*strategy.Signal{buy()})
	f1.tick(100)
	f1.engine.Stop()

	// Second engine over the same storage restores the exact position
	// and places zero orders doing so.
	f2 := newFixtureWithStore(t, store, cfg, nil)
	s := f2.engine.Snapshot()
	if !s.HasPosition || s.Qty != 10 || s.EntryPrice != 100 {
		t.Fatalf("recovered snapshot %+v, want qty=10 entry=100", s)
	}
	if got := f2.gateway.submits.Load(); got != 0 {
		t.Fatalf("recovery placed %d orders, want 0", got)
	}

	// Risk tracking is re-armed at the recovered entry.
	if !f2.engine.risk.Armed() || f2.engine.risk.HighWater() != 100 {
		t.Fatal("risk evaluator not re-armed at recovered entry")
	}
}

func TestKillSwitchFlattensAndFreezes(t *testing.T) {
	f := newFixture(t, testConfig("bot-1", "alice"), []*strategy.Signal{buy(), buy()})

	f.tick(100)
	if err := f.guard.SetUser(context.Background(), "alice", true); err != nil {
		t.Fatal(err)
	}
	f.tick(101)

	s := f.engine.Snapshot()
	if s.HasPosition || !s.Halted {
		t.Fatalf("after kill-switch: %+v, want flat and halted", s)
	}

	// Clearing the flag does not resume trading: a halted engine stays
	// frozen until the bot is explicitly restarted.
	if err := f.guard.SetUser(context.Background(), "alice", false); err != nil {
		t.Fatal(err)
	}
	f.tick(102)
	if s := f.engine.Snapshot(); s.HasPosition {
		t.Fatal("halted engine traded again without a restart")
	}
}

func TestKillSwitchScoping(t *testing.T) {
	store := newTestDB(t)
	flags := killswitch.NewMemStore()
	guard := killswitch.NewGuard(flags)

	newEngine := func(id, owner string) (*Engine, *countingGateway) {
		gw := &countingGateway{Gateway: paper.New("USDT", 10_000)}
		e, err := New(context.Background(), Deps{
			Config:   testConfig(id, owner),
			Store:    store,
			Gateway:  gw,
			Strategy: &scriptedStrategy{signals: []*strategy.Signal{buy(), nil, nil}},
			Guard:    guard,
			Bus:      events.NewBus(),
			Notifier: notify.LogNotifier{},
		})
		if err != nil {
			t.Fatal(err)
		}
		e.Start()
		t.Cleanup(e.Stop)
		return e, gw
	}

	alice, _ := newEngine("bot-a", "alice")
	bob, _ := newEngine("bot-b", "bob")
	ctx := context.Background()

	alice.onPrice(ctx, 100)
	bob.onPrice(ctx, 100)

	// Alice's switch stops only Alice.
	if err := guard.SetUser(ctx, "alice", true); err != nil {
		t.Fatal(err)
	}
	alice.onPrice(ctx, 101)
	bob.onPrice(ctx, 101)
	if !alice.Halted() {
		t.Fatal("alice's engine should be halted")
	}
	if bob.Halted() || !bob.Snapshot().HasPosition {
		t.Fatal("bob's engine must be unaffected by alice's switch")
	}

	// The global switch stops everyone still running.
	if err := guard.SetGlobal(ctx, true); err != nil {
		t.Fatal(err)
	}
	bob.onPrice(ctx, 102)
	if !bob.Halted() {
		t.Fatal("global switch should halt bob")
	}
}

func TestApplyFillCorrectsOptimisticState(t *testing.T) {
	f := newFixture(t, testConfig("bot-1", "alice"), []*strategy.Signal{buy()})
	ctx := context.Background()

	f.tick(100) // optimistic: qty 10 @ 100

	// Pretend the order was inflight and the venue reports a different
	// executed quantity and average price: the stream wins.
	f.engine.mu.Lock()
	f.engine.inflight["client-1"] = orderIntent{side: common.SideBuy, qty: 10, price: 100}
	f.engine.mu.Unlock()

	f.engine.applyFill(ctx, common.Fill{
		ClientID: "client-1",
		Symbol:   "BTCUSDT",
		Side:     common.SideBuy,
		Qty:      9.9,
		Price:    100.2,
		CumQty:   9.9,
		Status:   common.StatusFilled,
	})

	s := f.engine.Snapshot()
	if s.Qty != 9.9 || s.EntryPrice != 100.2 {
		t.Fatalf("after fill: qty=%v entry=%v, want 9.9 @ 100.2", s.Qty, s.EntryPrice)
	}

	trade, err := f.store.LastOpenTrade(ctx, "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if trade.Qty != 9.9 {
		t.Fatalf("persisted qty = %v, want 9.9", trade.Qty)
	}
}

func TestApplyFillUnknownSellClosesPosition(t *testing.T) {
	f := newFixture(t, testConfig("bot-1", "alice"), []*strategy.Signal{buy()})
	ctx := context.Background()

	f.tick(100)

	// A sell the engine never submitted (pre-restart order) flattens it.
	f.engine.applyFill(ctx, common.Fill{
		ClientID: "unknown",
		Symbol:   "BTCUSDT",
		Side:     common.SideSell,
		Qty:      10,
		Price:    103,
		CumQty:   10,
		Status:   common.StatusFilled,
	})

	if s := f.engine.Snapshot(); s.HasPosition {
		t.Fatal("stream-reported sell must close the position")
	}
	if _, err := f.store.LastOpenTrade(ctx, "bot-1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("trade should be closed, err=%v", err)
	}
}

func TestApplyFillIgnoresOtherSymbols(t *testing.T) {
	f := newFixture(t, testConfig("bot-1", "alice"), []*strategy.Signal{buy()})
	ctx := context.Background()

	f.tick(100)
	f.engine.applyFill(ctx, common.Fill{
		Symbol: "ETHUSDT",
		Side:   common.SideSell,
		Qty:    10,
		Price:  103,
		Status: common.StatusFilled,
	})

	if s := f.engine.Snapshot(); !s.HasPosition {
		t.Fatal("fill for another symbol must not touch the position")
	}
}

func TestOwnBuyFillEchoDoesNotDouble(t *testing.T) {
	f := newReconcilingFixture(t, testConfig("bot-1", "alice"), []*strategy.Signal{buy()})
	ctx := context.Background()

	f.tick(100) // optimistic: qty 10 @ 100

	// The venue echoes the engine's own execution through the user
	// stream. It confirms the optimistic state, it must not re-apply it.
	id, it := f.soleInflight(t, common.SideBuy)
	f.engine.applyFill(ctx, common.Fill{
		ClientID: id,
		Symbol:   "BTCUSDT",
		Side:     common.SideBuy,
		Qty:      it.qty,
		Price:    it.price,
		CumQty:   it.qty,
		Status:   common.StatusFilled,
	})

	s := f.engine.Snapshot()
	if s.Qty != 10 || s.EntryPrice != 100 {
		t.Fatalf("after own-fill echo: qty=%v entry=%v, want 10 @ 100", s.Qty, s.EntryPrice)
	}
	if n := f.inflightCount(); n != 0 {
		t.Fatalf("inflight orders = %d, want 0 after terminal echo", n)
	}
}

func TestOwnSellFillEchoDoesNotDouble(t *testing.T) {
	cfg := testConfig("bot-1", "alice")
	cfg.TakeProfits = []db.TakeProfitTier{{TargetPct: 0.05, AmountPct: 0.25}}
	f := newReconcilingFixture(t, cfg, []*strategy.Signal{buy()})
	ctx := context.Background()

	f.tick(100)
	buyID, buyIt := f.soleInflight(t, common.SideBuy)
	f.engine.applyFill(ctx, common.Fill{
		ClientID: buyID, Symbol: "BTCUSDT", Side: common.SideBuy,
		Qty: buyIt.qty, Price: buyIt.price, CumQty: buyIt.qty, Status: common.StatusFilled,
	})

	f.tick(105) // tier sells 2.5, leaving 7.5

	sellID, sellIt := f.soleInflight(t, common.SideSell)
	f.engine.applyFill(ctx, common.Fill{
		ClientID: sellID, Symbol: "BTCUSDT", Side: common.SideSell,
		Qty: sellIt.qty, Price: sellIt.price, CumQty: sellIt.qty, Status: common.StatusFilled,
	})

	s := f.engine.Snapshot()
	if s.Qty != 7.5 {
		t.Fatalf("after own-fill echo: qty=%v, want 7.5 (not subtracted twice)", s.Qty)
	}
	trade, err := f.store.LastOpenTrade(ctx, "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if trade.Qty != 7.5 {
		t.Fatalf("persisted qty = %v, want 7.5", trade.Qty)
	}
}

func TestStreamCorrectsExitQty(t *testing.T) {
	cfg := testConfig("bot-1", "alice")
	cfg.TakeProfits = []db.TakeProfitTier{{TargetPct: 0.05, AmountPct: 0.25}}
	f := newReconcilingFixture(t, cfg, []*strategy.Signal{buy()})
	ctx := context.Background()

	f.tick(100)
	f.tick(105) // optimistic: sold 2.5, 7.5 remaining

	// The stream reports more got executed than the submit response
	// said; only the extra 0.5 is folded in.
	sellID, _ := f.soleInflight(t, common.SideSell)
	f.engine.applyFill(ctx, common.Fill{
		ClientID: sellID, Symbol: "BTCUSDT", Side: common.SideSell,
		Qty: 3.0, Price: 105, CumQty: 3.0, Status: common.StatusFilled,
	})

	if s := f.engine.Snapshot(); s.Qty != 7.0 {
		t.Fatalf("corrected qty = %v, want 7.0", s.Qty)
	}
}

// shortBalanceGateway reports a fixed free balance for one asset and
// delegates everything else to the paper gateway.
type shortBalanceGateway struct {
	*paper.Gateway
	asset string
	free  float64
}

func (g *shortBalanceGateway) Balance(ctx context.Context, asset string) (common.Balance, error) {
	if asset == g.asset {
		return common.Balance{Asset: asset, Free: g.free}, nil
	}
	return g.Gateway.Balance(ctx, asset)
}

func TestPartialExitSkippedWhenBaseBalanceShort(t *testing.T) {
	store := newTestDB(t)
	cfg := testConfig("bot-1", "alice")
	cfg.TakeProfits = []db.TakeProfitTier{{TargetPct: 0.05, AmountPct: 0.5}}

	gw := &shortBalanceGateway{Gateway: paper.New("USDT", 10_000), asset: "BTC", free: 1}
	e, err := New(context.Background(), Deps{
		Config:   cfg,
		Store:    store,
		Gateway:  gw,
		Strategy: &scriptedStrategy{signals: []*strategy.Signal{buy()}},
		Guard:    killswitch.NewGuard(killswitch.NewMemStore()),
		Bus:      events.NewBus(),
		Notifier: notify.LogNotifier{},
	})
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	t.Cleanup(e.Stop)

	ctx := context.Background()
	e.onPrice(ctx, 100) // long 10 @ 100
	e.onPrice(ctx, 105) // tier wants 5 BTC, only 1 is free: skip, no mutation

	s := e.Snapshot()
	if !s.HasPosition || s.Qty != 10 {
		t.Fatalf("unfundable exit must not mutate the position: %+v", s)
	}
	trade, err := store.LastOpenTrade(ctx, "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if trade.Qty != 10 {
		t.Fatalf("persisted qty = %v, want 10", trade.Qty)
	}
}

func TestRejectedEntryLeavesStateUntouched(t *testing.T) {
	cfg := testConfig("bot-1", "alice")
	cfg.SizeValue = 50_000 // more than the paper gateway holds
	f := newFixture(t, cfg, []*strategy.Signal{buy()})

	f.tick(100)

	if s := f.engine.Snapshot(); s.HasPosition {
		t.Fatal("underfunded entry must not create a position")
	}
	if _, err := f.store.LastOpenTrade(context.Background(), "bot-1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("no trade row expected, err=%v", err)
	}
}
