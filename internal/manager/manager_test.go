package manager

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/events"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/killswitch"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/notify"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/stream"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "manager.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.ApplyMigrations(d); err != nil {
		t.Fatal(err)
	}
	return d
}

// localProtocol satisfies stream.Protocol against an in-process server.
type localProtocol struct {
	key stream.Key
	url string
}

func (p *localProtocol) Name() string { return "local" }

func (p *localProtocol) Connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	return conn, err
}

func (p *localProtocol) SubscribeFrames() [][]byte   { return nil }
func (p *localProtocol) PingInterval() time.Duration { return 0 }
func (p *localProtocol) PingFrame() (int, []byte)    { return websocket.PingMessage, nil }

func (p *localProtocol) Parse(msg []byte) (stream.Tick, bool, error) {
	return stream.Tick{Key: p.key, Price: 100, At: time.Now()}, true, nil
}

func newQuietServer(t *testing.T, conns *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		defer conns.Add(-1)
		defer conn.Close()
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type managerFixture struct {
	m     *Manager
	store *db.Database
	conns *atomic.Int32
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	var conns atomic.Int32
	srv := newQuietServer(t, &conns)

	registry := stream.NewRegistry(50*time.Millisecond, time.Second)
	registry.SetProtocolFactory(func(key stream.Key) (stream.Protocol, error) {
		return &localProtocol{key: key, url: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil
	})

	store := newTestDB(t)
	m := New(Deps{
		Store:               store,
		Streams:             registry,
		Guard:               killswitch.NewGuard(killswitch.NewMemStore()),
		Bus:                 events.NewBus(),
		Notifier:            notify.LogNotifier{},
		PaperInitialBalance: 10_000,
	})
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return &managerFixture{m: m, store: store, conns: &conns}
}

func seedBot(t *testing.T, store *db.Database, id, owner, symbol, interval string) {
	t.Helper()
	err := store.UpsertBotConfig(context.Background(), db.BotConfig{
		ID:        id,
		Owner:     owner,
		Exchange:  "binance",
		Symbol:    symbol,
		Interval:  interval,
		Strategy:  "ma_cross",
		SizeValue: 100,
		SizeUnit:  db.SizeUnitQuote,
		Paper:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func waitForConns(t *testing.T, conns *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conns.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection count = %d, want %d", conns.Load(), want)
}

func TestStartStopLifecycle(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	seedBot(t, f.store, "bot-1", "alice", "BTCUSDT", "1m")

	if err := f.m.Start(ctx, "bot-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.m.Status("bot-1"); !ok {
		t.Fatal("running bot has no status")
	}

	cfg, err := f.store.GetBotConfig(ctx, "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsActive {
		t.Fatal("start must persist the active flag")
	}

	wasRunning, err := f.m.Stop(ctx, "bot-1")
	if err != nil || !wasRunning {
		t.Fatalf("stop: wasRunning=%v err=%v", wasRunning, err)
	}
	cfg, err = f.store.GetBotConfig(ctx, "bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IsActive {
		t.Fatal("stop must clear the active flag")
	}
	waitForConns(t, f.conns, 0)
}

func TestDuplicateStartRejected(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	seedBot(t, f.store, "bot-1", "alice", "BTCUSDT", "1m")

	if err := f.m.Start(ctx, "bot-1"); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Start(ctx, "bot-1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartUnknownBot(t *testing.T) {
	f := newManagerFixture(t)
	if err := f.m.Start(context.Background(), "ghost"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestZombieStopSettlesStorage(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	// The bot exists in storage, flagged active, but no engine runs
	// (previous process died). Stop must still succeed and clear it.
	seedBot(t, f.store, "bot-z", "alice", "BTCUSDT", "1m")
	if err := f.store.SetBotActive(ctx, "bot-z", true); err != nil {
		t.Fatal(err)
	}

	wasRunning, err := f.m.Stop(ctx, "bot-z")
	if err != nil {
		t.Fatal(err)
	}
	if wasRunning {
		t.Fatal("no engine was running")
	}
	cfg, err := f.store.GetBotConfig(ctx, "bot-z")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.IsActive {
		t.Fatal("zombie stop must clear the active flag")
	}

	// Even a bot with no config row stops cleanly.
	if _, err := f.m.Stop(ctx, "never-existed"); err != nil {
		t.Fatalf("stop of unknown id: %v", err)
	}
}

func TestBotsShareStreams(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	seedBot(t, f.store, "bot-1", "alice", "BTCUSDT", "1m")
	seedBot(t, f.store, "bot-2", "bob", "BTCUSDT", "1m")
	seedBot(t, f.store, "bot-3", "bob", "ETHUSDT", "1m")

	for _, id := range []string{"bot-1", "bot-2", "bot-3"} {
		if err := f.m.Start(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	// Two symbols, three bots: exactly two connections.
	waitForConns(t, f.conns, 2)

	// Stopping one BTC bot keeps the shared stream for the other.
	if _, err := f.m.Stop(ctx, "bot-1"); err != nil {
		t.Fatal(err)
	}
	waitForConns(t, f.conns, 2)

	if _, err := f.m.Stop(ctx, "bot-2"); err != nil {
		t.Fatal(err)
	}
	waitForConns(t, f.conns, 1)
}

func TestStartActiveAutostart(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	seedBot(t, f.store, "bot-1", "alice", "BTCUSDT", "1m")
	seedBot(t, f.store, "bot-2", "bob", "ETHUSDT", "1m")
	if err := f.store.SetBotActive(ctx, "bot-1", true); err != nil {
		t.Fatal(err)
	}

	f.m.StartActive(ctx)

	if _, ok := f.m.Status("bot-1"); !ok {
		t.Fatal("active bot should autostart")
	}
	if _, ok := f.m.Status("bot-2"); ok {
		t.Fatal("inactive bot must stay stopped")
	}
}

func TestLiveTradingUnsupportedVenue(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	err := f.store.UpsertBotConfig(ctx, db.BotConfig{
		ID: "bot-k", Owner: "alice", Exchange: "kucoin", Symbol: "BTC-USDT",
		Interval: "1m", Strategy: "ma_cross", SizeValue: 100,
		SizeUnit: db.SizeUnitQuote, Paper: false,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.m.Start(ctx, "bot-k"); !errors.Is(err, ErrLiveUnsupported) {
		t.Fatalf("err = %v, want ErrLiveUnsupported", err)
	}
}

func TestPollIntervalOnlyWithoutStream(t *testing.T) {
	interval := 15 * time.Second
	live := &db.BotConfig{Paper: false}
	paperBot := &db.BotConfig{Paper: true}

	// A streaming bot ticks from its shared stream alone; a second tick
	// source would race it.
	if got := pollIntervalFor(live, interval, true); got != 0 {
		t.Fatalf("streaming live bot polls every %v, want no polling", got)
	}
	if got := pollIntervalFor(paperBot, interval, false); got != 0 {
		t.Fatalf("paper bot polls every %v, want no polling", got)
	}
	if got := pollIntervalFor(live, interval, false); got != interval {
		t.Fatalf("stream-less live bot polls every %v, want %v", got, interval)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	seedBot(t, f.store, "bot-1", "alice", "BTCUSDT", "1m")
	seedBot(t, f.store, "bot-2", "bob", "ETHUSDT", "1m")
	for _, id := range []string{"bot-1", "bot-2"} {
		if err := f.m.Start(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	f.m.Shutdown(ctx)

	if got := len(f.m.Statuses()); got != 0 {
		t.Fatalf("running bots after shutdown = %d", got)
	}
	waitForConns(t, f.conns, 0)
}
