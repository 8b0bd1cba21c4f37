// Package manager owns the bot fleet: it turns persisted configs into
// running engines, attaches them to shared market streams, and tears
// everything down in the right order on shutdown.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/bot"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/events"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/killswitch"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/notify"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/strategy"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/stream"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/crypto"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/binance"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/common"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/exchanges/paper"
)

var (
	// ErrAlreadyRunning rejects a duplicate start for the same bot id.
	ErrAlreadyRunning = errors.New("bot already running")
	// ErrLiveUnsupported marks venues that only have a market stream
	// implementation, not an order gateway.
	ErrLiveUnsupported = errors.New("live trading not supported on this exchange")
)

// Deps carries the process-wide services every engine shares.
type Deps struct {
	Store    *db.Database
	Streams  *stream.Registry
	Keys     *crypto.KeyManager
	Guard    *killswitch.Guard
	Bus      *events.Bus
	Notifier notify.Notifier

	HeartbeatInterval   time.Duration
	PollInterval        time.Duration
	ReconnectDelay      time.Duration
	PaperInitialBalance float64
}

type runningBot struct {
	engine     *bot.Engine
	key        stream.Key
	hasStream  bool
	cancelUser context.CancelFunc
}

// Manager tracks running engines by bot id.
type Manager struct {
	deps Deps

	mu   sync.Mutex
	bots map[string]*runningBot
}

func New(deps Deps) *Manager {
	return &Manager{deps: deps, bots: make(map[string]*runningBot)}
}

// Start brings one bot up: load config, build strategy and gateway,
// recover state, attach to the shared stream, mark active. Any failure
// unwinds completely; a bot is either fully running or not at all.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.bots[id]; running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	cfg, err := m.deps.Store.GetBotConfig(ctx, id)
	if err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}

	strat, err := strategy.New(cfg.Strategy, json.RawMessage(cfg.Params))
	if err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}

	gateway, fills, cancelUser, err := m.buildGateway(cfg)
	if err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}

	key := stream.NewKey(cfg.Exchange, cfg.Symbol, cfg.Interval)
	hasStream := m.deps.Streams.HasProtocol(key)
	if !hasStream && cfg.Paper {
		cancelUser()
		return fmt.Errorf("start %s: no market stream for %s and paper bots cannot poll", id, cfg.Exchange)
	}

	engine, err := bot.New(ctx, bot.Deps{
		Config:            *cfg,
		Store:             m.deps.Store,
		Gateway:           gateway,
		Strategy:          strat,
		Guard:             m.deps.Guard,
		Bus:               m.deps.Bus,
		Notifier:          m.deps.Notifier,
		Fills:             fills,
		HeartbeatInterval: m.deps.HeartbeatInterval,
		PollInterval:      pollIntervalFor(cfg, m.deps.PollInterval, hasStream),
	})
	if err != nil {
		cancelUser()
		return fmt.Errorf("start %s: %w", id, err)
	}

	engine.Start()
	if hasStream {
		if err := m.deps.Streams.Acquire(key, engine); err != nil {
			engine.Stop()
			cancelUser()
			return fmt.Errorf("start %s: %w", id, err)
		}
	} else {
		log.Printf("manager: no market stream for %s, bot %s ticks from price polling", cfg.Exchange, id)
	}

	if err := m.deps.Store.SetBotActive(ctx, id, true); err != nil {
		if hasStream {
			m.deps.Streams.Release(key, id)
		}
		engine.Stop()
		cancelUser()
		return fmt.Errorf("start %s: %w", id, err)
	}

	m.bots[id] = &runningBot{engine: engine, key: key, hasStream: hasStream, cancelUser: cancelUser}
	log.Printf("manager: bot %s running on stream %s", id, key)
	return nil
}

// buildGateway picks the execution venue for one bot. Paper bots get an
// isolated simulator; live Binance bots get an authenticated client
// plus a user data stream for fill reconciliation.
func (m *Manager) buildGateway(cfg *db.BotConfig) (common.Gateway, <-chan common.Fill, context.CancelFunc, error) {
	noop := func() {}

	if cfg.Paper {
		_, quote := common.SplitSymbol(cfg.Symbol)
		return paper.New(quote, m.deps.PaperInitialBalance), nil, noop, nil
	}

	if cfg.Exchange != "binance" {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrLiveUnsupported, cfg.Exchange)
	}
	if m.deps.Keys == nil {
		return nil, nil, nil, errors.New("no credential keys configured, cannot trade live")
	}

	apiKey, err := m.deps.Keys.Decrypt(cfg.APIKeyEnc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := m.deps.Keys.Decrypt(cfg.APISecretEnc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decrypt api secret: %w", err)
	}

	client := binance.New(binance.Config{APIKey: apiKey, APISecret: apiSecret})
	fills := make(chan common.Fill, 64)
	usCtx, cancel := context.WithCancel(context.Background())
	us := binance.NewUserStream(client, false)
	go us.Run(usCtx, fills, m.deps.ReconnectDelay)

	return client, fills, cancel, nil
}

// pollIntervalFor enables the REST price fallback only for live bots on
// venues without a streaming protocol: a streaming bot already ticks
// from its shared stream, and the paper gateway has no ticker endpoint.
func pollIntervalFor(cfg *db.BotConfig, interval time.Duration, hasStream bool) time.Duration {
	if cfg.Paper || hasStream {
		return 0
	}
	return interval
}

// Stop halts one bot. It is idempotent and zombie-tolerant: stopping a
// bot that is not running (or whose config row is gone) still clears
// the persisted active flag and reports success.
func (m *Manager) Stop(ctx context.Context, id string) (wasRunning bool, err error) {
	m.mu.Lock()
	rb, ok := m.bots[id]
	delete(m.bots, id)
	m.mu.Unlock()

	if ok {
		if rb.hasStream {
			m.deps.Streams.Release(rb.key, id)
		}
		rb.engine.Stop()
		rb.cancelUser()
	} else {
		log.Printf("manager: stop for %s with no running engine, settling storage", id)
	}

	if err := m.deps.Store.SetBotActive(ctx, id, false); err != nil {
		return ok, fmt.Errorf("stop %s: %w", id, err)
	}
	return ok, nil
}

// Status snapshots one running bot.
func (m *Manager) Status(id string) (bot.Status, bool) {
	m.mu.Lock()
	rb, ok := m.bots[id]
	m.mu.Unlock()
	if !ok {
		return bot.Status{}, false
	}
	return rb.engine.Snapshot(), true
}

// Statuses snapshots every running bot.
func (m *Manager) Statuses() []bot.Status {
	m.mu.Lock()
	engines := make([]*bot.Engine, 0, len(m.bots))
	for _, rb := range m.bots {
		engines = append(engines, rb.engine)
	}
	m.mu.Unlock()

	out := make([]bot.Status, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Snapshot())
	}
	return out
}

// StartActive starts every bot flagged active in storage (process
// restart path). Individual failures are logged, not fatal: one broken
// bot must not keep the rest of the fleet down.
func (m *Manager) StartActive(ctx context.Context) {
	ids, err := m.deps.Store.ListActiveBotIDs(ctx)
	if err != nil {
		log.Printf("manager: list active bots: %v", err)
		return
	}
	for _, id := range ids {
		if err := m.Start(ctx, id); err != nil {
			log.Printf("manager: autostart %s: %v", id, err)
		}
	}
}

// Shutdown stops every bot, then the streams. Engines go first so no
// tick arrives for an engine whose storage is already settling.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.bots))
	for id := range m.bots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.Stop(ctx, id); err != nil {
			log.Printf("manager: shutdown stop %s: %v", id, err)
		}
	}
	m.deps.Streams.StopAll()
	log.Printf("manager: shutdown complete (%d bots stopped)", len(ids))
}
