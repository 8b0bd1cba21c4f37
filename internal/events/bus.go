// Package events is the operational pub/sub sink for the bot core.
// Engines publish status snapshots and alerts here; API consumers and
// the monitor subscribe without ever blocking a publisher.
package events

import (
	"sync"
)

// Channel names a pub/sub topic.
type Channel string

const (
	ChanBotStatus  Channel = "bot.status"
	ChanTrade      Channel = "bot.trade"
	ChanRiskAlert  Channel = "risk.alert"
	ChanKillSwitch Channel = "killswitch"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Channel][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Channel][]chan any)}
}

// Subscribe registers a listener for a channel and returns the stream and
// an unsubscribe function.
func (b *Bus) Subscribe(c Channel, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[c] = append(b.subs[c], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[c]
		for i, s := range subs {
			if s == ch {
				close(s)
				b.subs[c] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(c Channel, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[c] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
