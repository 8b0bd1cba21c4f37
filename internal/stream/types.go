// Package stream maintains one websocket market-data connection per
// (exchange, symbol, interval) and fans ticks out to every subscribed
// bot. Streams open lazily with the first subscriber and close when the
// last one leaves.
package stream

import (
	"fmt"
	"strings"
	"time"
)

// Key identifies one deduplicated market stream.
type Key struct {
	Exchange string
	Symbol   string
	Interval string
}

// NewKey normalizes exchange casing so "Binance" and "binance" share a
// connection.
func NewKey(exchange, symbol, interval string) Key {
	return Key{
		Exchange: strings.ToLower(exchange),
		Symbol:   strings.ToUpper(symbol),
		Interval: interval,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s@%s", k.Exchange, k.Symbol, k.Interval)
}

// Candle is one kline update. Closed marks the final update of the
// candle window.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Closed bool
}

// Tick is a single market update delivered to subscribers.
type Tick struct {
	Key    Key
	Price  float64
	Candle Candle
	At     time.Time
}

// Subscriber receives ticks from a shared stream. HandleTick runs on a
// dedicated per-subscriber goroutine, so a slow subscriber delays only
// itself; once its buffer fills, further ticks are dropped.
type Subscriber interface {
	ID() string
	HandleTick(Tick)
}
