// Package strategy turns a price series into BUY/SELL signals. Strategies
// are stateful per bot and never talk to the exchange themselves.
package strategy

import "errors"

// ErrUnknownStrategy is returned by New for unrecognized strategy names.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Signal actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Signal is a single trading decision emitted by a strategy.
type Signal struct {
	Action string
	Note   string
}

// Strategy consumes closed-candle prices one at a time. OnTick returns
// nil while the strategy has nothing to say; implementations must
// suppress repeats of the same signal until the opposite one occurs.
type Strategy interface {
	Name() string
	OnTick(price float64) *Signal
}
