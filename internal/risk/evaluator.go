// Package risk decides exits for an open long position. The evaluator
// is pure bookkeeping over prices; order placement stays in the engine.
package risk

import (
	"fmt"
	"sort"
)

// Tier is one take-profit level: close AmountPct of the current position
// once price gains TargetPct over the entry. Each tier fires at most
// once per position lifetime.
type Tier struct {
	TargetPct float64
	AmountPct float64
}

// Params are the per-bot risk settings, fixed at engine construction.
type Params struct {
	StopLossPct     float64
	Tiers           []Tier
	TrailingEnabled bool
	TrailingPct     float64
}

// ActionKind classifies an exit decision.
type ActionKind int

const (
	// ActionClose liquidates the whole position.
	ActionClose ActionKind = iota
	// ActionPartialClose liquidates a fraction of the current position.
	ActionPartialClose
)

// Action is one exit decision for the current tick. Fraction is relative
// to the position size at the moment the action is applied.
type Action struct {
	Kind     ActionKind
	Fraction float64
	Reason   string
}

// Evaluator tracks trailing-stop and tier state for one position.
// It is owned by a single engine and not safe for concurrent use.
type Evaluator struct {
	params    Params
	highWater float64
	fired     []bool
	armed     bool
}

// NewEvaluator sorts tiers ascending by target so cheaper tiers always
// fire first within a tick.
func NewEvaluator(p Params) *Evaluator {
	tiers := make([]Tier, len(p.Tiers))
	copy(tiers, p.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].TargetPct < tiers[j].TargetPct })
	p.Tiers = tiers
	return &Evaluator{params: p}
}

// Arm resets tracking for a new (or restored) position. The high-water
// mark starts at the entry price.
func (e *Evaluator) Arm(entryPrice float64) {
	e.highWater = entryPrice
	e.fired = make([]bool, len(e.params.Tiers))
	e.armed = true
}

// Disarm clears tracking after a full close.
func (e *Evaluator) Disarm() {
	e.armed = false
	e.highWater = 0
	e.fired = nil
}

// Armed reports whether a position is being tracked.
func (e *Evaluator) Armed() bool { return e.armed }

// HighWater exposes the trailing high-water mark (status reporting).
func (e *Evaluator) HighWater() float64 { return e.highWater }

// Evaluate runs the exit checks for one tick, in priority order:
// stop-loss, trailing stop, then take-profit tiers ascending. A full
// close short-circuits; several tiers may fire on the same tick.
// Tier targets are always computed from the original entry price, even
// after earlier partial closes.
func (e *Evaluator) Evaluate(entryPrice, price float64) []Action {
	if !e.armed || entryPrice <= 0 {
		return nil
	}

	if sl := e.params.StopLossPct; sl > 0 {
		if price <= entryPrice*(1-sl) {
			return []Action{{
				Kind:   ActionClose,
				Reason: fmt.Sprintf("stop-loss at %.8g (entry %.8g, limit %.2f%%)", price, entryPrice, sl*100),
			}}
		}
	}

	if e.params.TrailingEnabled && e.params.TrailingPct > 0 {
		if price > e.highWater {
			e.highWater = price
		}
		floor := e.highWater * (1 - e.params.TrailingPct)
		if price < floor {
			return []Action{{
				Kind:   ActionClose,
				Reason: fmt.Sprintf("trailing stop at %.8g (high %.8g, floor %.8g)", price, e.highWater, floor),
			}}
		}
	}

	var actions []Action
	for i, tier := range e.params.Tiers {
		if e.fired[i] {
			continue
		}
		if price >= entryPrice*(1+tier.TargetPct) {
			e.fired[i] = true
			actions = append(actions, Action{
				Kind:     ActionPartialClose,
				Fraction: tier.AmountPct,
				Reason:   fmt.Sprintf("take-profit +%.2f%% (close %.0f%%)", tier.TargetPct*100, tier.AmountPct*100),
			})
		}
	}
	return actions
}
