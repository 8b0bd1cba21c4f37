package strategy

import (
	"fmt"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/indicators"
)

// MACross signals on golden/death crosses of two simple moving averages.
type MACross struct {
	fast int
	slow int

	prices     []float64
	prevFast   float64
	prevSlow   float64
	havePrev   bool
	prevSignal string
}

// NewMACross validates periods and returns a fresh crossover strategy.
func NewMACross(fast, slow int) (*MACross, error) {
	if fast <= 0 || slow <= 0 {
		return nil, fmt.Errorf("ma_cross: periods must be positive (fast=%d slow=%d)", fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("ma_cross: fast period %d must be below slow period %d", fast, slow)
	}
	return &MACross{fast: fast, slow: slow}, nil
}

func (s *MACross) Name() string { return "ma_cross" }

// OnTick appends the price and checks whether the fast MA crossed the
// slow MA since the previous tick. Equal values do not count as a cross.
func (s *MACross) OnTick(price float64) *Signal {
	s.prices = append(s.prices, price)
	if len(s.prices) > s.slow+1 {
		s.prices = s.prices[len(s.prices)-s.slow-1:]
	}
	if len(s.prices) < s.slow {
		return nil
	}

	fast := indicators.SMA(s.prices, s.fast)
	slow := indicators.SMA(s.prices, s.slow)

	defer func() {
		s.prevFast = fast
		s.prevSlow = slow
		s.havePrev = true
	}()

	if !s.havePrev {
		return nil
	}

	var sig *Signal
	switch {
	case s.prevFast <= s.prevSlow && fast > slow:
		sig = &Signal{Action: ActionBuy, Note: fmt.Sprintf("golden cross fast=%.8g slow=%.8g", fast, slow)}
	case s.prevFast >= s.prevSlow && fast < slow:
		sig = &Signal{Action: ActionSell, Note: fmt.Sprintf("death cross fast=%.8g slow=%.8g", fast, slow)}
	default:
		return nil
	}

	if sig.Action == s.prevSignal {
		return nil
	}
	s.prevSignal = sig.Action
	return sig
}
