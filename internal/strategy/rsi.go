package strategy

import (
	"fmt"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/indicators"
)

// RSIStrategy buys when RSI drops below the oversold line and sells when
// it rises above the overbought line.
type RSIStrategy struct {
	period     int
	oversold   float64
	overbought float64

	prices     []float64
	prevSignal string
}

// NewRSI validates thresholds and returns a fresh RSI strategy.
func NewRSI(period int, oversold, overbought float64) (*RSIStrategy, error) {
	if period <= 0 {
		return nil, fmt.Errorf("rsi: period must be positive, got %d", period)
	}
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("rsi: need 0 < oversold < overbought < 100, got %v/%v", oversold, overbought)
	}
	return &RSIStrategy{period: period, oversold: oversold, overbought: overbought}, nil
}

func (s *RSIStrategy) Name() string { return "rsi" }

func (s *RSIStrategy) OnTick(price float64) *Signal {
	s.prices = append(s.prices, price)
	if len(s.prices) > s.period+1 {
		s.prices = s.prices[len(s.prices)-s.period-1:]
	}
	if len(s.prices) < s.period+1 {
		return nil
	}

	value := indicators.RSI(s.prices, s.period)

	var sig *Signal
	switch {
	case value <= s.oversold:
		sig = &Signal{Action: ActionBuy, Note: fmt.Sprintf("rsi %.2f <= oversold %.2f", value, s.oversold)}
	case value >= s.overbought:
		sig = &Signal{Action: ActionSell, Note: fmt.Sprintf("rsi %.2f >= overbought %.2f", value, s.overbought)}
	default:
		return nil
	}

	if sig.Action == s.prevSignal {
		return nil
	}
	s.prevSignal = sig.Action
	return sig
}
