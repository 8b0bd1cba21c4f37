package strategy

import (
	"encoding/json"
	"fmt"
)

// New builds a strategy by name from its JSON parameter blob. Empty
// params fall back to the per-strategy defaults.
func New(name string, params json.RawMessage) (Strategy, error) {
	switch name {
	case "ma_cross":
		cfg := struct {
			Fast int `json:"fast"`
			Slow int `json:"slow"`
		}{Fast: 7, Slow: 25}
		if err := unmarshalParams(params, &cfg); err != nil {
			return nil, fmt.Errorf("ma_cross params: %w", err)
		}
		return NewMACross(cfg.Fast, cfg.Slow)
	case "rsi":
		cfg := struct {
			Period     int     `json:"period"`
			Oversold   float64 `json:"oversold"`
			Overbought float64 `json:"overbought"`
		}{Period: 14, Oversold: 30, Overbought: 70}
		if err := unmarshalParams(params, &cfg); err != nil {
			return nil, fmt.Errorf("rsi params: %w", err)
		}
		return NewRSI(cfg.Period, cfg.Oversold, cfg.Overbought)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

func unmarshalParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, out)
}
