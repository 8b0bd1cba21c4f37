package db

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("db: not found")

// Trade status values.
const (
	TradeOpen   = "OPEN"
	TradeClosed = "CLOSED"
)

// Position sizing units.
const (
	SizeUnitBase  = "base"  // size is an asset quantity
	SizeUnitQuote = "quote" // size is a quote-currency notional
)

// TakeProfitTier describes one partial-exit level.
// TargetPct is the gain over entry price that arms the tier (0.05 = +5%),
// AmountPct the share of the current position to close when it fires.
type TakeProfitTier struct {
	TargetPct float64 `json:"target_pct" yaml:"target_pct"`
	AmountPct float64 `json:"amount_pct" yaml:"amount_pct"`
}

// BotConfig is one bot's persisted configuration. The API layer owns
// mutation; the trading core reads a row once at engine construction.
type BotConfig struct {
	ID       string
	Owner    string
	Exchange string
	Symbol   string
	Interval string

	Strategy string
	Params   string // strategy parameters, JSON

	StopLossPct     float64
	TakeProfits     []TakeProfitTier
	TrailingEnabled bool
	TrailingPct     float64

	SizeValue float64
	SizeUnit  string // "base" or "quote"

	Paper        bool
	APIKeyEnc    string
	APISecretEnc string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trade is a position lifecycle record: opened on entry, closed with
// exit price and realized PnL on full exit.
type Trade struct {
	ID         string
	BotID      string
	Symbol     string
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Status     string // OPEN or CLOSED
	OpenedAt   time.Time
	ClosedAt   time.Time
}
