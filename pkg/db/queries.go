package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetBotConfig loads one bot configuration row by id.
func (d *Database) GetBotConfig(ctx context.Context, id string) (*BotConfig, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, owner, exchange, symbol, interval, strategy, params,
		       stop_loss_pct, take_profits, trailing_enabled, trailing_pct,
		       size_value, size_unit, paper, api_key_enc, api_secret_enc,
		       is_active, created_at, updated_at
		FROM bot_configs WHERE id = ?
	`, id)

	var (
		cfg      BotConfig
		tpJSON   string
		trailing int
		paper    int
		active   int
	)
	err := row.Scan(&cfg.ID, &cfg.Owner, &cfg.Exchange, &cfg.Symbol, &cfg.Interval,
		&cfg.Strategy, &cfg.Params, &cfg.StopLossPct, &tpJSON, &trailing,
		&cfg.TrailingPct, &cfg.SizeValue, &cfg.SizeUnit, &paper,
		&cfg.APIKeyEnc, &cfg.APISecretEnc, &active, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bot config: %w", err)
	}

	if err := json.Unmarshal([]byte(tpJSON), &cfg.TakeProfits); err != nil {
		return nil, fmt.Errorf("decode take profits for %s: %w", id, err)
	}
	cfg.TrailingEnabled = trailing != 0
	cfg.Paper = paper != 0
	cfg.IsActive = active != 0
	return &cfg, nil
}

// UpsertBotConfig inserts or replaces a bot configuration (bootstrap path).
func (d *Database) UpsertBotConfig(ctx context.Context, cfg BotConfig) error {
	tpJSON, err := json.Marshal(cfg.TakeProfits)
	if err != nil {
		return fmt.Errorf("encode take profits: %w", err)
	}
	params := cfg.Params
	if params == "" {
		params = "{}"
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO bot_configs (
			id, owner, exchange, symbol, interval, strategy, params,
			stop_loss_pct, take_profits, trailing_enabled, trailing_pct,
			size_value, size_unit, paper, api_key_enc, api_secret_enc, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			exchange = excluded.exchange,
			symbol = excluded.symbol,
			interval = excluded.interval,
			strategy = excluded.strategy,
			params = excluded.params,
			stop_loss_pct = excluded.stop_loss_pct,
			take_profits = excluded.take_profits,
			trailing_enabled = excluded.trailing_enabled,
			trailing_pct = excluded.trailing_pct,
			size_value = excluded.size_value,
			size_unit = excluded.size_unit,
			paper = excluded.paper,
			api_key_enc = excluded.api_key_enc,
			api_secret_enc = excluded.api_secret_enc,
			updated_at = CURRENT_TIMESTAMP
	`, cfg.ID, cfg.Owner, cfg.Exchange, cfg.Symbol, cfg.Interval, cfg.Strategy,
		params, cfg.StopLossPct, string(tpJSON), boolToInt(cfg.TrailingEnabled),
		cfg.TrailingPct, cfg.SizeValue, cfg.SizeUnit, boolToInt(cfg.Paper),
		cfg.APIKeyEnc, cfg.APISecretEnc, boolToInt(cfg.IsActive))
	if err != nil {
		return fmt.Errorf("upsert bot config: %w", err)
	}
	return nil
}

// SetBotActive flips the persisted running flag for a bot. It succeeds
// even when the row is gone so a zombie stop can still settle storage.
func (d *Database) SetBotActive(ctx context.Context, id string, active bool) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bot_configs SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set bot active: %w", err)
	}
	return nil
}

// ListActiveBotIDs returns the ids of bots flagged active in storage.
func (d *Database) ListActiveBotIDs(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT id FROM bot_configs WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list active bots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertOpenTrade records a freshly entered position.
func (d *Database) InsertOpenTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, bot_id, symbol, qty, entry_price, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.BotID, t.Symbol, t.Qty, t.EntryPrice, TradeOpen, time.Now())
	if err != nil {
		return fmt.Errorf("insert open trade: %w", err)
	}
	return nil
}

// UpdateTradeQty adjusts the remaining quantity of an open trade after a
// partial exit or a stream correction.
func (d *Database) UpdateTradeQty(ctx context.Context, id string, qty float64) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE trades SET qty = ? WHERE id = ? AND status = ?`,
		qty, id, TradeOpen)
	if err != nil {
		return fmt.Errorf("update trade qty: %w", err)
	}
	return nil
}

// CloseTrade finalizes an open trade with its exit price and realized PnL.
func (d *Database) CloseTrade(ctx context.Context, id string, exitPrice, pnl float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET status = ?, exit_price = ?, pnl = ?, closed_at = ?
		WHERE id = ? AND status = ?
	`, TradeClosed, exitPrice, pnl, time.Now(), id, TradeOpen)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LastOpenTrade returns the most recent OPEN trade for a bot, used to
// rebuild position state after a restart.
func (d *Database) LastOpenTrade(ctx context.Context, botID string) (*Trade, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, bot_id, symbol, qty, entry_price, status, opened_at
		FROM trades WHERE bot_id = ? AND status = ?
		ORDER BY opened_at DESC LIMIT 1
	`, botID, TradeOpen)

	var t Trade
	err := row.Scan(&t.ID, &t.BotID, &t.Symbol, &t.Qty, &t.EntryPrice, &t.Status, &t.OpenedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last open trade: %w", err)
	}
	return &t, nil
}

// GetKillSwitch reads one kill-switch flag; a missing key reads as false.
func (d *Database) GetKillSwitch(ctx context.Context, key string) (bool, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT value FROM kill_switches WHERE key = ?`, key)
	var v int
	err := row.Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get kill switch: %w", err)
	}
	return v != 0, nil
}

// SetKillSwitch writes one kill-switch flag.
func (d *Database) SetKillSwitch(ctx context.Context, key string, value bool) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO kill_switches (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, boolToInt(value))
	if err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
