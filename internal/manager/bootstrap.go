package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/crypto"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
)

// bootstrapFile is the on-disk fleet definition. Credentials appear in
// plaintext here and are encrypted before they reach storage.
type bootstrapFile struct {
	Bots []bootstrapBot `yaml:"bots"`
}

type bootstrapBot struct {
	ID       string `yaml:"id"`
	Owner    string `yaml:"owner"`
	Exchange string `yaml:"exchange"`
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`

	Strategy string         `yaml:"strategy"`
	Params   map[string]any `yaml:"params"`

	StopLossPct     float64             `yaml:"stop_loss_pct"`
	TakeProfits     []db.TakeProfitTier `yaml:"take_profits"`
	TrailingEnabled bool                `yaml:"trailing_enabled"`
	TrailingPct     float64             `yaml:"trailing_pct"`

	SizeValue float64 `yaml:"size_value"`
	SizeUnit  string  `yaml:"size_unit"`

	Paper     bool   `yaml:"paper"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	Active bool `yaml:"active"`
}

// Bootstrap upserts every bot from the YAML fleet file into storage.
// A missing file is not an error; the fleet is then managed purely
// through the API.
func Bootstrap(ctx context.Context, store *db.Database, keys *crypto.KeyManager, path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("bootstrap: no fleet file at %s, skipping", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap: read %s: %w", path, err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("bootstrap: parse %s: %w", path, err)
	}

	for _, b := range file.Bots {
		cfg, err := b.toConfig(keys)
		if err != nil {
			return fmt.Errorf("bootstrap: bot %s: %w", b.ID, err)
		}
		if err := store.UpsertBotConfig(ctx, cfg); err != nil {
			return fmt.Errorf("bootstrap: bot %s: %w", b.ID, err)
		}
	}
	log.Printf("bootstrap: %d bots loaded from %s", len(file.Bots), path)
	return nil
}

func (b bootstrapBot) toConfig(keys *crypto.KeyManager) (db.BotConfig, error) {
	if b.ID == "" || b.Owner == "" || b.Symbol == "" {
		return db.BotConfig{}, errors.New("id, owner and symbol are required")
	}

	params := "{}"
	if len(b.Params) > 0 {
		raw, err := json.Marshal(b.Params)
		if err != nil {
			return db.BotConfig{}, fmt.Errorf("encode params: %w", err)
		}
		params = string(raw)
	}

	cfg := db.BotConfig{
		ID:              b.ID,
		Owner:           b.Owner,
		Exchange:        defaultStr(b.Exchange, "binance"),
		Symbol:          b.Symbol,
		Interval:        defaultStr(b.Interval, "1m"),
		Strategy:        defaultStr(b.Strategy, "ma_cross"),
		Params:          params,
		StopLossPct:     b.StopLossPct,
		TakeProfits:     b.TakeProfits,
		TrailingEnabled: b.TrailingEnabled,
		TrailingPct:     b.TrailingPct,
		SizeValue:       b.SizeValue,
		SizeUnit:        defaultStr(b.SizeUnit, db.SizeUnitQuote),
		Paper:           b.Paper,
		IsActive:        b.Active,
	}

	if (b.APIKey != "" || b.APISecret != "") && keys == nil {
		return db.BotConfig{}, errors.New("credentials present but no credential key configured")
	}
	if b.APIKey != "" {
		enc, err := keys.Encrypt(b.APIKey)
		if err != nil {
			return db.BotConfig{}, fmt.Errorf("encrypt api key: %w", err)
		}
		cfg.APIKeyEnc = enc
	}
	if b.APISecret != "" {
		enc, err := keys.Encrypt(b.APISecret)
		if err != nil {
			return db.BotConfig{}, fmt.Errorf("encrypt api secret: %w", err)
		}
		cfg.APISecretEnc = enc
	}
	return cfg, nil
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
