package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot core.
type Config struct {
	Port   string
	DBPath string

	// Fleet bootstrap file; bots listed there are upserted on startup.
	BootstrapPath string

	// Streaming
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration

	// Engine
	HeartbeatInterval time.Duration
	PollInterval      time.Duration // REST fallback tick interval

	// Paper trading
	PaperInitialBalance float64

	// Notifications
	NotifyWebhookURL string

	// Restart behavior: start every bot flagged active in storage.
	AutostartActive bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/botcore.db")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              dbPath,
		BootstrapPath:       getEnv("BOTS_FILE", "bots.yaml"),
		ReconnectDelay:      getEnvDuration("STREAM_RECONNECT_DELAY", 5*time.Second),
		ReadTimeout:         getEnvDuration("STREAM_READ_TIMEOUT", 60*time.Second),
		HeartbeatInterval:   getEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PaperInitialBalance: getEnvFloat("PAPER_INITIAL_BALANCE", 10000.0),
		NotifyWebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
		AutostartActive:     getEnv("AUTOSTART_ACTIVE", "true") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
