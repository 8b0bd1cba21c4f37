package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/api"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/events"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/killswitch"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/manager"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/notify"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/stream"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/config"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/crypto"
	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
)

var buildVersion = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	// Credential keys are optional: a paper-only fleet runs without any.
	keys, err := crypto.NewKeyManager()
	if err != nil {
		log.Printf("credential keys unavailable, live trading disabled: %v", err)
		keys = nil
	}

	ctx := context.Background()
	if err := manager.Bootstrap(ctx, database, keys, cfg.BootstrapPath); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	guard := killswitch.NewGuard(killswitch.NewSQLStore(database))
	bus := events.NewBus()

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}

	streams := stream.NewRegistry(cfg.ReconnectDelay, cfg.ReadTimeout)

	mgr := manager.New(manager.Deps{
		Store:               database,
		Streams:             streams,
		Keys:                keys,
		Guard:               guard,
		Bus:                 bus,
		Notifier:            notifier,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		PollInterval:        cfg.PollInterval,
		ReconnectDelay:      cfg.ReconnectDelay,
		PaperInitialBalance: cfg.PaperInitialBalance,
	})

	if cfg.AutostartActive {
		mgr.StartActive(ctx)
	}

	server := api.NewServer(mgr, guard, streams, bus, buildVersion)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()
	log.Printf("bot core %s listening on :%s", buildVersion, cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	// Engines stop before their streams so no tick races a closing bot.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
}
