package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/vedran77/ripple/internal/config"
	"github.com/vedran77/ripple/internal/domain"
	"github.com/vedran77/ripple/internal/service"
	"github.com/vedran77/ripple/internal/store"
	memorystore "github.com/vedran77/ripple/internal/store/memory"
	postgresstore "github.com/vedran77/ripple/internal/store/postgres"
	remotestore "github.com/vedran77/ripple/internal/store/remote"
)

func main() {
	cfg := config.Load()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, uid, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("opening store", "backend", cfg.StoreBackend, "err", err)
	}
	defer cleanup()
	if uid == "" {
		log.Fatal("no user id: set USER_ID or provide a STORE_TOKEN with a subject")
	}
	log.Info("connected", "backend", cfg.StoreBackend, "user", uid)

	list := service.NewChatList()
	list.OnChange(func(conversations []domain.Conversation) {
		log.Info("chat list changed", "conversations", len(conversations))
		for _, c := range conversations {
			log.Debug("entry", "id", c.ID, "type", c.Type, "last", c.LastTimestamp())
		}
	})

	manager := service.NewSubscriptionManager(st, list, uid)
	if err := manager.Run(ctx); err != nil {
		log.Fatal("starting subscriptions", "err", err)
	}
	defer manager.Teardown()

	<-ctx.Done()
	log.Info("shutting down")
}

// openStore builds the configured backend and resolves the local user id.
func openStore(ctx context.Context, cfg *config.Config) (store.DocumentStore, string, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		st, err := postgresstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", nil, err
		}
		return st, cfg.UserID, st.Close, nil
	case "memory":
		return memorystore.New(), cfg.UserID, func() {}, nil
	default:
		client, err := remotestore.Dial(ctx, cfg.StoreURL, cfg.StoreToken)
		if err != nil {
			return nil, "", nil, err
		}
		uid := cfg.UserID
		if uid == "" {
			uid = client.UID()
		}
		return client, uid, client.Close, nil
	}
}
