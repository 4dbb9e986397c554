package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillshare/collab-engine/internal/api"
	"github.com/quillshare/collab-engine/internal/auth"
	"github.com/quillshare/collab-engine/internal/config"
	"github.com/quillshare/collab-engine/internal/docstore"
	"github.com/quillshare/collab-engine/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store: MongoDB when configured, in-memory otherwise.
	var store docstore.Store

	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mongoStore, err := docstore.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)

		cancel()

		if err != nil {
			log.Fatalf("mongodb: %v", err)
		}

		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = mongoStore.Close(closeCtx)
		}()

		store = mongoStore

		log.Printf("Using MongoDB document store (%s)", cfg.MongoDatabase)
	} else {
		store = docstore.NewMemoryStore()

		log.Print("Using in-memory document store")
	}

	// Access control: grant store by default, open access when configured.
	var (
		authz  auth.Authorizer
		grants auth.Store
	)

	if cfg.OpenAccess {
		authz = auth.AllowAll{}

		log.Print("Open access enabled: all participants may join all projects")
	} else {
		memGrants := auth.NewMemoryStore()
		authz = memGrants
		grants = memGrants
	}

	reg := registry.New(registry.Config{
		Auth:          authz,
		Store:         store,
		HistoryWindow: cfg.HistoryWindow,
		RetryBudget:   cfg.RetryBudget,
		QueueSize:     cfg.SendQueueSize,
		WriteTimeout:  cfg.WriteTimeout,
		IdleThreshold:   cfg.IdleThreshold,
		SweepInterval:   cfg.SweepInterval,
		PresenceTimeout: 2 * cfg.HeartbeatInterval,
	})
	defer reg.Close()

	go reg.Run(ctx)

	server := api.NewServer(api.ServerConfig{
		Registry:          reg,
		Store:             store,
		Auth:              authz,
		Grants:            grants,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendQueueSize:     cfg.SendQueueSize,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Printf("Starting server on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Print("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}
}
