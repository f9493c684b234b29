package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codraft/internal/cache"
	"codraft/internal/config"
	"codraft/internal/gitarchive"
	"codraft/internal/relay"
	"codraft/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	for _, version := range applied {
		log.Printf("applied migration %s", version)
	}

	dataStore := store.NewPostgresStore(db)

	redisStore, err := cache.NewRedisStore(cfg.RedisURL, cfg.DraftTTL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisStore.Close()

	var archive relay.Archiver
	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.Fatalf("failed to create archive dir: %v", err)
		}
		archive = gitarchive.New(cfg.ArchiveDir)
		log.Printf("git archive enabled at %s", cfg.ArchiveDir)
	}

	hub := relay.NewHub(redisStore)
	service := relay.NewService(dataStore, redisStore, archive, hub, []byte(cfg.TokenSecret), cfg.MaxDraftBytes)
	httpServer := relay.NewHTTPServer(service, hub, cfg.CORSOrigin, cfg.AccessTTL)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("codraft relay listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
