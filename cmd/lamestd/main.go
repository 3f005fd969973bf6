package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fahmiardi/lamestnews/internal/config"
	"github.com/fahmiardi/lamestnews/internal/database"
)

// lamestd boots the engine against the configured store and keeps it
// available for the web layer embedding it. The HTTP surface lives
// outside this repository; this process only proves the wiring.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewRedisDB(cfg)
	if err != nil {
		log.Fatalf("Store connection failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if items, err := db.GetLatestNews(ctx, nil, 0, 1); err == nil {
		log.Printf("Engine ready on %s (%d recent items visible)", cfg.Store.Addr, len(items))
	} else {
		log.Printf("Engine ready on %s (latest news probe failed: %v)", cfg.Store.Addr, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	requests, errors, uptime := db.Metrics.Snapshot()
	log.Printf("Shutting down after %s (%d requests, %d errors)", uptime, requests, errors)
}
